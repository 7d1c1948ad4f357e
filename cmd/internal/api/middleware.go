package api

import (
	"errors"
	"net/http"
	"strings"

	"betabae/cmd/internal/session"
)

// sessionHandler is an authenticated endpoint: it receives the resolved
// identity alongside the request.
type sessionHandler func(w http.ResponseWriter, r *http.Request, ident session.Identity)

// withSession resolves the session cookie against the oracle before invoking
// next. Unresolvable tokens get a 401; oracle outages get a 503 so clients
// can tell "log in again" from "retry later".
func (h *Handler) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(session.CookieName)
		if err != nil || strings.TrimSpace(c.Value) == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing session")
			return
		}

		ident, err := h.sessions.Resolve(r.Context(), c.Value)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "session expired or unknown")
				return
			}
			h.log.Error("api.session.resolve.fail", "err", err)
			writeError(w, http.StatusServiceUnavailable, "SERVER_BUSY", "please retry later")
			return
		}

		next(w, r, ident)
	}
}
