package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"betabae/cmd/identity"
	"betabae/cmd/internal/chat"
	"betabae/cmd/internal/match"
	"betabae/cmd/internal/media"
	"betabae/cmd/internal/session"
)

// MessagePublisher pushes persisted human messages to open websockets. The
// realtime hub satisfies it; a nil publisher means HTTP-only delivery.
type MessagePublisher interface {
	PublishMessage(conv chat.ConversationInfo, senderID, senderName string, m chat.Message)
}

// Handler wires the HTTP surface to the identity, session, match and chat
// services.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	users    identity.Store
	sessions session.Oracle
	matches  *match.Service
	chat     *chat.Service

	publisher MessagePublisher

	// dummyHash makes login timing independent of username existence.
	dummyHash string
}

// HandlerOption configures optional Handler dependencies.
type HandlerOption func(*Handler)

// WithPublisher routes HTTP-sent messages to the realtime hub.
func WithPublisher(p MessagePublisher) HandlerOption {
	return func(h *Handler) {
		if h != nil && p != nil {
			h.publisher = p
		}
	}
}

// NewHandler constructs the HTTP handler.
func NewHandler(log *slog.Logger, cfg Config, users identity.Store, sessions session.Oracle, matches *match.Service, chatSvc *chat.Service, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if users == nil || sessions == nil || matches == nil || chatSvc == nil {
		return nil, errors.New("api: nil dependency")
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		users:    users,
		sessions: sessions,
		matches:  matches,
		chat:     chatSvc,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}

	if hash, err := identity.HashPassword("dummy-password-for-timing-only", identity.DefaultArgon2idParams()); err == nil {
		h.dummyHash = hash
	}
	return h, nil
}

// Register wires routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}

	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/logout", h.withSession(h.handleLogout))
	mux.HandleFunc("POST /auth/password", h.withSession(h.handleChangePassword))
	mux.HandleFunc("GET /me", h.withSession(h.handleMe))

	mux.HandleFunc("POST /match", h.withSession(h.handleMatchCreate))
	mux.HandleFunc("GET /match", h.withSession(h.handleMatchAll))
	mux.HandleFunc("GET /match/received", h.withSession(h.handleMatchReceived))
	mux.HandleFunc("POST /match/{id}/accept", h.withSession(h.handleMatchAccept))
	mux.HandleFunc("POST /match/{id}/reject", h.withSession(h.handleMatchReject))

	mux.HandleFunc("GET /chat/conversations", h.withSession(h.handleConversations))
	mux.HandleFunc("GET /chat/conversations/{id}", h.withSession(h.handleConversation))
	mux.HandleFunc("GET /chat/conversations/{id}/messages", h.withSession(h.handleMessages))
	mux.HandleFunc("POST /chat/conversations/{id}/messages/text", h.withSession(h.handleSendText))
	mux.HandleFunc("POST /chat/conversations/{id}/messages/image", h.withSession(h.handleSendImage))
	mux.HandleFunc("POST /chat/conversations/{id}/analysis", h.withSession(h.handleAnalysis))
}

// ---- auth ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}

	if err := identity.ValidateNewUser(req.Username, req.DisplayName); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid username or display name")
		return
	}

	hash, err := identity.HashPassword(req.Password, identity.DefaultArgon2idParams())
	if err != nil {
		if errors.Is(err, identity.ErrPasswordTooShort) || errors.Is(err, identity.ErrPasswordTooLong) {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "password length out of bounds")
			return
		}
		h.log.Error("api.register.hash.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "internal error")
		return
	}

	ctx := r.Context()
	u, err := h.users.CreateUser(ctx, identity.CreateUserInput{
		Username:       req.Username,
		DisplayName:    req.DisplayName,
		CredentialHash: hash,
		Now:            time.Now().UTC(),
	})
	if err != nil {
		if identity.IsConflict(err) {
			writeError(w, http.StatusConflict, "USERNAME_TAKEN", "username already exists")
			return
		}
		if errors.Is(err, identity.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid input")
			return
		}
		h.log.Error("api.register.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "internal error")
		return
	}

	if !h.issueSession(w, r, u) {
		return
	}

	h.log.Info("api.register", "user_id", u.ID, "username", u.Username)
	writeJSON(w, http.StatusCreated, authResponse{User: toUserResponse(u)})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "username and password are required")
		return
	}

	ctx := r.Context()
	u, err := h.users.GetByUsername(ctx, req.Username)
	if err != nil {
		// Timing resistance: perform a dummy verify when the user is missing.
		if identity.IsNotFound(err) {
			if h.dummyHash != "" {
				_, _ = identity.VerifyPassword(req.Password, h.dummyHash)
			}
			writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials")
			return
		}
		h.log.Error("api.login.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "internal error")
		return
	}

	ok, err := identity.VerifyPassword(req.Password, u.CredentialHash)
	if err != nil || !ok {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials")
		return
	}

	if !h.issueSession(w, r, u) {
		return
	}

	h.log.Info("api.login", "user_id", u.ID)
	writeJSON(w, http.StatusOK, authResponse{User: toUserResponse(u)})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request, ident session.Identity) {
	if c, err := r.Cookie(session.CookieName); err == nil {
		if err := h.sessions.Delete(r.Context(), c.Value); err != nil && !errors.Is(err, session.ErrNotFound) {
			h.log.Error("api.logout.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "internal error")
			return
		}
	}

	h.clearSessionCookie(w)
	h.log.Info("api.logout", "user_id", ident.UserID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request, ident session.Identity) {
	var req changePasswordRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}

	ctx := r.Context()
	u, err := h.users.GetByID(ctx, ident.UserID)
	if err != nil {
		h.log.Error("api.password.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "internal error")
		return
	}

	ok, err := identity.VerifyPassword(req.CurrentPassword, u.CredentialHash)
	if err != nil || !ok {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "current password is wrong")
		return
	}

	hash, err := identity.HashPassword(req.NewPassword, identity.DefaultArgon2idParams())
	if err != nil {
		if errors.Is(err, identity.ErrPasswordTooShort) || errors.Is(err, identity.ErrPasswordTooLong) {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "password length out of bounds")
			return
		}
		h.log.Error("api.password.hash.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "internal error")
		return
	}

	if err := h.users.UpdateCredential(ctx, u.ID, hash, time.Now().UTC()); err != nil {
		h.log.Error("api.password.update.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "internal error")
		return
	}

	h.log.Info("api.password.change", "user_id", u.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request, ident session.Identity) {
	u, err := h.users.GetByID(r.Context(), ident.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "user not found")
			return
		}
		h.log.Error("api.me.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, authResponse{User: toUserResponse(u)})
}

func (h *Handler) issueSession(w http.ResponseWriter, r *http.Request, u identity.User) bool {
	token, err := newSessionToken()
	if err != nil {
		h.log.Error("api.session.token.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "internal error")
		return false
	}

	ident := session.Identity{UserID: u.ID, Username: u.Username}
	if err := h.sessions.Put(r.Context(), token, ident, h.cfg.SessionTTL); err != nil {
		h.log.Error("api.session.put.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "SERVER_BUSY", "please retry later")
		return false
	}

	h.setSessionCookie(w, token, time.Now().UTC().Add(h.cfg.SessionTTL))
	return true
}

// ---- match ----

func (h *Handler) handleMatchCreate(w http.ResponseWriter, r *http.Request, ident session.Identity) {
	var req createMatchRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}

	m, err := h.matches.Create(r.Context(), ident.UserID, req.RequestedID, time.Now().UTC())
	if err != nil {
		h.writeMatchError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMatchResponse(m))
}

func (h *Handler) handleMatchAll(w http.ResponseWriter, r *http.Request, ident session.Identity) {
	ms, err := h.matches.All(r.Context(), ident.UserID)
	if err != nil {
		h.writeMatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMatchListResponse(ms))
}

func (h *Handler) handleMatchReceived(w http.ResponseWriter, r *http.Request, ident session.Identity) {
	ms, err := h.matches.Received(r.Context(), ident.UserID)
	if err != nil {
		h.writeMatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMatchListResponse(ms))
}

func (h *Handler) handleMatchAccept(w http.ResponseWriter, r *http.Request, ident session.Identity) {
	m, err := h.matches.Accept(r.Context(), ident.UserID, r.PathValue("id"), time.Now().UTC())
	if err != nil {
		h.writeMatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMatchResponse(m))
}

func (h *Handler) handleMatchReject(w http.ResponseWriter, r *http.Request, ident session.Identity) {
	m, err := h.matches.Reject(r.Context(), ident.UserID, r.PathValue("id"), time.Now().UTC())
	if err != nil {
		h.writeMatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMatchResponse(m))
}

// ---- chat ----

func (h *Handler) handleConversations(w http.ResponseWriter, r *http.Request, ident session.Identity) {
	list, err := h.chat.Conversations(r.Context(), ident.UserID)
	if err != nil {
		h.writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationListResponse(list))
}

func (h *Handler) handleConversation(w http.ResponseWriter, r *http.Request, ident session.Identity) {
	info, err := h.chat.Conversation(r.Context(), ident.UserID, r.PathValue("id"))
	if err != nil {
		h.writeChatError(w, err)
		return
	}

	resp := conversationResponse{
		ID:        info.ID,
		MatchID:   info.MatchID,
		Type:      string(info.Type),
		PartnerID: info.Counterpart(ident.UserID),
		CreatedAt: info.CreatedAt,
		UpdatedAt: info.UpdatedAt,
	}
	if u, err := h.users.GetByID(r.Context(), resp.PartnerID); err == nil {
		resp.PartnerName = u.DisplayName
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request, ident session.Identity) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	before := r.URL.Query().Get("before")

	msgs, err := h.chat.Messages(r.Context(), ident.UserID, r.PathValue("id"), limit, before)
	if err != nil {
		h.writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageListResponse(msgs))
}

func (h *Handler) handleSendText(w http.ResponseWriter, r *http.Request, ident session.Identity) {
	var req sendTextRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}

	out, err := h.chat.SendText(r.Context(), ident.UserID, r.PathValue("id"), req.MessageText)
	if err != nil {
		h.writeChatError(w, err)
		return
	}

	h.publishIfLive(r, ident, out)
	writeJSON(w, http.StatusCreated, toSendMessageResponse(out))
}

func (h *Handler) handleSendImage(w http.ResponseWriter, r *http.Request, ident session.Identity) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.cfg.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid multipart body")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "image file is required")
		return
	}
	defer func() { _ = file.Close() }()

	out, err := h.chat.SendImage(
		r.Context(),
		ident.UserID,
		r.PathValue("id"),
		file,
		header.Header.Get("Content-Type"),
		header.Filename,
		r.FormValue("caption"),
	)
	if err != nil {
		h.writeChatError(w, err)
		return
	}

	h.publishIfLive(r, ident, out)
	writeJSON(w, http.StatusCreated, toSendMessageResponse(out))
}

func (h *Handler) handleAnalysis(w http.ResponseWriter, r *http.Request, ident session.Identity) {
	var req analyzeChatRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}

	res, err := h.chat.Analyze(r.Context(), ident.UserID, r.PathValue("id"), req.MessageID)
	if err != nil {
		h.writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysisResponse{Analysis: res.Analysis, LLMRawResponse: res.Raw})
}

// publishIfLive fans an HTTP-sent human message out to open websockets.
// Automated exchanges stay request/reply and are never pushed.
func (h *Handler) publishIfLive(r *http.Request, ident session.Identity, out chat.SendOutcome) {
	if h.publisher == nil || out.Conversation.Type != chat.TypeRealBae {
		return
	}

	senderName := ident.Username
	if u, err := h.users.GetByID(r.Context(), ident.UserID); err == nil {
		senderName = u.DisplayName
	}
	h.publisher.PublishMessage(out.Conversation, ident.UserID, senderName, out.Message)
}

// ---- error mapping ----

func (h *Handler) writeMatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, match.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "requested user does not exist")
	case errors.Is(err, match.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "MATCH_ALREADY_EXISTS", "a match already links these users")
	case errors.Is(err, match.ErrNotFound):
		writeError(w, http.StatusNotFound, "MATCH_NOT_FOUND", "match does not exist")
	case errors.Is(err, match.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "UNAUTHORIZED_MATCH_ACTION", "only the requested user may act on this match")
	case errors.Is(err, match.ErrInvalidStatus):
		writeError(w, http.StatusConflict, "INVALID_MATCH_STATUS", "match is not pending")
	case errors.Is(err, match.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid input")
	case errors.Is(err, chat.ErrUnsupportedType):
		writeError(w, http.StatusBadRequest, "UNSUPPORTED_CONVERSATION_TYPE", "unsupported conversation type")
	default:
		h.log.Error("api.match.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "internal error")
	}
}

func (h *Handler) writeChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		writeError(w, http.StatusNotFound, "CONVERSATION_NOT_FOUND", "conversation does not exist")
	case errors.Is(err, chat.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, "MESSAGE_NOT_FOUND", "message does not exist in this conversation")
	case errors.Is(err, chat.ErrAnalysisAttachment):
		writeError(w, http.StatusBadRequest, "CHAT_ANALYSIS_FILE_NOT_SUPPORTED", "attachment messages are not supported for analysis")
	case errors.Is(err, chat.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "UNAUTHORIZED_CONVERSATION_ACCESS", "not a party to this conversation")
	case errors.Is(err, chat.ErrUnsupportedType):
		writeError(w, http.StatusBadRequest, "UNSUPPORTED_CONVERSATION_TYPE", "operation not defined for this conversation type")
	case errors.Is(err, chat.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid input")
	case errors.Is(err, chat.ErrBotUnavailable):
		writeError(w, http.StatusBadGateway, "LLM_UNAVAILABLE", "automated responder unavailable")
	case errors.Is(err, media.ErrUploadFailed), errors.Is(err, media.ErrInvalidInput):
		writeError(w, http.StatusBadGateway, "MEDIA_UPLOAD_FAILED", "attachment upload failed")
	default:
		h.log.Error("api.chat.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "internal error")
	}
}
