package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"betabae/cmd/identity"
	"betabae/cmd/internal/chat"
	"betabae/cmd/internal/session"
	v1 "betabae/shared/contracts/chat/v1"
)

const (
	wsSubprotocolV1 = "betabae.chat.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// WSGateway is the WebSocket entrypoint for live conversation delivery.
//
// It authenticates the connection against the session oracle, enforces origin
// policy, subprotocol selection, rate limits and heartbeats, and routes
// validated envelopes to the chat dispatcher and the room hub. Event failures
// are answered with a structured result envelope; only protocol violations
// (bad origin, rate limit, dead peer) terminate the connection.
type WSGateway struct {
	log      *slog.Logger
	hub      *Hub
	chat     *chat.Service
	sessions session.Oracle
	users    identity.Store

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewWSGateway constructs a gateway with secure defaults.
func NewWSGateway(log *slog.Logger, hub *Hub, chatSvc *chat.Service, sessions session.Oracle, users identity.Store) (*WSGateway, error) {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if chatSvc == nil || sessions == nil || users == nil {
		return nil, errors.New("realtime: nil dependency")
	}
	if hub == nil {
		hub = NewHub(log)
	}

	g := &WSGateway{log: log, hub: hub, chat: chatSvc, sessions: sessions, users: users}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("BAE_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("BAE_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("BAE_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("BAE_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("BAE_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("BAE_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("BAE_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("BAE_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("BAE_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("BAE_WS_RATE_WINDOW", rateLimitWindow)

	return g, nil
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS authenticates, upgrades and runs the realtime loop for one connection.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// Authentication happens before the upgrade: an unidentified peer never
	// gets a socket, matching the connect-or-terminate contract.
	ident, err := g.authenticate(r)
	if err != nil {
		g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	sessionID := NewRandomHex(10)
	client := NewClient(sessionID, ident.UserID, g.sendQueueSize)

	senderName := ident.Username
	if u, err := g.users.GetByID(r.Context(), ident.UserID); err == nil {
		senderName = u.DisplayName
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	wsConnections.Inc()
	defer wsConnections.Dec()

	// Every connection sits in its owner's private room for the whole session,
	// so notifications reach the user without any explicit join.
	userRoom := UserRoom(ident.UserID)
	g.hub.Join(userRoom, client)

	joined := make(map[string]struct{}) // conversation ids

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send.
	// Broadcast safety: client.Send remains open and membership removal happens before client.Close.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			for convID := range joined {
				g.hub.Leave(ConversationRoom(convID), sessionID)
			}
			g.hub.Leave(userRoom, sessionID)

			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	g.log.Info("ws.connect", "session_id", sessionID, "user_id", ident.UserID)

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.tryResult(ctx, client, "", false, "invalid JSON", nil)
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.tryResult(ctx, client, env.Type, false, "too many events", nil)
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.tryResult(ctx, client, env.Type, false, err.Error(), nil)
			continue readLoop
		}

		wsEvents.WithLabelValues(env.Type).Inc()

		switch env.Type {
		case v1.TypeJoinRoom:
			g.onJoinRoom(ctx, ident, client, joined, env)

		case v1.TypeLeaveRoom:
			g.onLeaveRoom(ctx, client, joined, env)

		case v1.TypeSendMessage:
			g.onSendMessage(ctx, ident, senderName, client, joined, env)

		default:
			// result/newMessage/messageNotification are server -> client only.
			g.tryResult(ctx, client, env.Type, false, fmt.Sprintf("clients may not send %s", env.Type), nil)
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}

	g.log.Info("ws.disconnect", "session_id", sessionID, "user_id", ident.UserID)
}

func (g *WSGateway) authenticate(r *http.Request) (session.Identity, error) {
	c, err := r.Cookie(session.CookieName)
	if err != nil || strings.TrimSpace(c.Value) == "" {
		return session.Identity{}, errors.New("missing session cookie")
	}

	ident, err := g.sessions.Resolve(r.Context(), c.Value)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return session.Identity{}, errors.New("session expired or unknown")
		}
		return session.Identity{}, fmt.Errorf("session oracle: %w", err)
	}
	return ident, nil
}

// ---- handlers ----

func (g *WSGateway) onJoinRoom(ctx context.Context, ident session.Identity, client *Client, joined map[string]struct{}, env v1.Envelope) {
	var p v1.JoinRoomPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.tryResult(ctx, client, v1.TypeJoinRoom, false, "invalid payload", nil)
		return
	}

	convID := strings.TrimSpace(p.ConversationID)
	if convID == "" {
		g.tryResult(ctx, client, v1.TypeJoinRoom, false, "missing conversation_id", nil)
		return
	}

	info, err := g.chat.Conversation(ctx, ident.UserID, convID)
	if err != nil {
		g.tryResult(ctx, client, v1.TypeJoinRoom, false, joinFailMessage(err), nil)
		return
	}

	// Automated conversations are synchronous request/reply over HTTP; there
	// is nothing to deliver live, so their rooms do not exist.
	if info.Type != chat.TypeRealBae {
		g.tryResult(ctx, client, v1.TypeJoinRoom, false, "realtime is not available for automated conversations", nil)
		return
	}

	g.hub.Join(ConversationRoom(convID), client)
	joined[convID] = struct{}{}

	// Joining the room is opening the conversation: the member's unread state
	// is cleared so badges do not survive into an open thread.
	if _, err := g.chat.MarkRead(ctx, ident.UserID, convID); err != nil {
		g.log.Warn("ws.join.markread.fail", "conversation_id", convID, "user_id", ident.UserID, "err", err)
	}

	g.tryResult(ctx, client, v1.TypeJoinRoom, true, "", nil)
}

func (g *WSGateway) onLeaveRoom(ctx context.Context, client *Client, joined map[string]struct{}, env v1.Envelope) {
	var p v1.LeaveRoomPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.tryResult(ctx, client, v1.TypeLeaveRoom, false, "invalid payload", nil)
		return
	}

	convID := strings.TrimSpace(p.ConversationID)
	if _, ok := joined[convID]; !ok {
		g.tryResult(ctx, client, v1.TypeLeaveRoom, false, "not joined", nil)
		return
	}

	g.hub.Leave(ConversationRoom(convID), client.SessionID)
	delete(joined, convID)
	g.tryResult(ctx, client, v1.TypeLeaveRoom, true, "", nil)
}

func (g *WSGateway) onSendMessage(ctx context.Context, ident session.Identity, senderName string, client *Client, joined map[string]struct{}, env v1.Envelope) {
	var p v1.SendMessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.tryResult(ctx, client, v1.TypeSendMessage, false, "invalid payload", nil)
		return
	}

	convID := strings.TrimSpace(p.ConversationID)
	if _, ok := joined[convID]; !ok {
		g.tryResult(ctx, client, v1.TypeSendMessage, false, "join the room first", nil)
		return
	}

	text := strings.TrimSpace(p.MessageText)
	if text == "" {
		g.tryResult(ctx, client, v1.TypeSendMessage, false, "empty message_text", nil)
		return
	}
	if len([]rune(text)) > maxMessageChars {
		g.tryResult(ctx, client, v1.TypeSendMessage, false, fmt.Sprintf("message too long: max=%d chars", maxMessageChars), nil)
		return
	}

	out, err := g.chat.SendText(ctx, ident.UserID, convID, text)
	if err != nil {
		g.tryResult(ctx, client, v1.TypeSendMessage, false, sendFailMessage(err), nil)
		return
	}

	// Fanout covers the conversation room plus the counterpart's private room,
	// whether or not they are looking at this conversation.
	g.hub.PublishMessage(out.Conversation, ident.UserID, senderName, out.Message)

	body := messageBody(out.Message, senderName)
	g.tryResult(ctx, client, v1.TypeSendMessage, true, "", &body)
}

func joinFailMessage(err error) string {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		return "conversation not found"
	case errors.Is(err, chat.ErrUnauthorized):
		return "not a party to this conversation"
	case errors.Is(err, chat.ErrInvalidInput):
		return "invalid conversation_id"
	default:
		return "internal error"
	}
}

func sendFailMessage(err error) string {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		return "conversation not found"
	case errors.Is(err, chat.ErrUnauthorized):
		return "not a party to this conversation"
	case errors.Is(err, chat.ErrUnsupportedType):
		return "conversation type does not support realtime messages"
	case errors.Is(err, chat.ErrInvalidInput):
		return "invalid message"
	case errors.Is(err, chat.ErrBotUnavailable):
		return "responder unavailable"
	default:
		return "internal error"
	}
}

func messageBody(m chat.Message, senderName string) v1.MessageBody {
	return v1.MessageBody{
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderName:     senderName,
		MessageText:    m.Text,
		SentAt:         m.SentAt,
		IsRead:         m.IsRead,
		ReadAt:         m.ReadAt,
		AttachmentURL:  m.AttachmentURL,
	}
}

// ---- send helpers ----

func (g *WSGateway) tryResult(ctx context.Context, client *Client, op string, success bool, msg string, data *v1.MessageBody) {
	p, _ := json.Marshal(v1.ResultPayload{Op: op, Success: success, Message: msg, Data: data})
	env := newEnvelope(v1.TypeResult, p, time.Now().UTC())
	_ = g.enqueue(ctx, client, env)
}

func (g *WSGateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// ---- envelope IO ----

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      NewRandomHex(10),
		TS:      ts,
		Payload: payload,
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// JSON decode errors are typically returned by json.Unmarshal, not conn.Read.
	// This fallback exists for robustness when error strings are propagated.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using filepath.Match patterns.
	// We keep this strict: only hosts extracted from allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	// Stable in-file sort (avoid importing sort just for this).
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
