package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"betabae/cmd/identity"
	"betabae/cmd/identity/ids"
	"betabae/cmd/internal/chat"
	"betabae/cmd/internal/match"
	"betabae/cmd/internal/media"
	"betabae/cmd/internal/session"
	v1 "betabae/shared/contracts/chat/v1"
)

type gwHarness struct {
	gateway  *WSGateway
	server   *httptest.Server
	users    identity.Store
	matches  match.Store
	store    *chat.MemoryStore
	unread   *chat.MemoryUnreadCounter
	sessions *session.MemoryOracle
	chat     *chat.Service
}

type stubBot struct{}

func (stubBot) Reply(_ context.Context, _ string) (string, error) { return "ok", nil }

func newGWHarness(t *testing.T) *gwHarness {
	t.Helper()
	t.Setenv("BAE_WS_ORIGIN_REQUIRED", "false")

	users := identity.NewMemoryStore()
	matches := match.NewMemoryStore()
	store := chat.NewMemoryStore(matches)
	unread := chat.NewMemoryUnreadCounter()
	sessions := session.NewMemoryOracle()
	log := testLogger()

	chatSvc, err := chat.NewService(log, users, store, unread, stubBot{}, media.NewMemoryStore())
	if err != nil {
		t.Fatalf("chat service: %v", err)
	}

	gw, err := NewWSGateway(log, NewHub(log), chatSvc, sessions, users)
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}

	ts := httptest.NewServer(gw)
	t.Cleanup(ts.Close)

	return &gwHarness{
		gateway:  gw,
		server:   ts,
		users:    users,
		matches:  matches,
		store:    store,
		unread:   unread,
		sessions: sessions,
		chat:     chatSvc,
	}
}

func (h *gwHarness) mustUser(t *testing.T, username string) (identity.User, string) {
	t.Helper()
	ctx := context.Background()

	u, err := h.users.CreateUser(ctx, identity.CreateUserInput{
		Username:       username,
		DisplayName:    username,
		CredentialHash: "$argon2id$stub",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	token := "tok-" + username
	if err := h.sessions.Put(ctx, token, session.Identity{UserID: u.ID, Username: u.Username}, time.Hour); err != nil {
		t.Fatalf("put session: %v", err)
	}
	return u, token
}

func (h *gwHarness) mustConversation(t *testing.T, typ chat.Type, a, b identity.User) string {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	id, err := ids.NewULID(now)
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	m, err := h.matches.Create(ctx, match.Match{
		ID:               id,
		RequesterID:      a.ID,
		RequestedID:      b.ID,
		Status:           match.StatusAccepted,
		RequesterConsent: true,
		RequestedConsent: true,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		t.Fatalf("create match: %v", err)
	}

	convID, err := h.chat.CreateForMatch(ctx, m.ID, string(typ), now)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return convID
}

func (h *gwHarness) dial(t *testing.T, ctx context.Context, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	header := http.Header{}
	if token != "" {
		header.Set("Cookie", session.CookieName+"="+token)
	}
	return websocket.Dial(ctx, h.server.URL, &websocket.DialOptions{
		Subprotocols: []string{wsSubprotocolV1},
		HTTPHeader:   header,
	})
}

func (h *gwHarness) mustDial(t *testing.T, ctx context.Context, token string) *websocket.Conn {
	t.Helper()

	conn, resp, err := h.dial(t, ctx, token)
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func sendEvent(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string, payload any) {
	t.Helper()

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	env := v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      NewRandomHex(10),
		TS:      time.Now().UTC(),
		Payload: raw,
	}
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil drains envelopes until one of the wanted type arrives.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string) v1.Envelope {
	t.Helper()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read while waiting for %s: %v", typ, err)
		}
		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if env.Type == typ {
			return env
		}
	}
}

func readResult(t *testing.T, ctx context.Context, conn *websocket.Conn) v1.ResultPayload {
	t.Helper()

	env := readUntil(t, ctx, conn, v1.TypeResult)
	var p v1.ResultPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	return p
}

func TestWSGateway_RejectsMissingAndUnknownSessions(t *testing.T) {
	h := newGWHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, token := range []string{"", "no-such-token"} {
		_, resp, err := h.dial(t, ctx, token)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err == nil {
			t.Fatalf("token %q: expected handshake failure", token)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			t.Fatalf("token %q: expected 401, got status=%d err=%v", token, status, err)
		}
	}
}

func TestWSGateway_JoinSendDeliver(t *testing.T) {
	h := newGWHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, tokA := h.mustUser(t, "ada")
	b, tokB := h.mustUser(t, "ben")
	convID := h.mustConversation(t, chat.TypeRealBae, a, b)

	connA := h.mustDial(t, ctx, tokA)
	connB := h.mustDial(t, ctx, tokB)

	for _, conn := range []*websocket.Conn{connA, connB} {
		sendEvent(t, ctx, conn, v1.TypeJoinRoom, v1.JoinRoomPayload{ConversationID: convID})
		if res := readResult(t, ctx, conn); !res.Success {
			t.Fatalf("join failed: %s", res.Message)
		}
	}

	sendEvent(t, ctx, connA, v1.TypeSendMessage, v1.SendMessagePayload{ConversationID: convID, MessageText: "hello ben"})

	res := readResult(t, ctx, connA)
	if !res.Success {
		t.Fatalf("send failed: %s", res.Message)
	}
	if res.Data == nil || res.Data.MessageText != "hello ben" || res.Data.SenderID != a.ID {
		t.Fatalf("send result data = %+v", res.Data)
	}

	env := readUntil(t, ctx, connB, v1.TypeNewMessage)
	var nm v1.NewMessagePayload
	if err := json.Unmarshal(env.Payload, &nm); err != nil {
		t.Fatalf("unmarshal newMessage: %v", err)
	}
	if nm.Message.MessageText != "hello ben" || nm.Message.ConversationID != convID {
		t.Fatalf("newMessage = %+v", nm.Message)
	}

	notif := readUntil(t, ctx, connB, v1.TypeMessageNotification)
	var np v1.MessageNotificationPayload
	if err := json.Unmarshal(notif.Payload, &np); err != nil {
		t.Fatalf("unmarshal notification: %v", err)
	}
	if np.ConversationID != convID {
		t.Fatalf("notification conversation = %q, want %q", np.ConversationID, convID)
	}
}

func TestWSGateway_NotificationReachesUserWithoutJoin(t *testing.T) {
	h := newGWHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, tokA := h.mustUser(t, "ada")
	b, tokB := h.mustUser(t, "ben")
	convID := h.mustConversation(t, chat.TypeRealBae, a, b)

	connA := h.mustDial(t, ctx, tokA)
	connB := h.mustDial(t, ctx, tokB) // connected, but never joins the room

	sendEvent(t, ctx, connA, v1.TypeJoinRoom, v1.JoinRoomPayload{ConversationID: convID})
	if res := readResult(t, ctx, connA); !res.Success {
		t.Fatalf("join failed: %s", res.Message)
	}

	sendEvent(t, ctx, connA, v1.TypeSendMessage, v1.SendMessagePayload{ConversationID: convID, MessageText: "you there?"})
	if res := readResult(t, ctx, connA); !res.Success {
		t.Fatalf("send failed: %s", res.Message)
	}

	notif := readUntil(t, ctx, connB, v1.TypeMessageNotification)
	var np v1.MessageNotificationPayload
	if err := json.Unmarshal(notif.Payload, &np); err != nil {
		t.Fatalf("unmarshal notification: %v", err)
	}
	if np.Message.MessageText != "you there?" {
		t.Fatalf("notification text = %q", np.Message.MessageText)
	}

	n, err := h.unread.Get(ctx, b.ID, convID)
	if err != nil {
		t.Fatalf("get unread: %v", err)
	}
	if n != 1 {
		t.Fatalf("unread for absent recipient = %d, want 1", n)
	}
}

func TestWSGateway_JoinRejectsAutomatedAndForeignConversations(t *testing.T) {
	h := newGWHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, tokA := h.mustUser(t, "ada")
	b, _ := h.mustUser(t, "ben")
	c, tokC := h.mustUser(t, "cyn")
	betaConv := h.mustConversation(t, chat.TypeBetaBae, a, b)
	realConv := h.mustConversation(t, chat.TypeRealBae, a, b)

	connA := h.mustDial(t, ctx, tokA)
	sendEvent(t, ctx, connA, v1.TypeJoinRoom, v1.JoinRoomPayload{ConversationID: betaConv})
	if res := readResult(t, ctx, connA); res.Success {
		t.Fatalf("joining an automated conversation must fail")
	}

	// The failure is an event result, not a connection fault: the same socket
	// keeps working.
	sendEvent(t, ctx, connA, v1.TypeJoinRoom, v1.JoinRoomPayload{ConversationID: realConv})
	if res := readResult(t, ctx, connA); !res.Success {
		t.Fatalf("join after rejected join failed: %s", res.Message)
	}

	connC := h.mustDial(t, ctx, tokC)
	sendEvent(t, ctx, connC, v1.TypeJoinRoom, v1.JoinRoomPayload{ConversationID: realConv})
	if res := readResult(t, ctx, connC); res.Success {
		t.Fatalf("outsider %s joined a foreign conversation", c.Username)
	}
}

func TestWSGateway_SendRequiresJoin(t *testing.T) {
	h := newGWHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, tokA := h.mustUser(t, "ada")
	b, _ := h.mustUser(t, "ben")
	convID := h.mustConversation(t, chat.TypeRealBae, a, b)

	connA := h.mustDial(t, ctx, tokA)
	sendEvent(t, ctx, connA, v1.TypeSendMessage, v1.SendMessagePayload{ConversationID: convID, MessageText: "hi"})
	if res := readResult(t, ctx, connA); res.Success {
		t.Fatalf("send without join must fail")
	}
}

func TestWSGateway_JoinMarksConversationRead(t *testing.T) {
	h := newGWHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, _ := h.mustUser(t, "ada")
	b, tokB := h.mustUser(t, "ben")
	convID := h.mustConversation(t, chat.TypeRealBae, a, b)

	if _, err := h.chat.SendText(ctx, a.ID, convID, "waiting for you"); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	if n, _ := h.unread.Get(ctx, b.ID, convID); n != 1 {
		t.Fatalf("seed unread = %d, want 1", n)
	}

	connB := h.mustDial(t, ctx, tokB)
	sendEvent(t, ctx, connB, v1.TypeJoinRoom, v1.JoinRoomPayload{ConversationID: convID})
	if res := readResult(t, ctx, connB); !res.Success {
		t.Fatalf("join failed: %s", res.Message)
	}

	if n, _ := h.unread.Get(ctx, b.ID, convID); n != 0 {
		t.Fatalf("unread after join = %d, want 0", n)
	}
}
