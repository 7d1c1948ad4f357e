// Package main provides a CI-friendly smoke test for betabae realtime.
//
// It validates, against a running server:
//   - registration + session cookie issuance over HTTP
//   - match create + accept creating exactly one conversation
//   - WS handshake + subprotocol selection with the session cookie
//   - joinRoom -> result success
//   - sendMessage -> result success with message data
//   - fanout newMessage to the joined counterpart
//   - messageNotification to the counterpart's user room
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "betabae/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

const (
	defaultSubprotocol = "betabae.chat.v1"
	maxReadBytes       = 1 << 20 // 1MiB
)

type smokeClient struct {
	name string
	conn *websocket.Conn

	inbox chan v1.Envelope
	errCh chan error
}

type smokeUser struct {
	name   string
	id     string
	client *http.Client
	cookie string
}

func main() {
	var (
		baseURL = flag.String("base", "http://127.0.0.1:8080", "HTTP base URL of the server")
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		text    = flag.String("text", "hello bae 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	suffix := time.Now().UnixNano()
	ua := mustRegister(*baseURL, fmt.Sprintf("smoke-a-%d", suffix), *timeout)
	ub := mustRegister(*baseURL, fmt.Sprintf("smoke-b-%d", suffix), *timeout)

	if *verbose {
		fmt.Printf("registered: A=%s B=%s\n", ua.id, ub.id)
	}

	matchID := mustCreateMatch(*baseURL, ua, ub.id, *timeout)
	mustAcceptMatch(*baseURL, ub, matchID, *timeout)
	convID := mustConversationID(*baseURL, ua, matchID, *timeout)

	if *verbose {
		fmt.Printf("matched: match_id=%s conv_id=%s\n", matchID, convID)
	}

	a := mustConnect(root, "A", *wsURL, *origin, ua.cookie, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *wsURL, *origin, ub.cookie, *timeout)
	defer closeWS(b.conn)

	mustJoin(root, a, convID, *timeout)
	mustJoin(root, b, convID, *timeout)

	msg := mustSendAndAssertResult(root, a, convID, *text, *timeout)

	mustAssertNewMessage(root, b, convID, msg.MessageID, ua.id, *text, *timeout)
	mustAssertNotification(root, b, convID, msg.MessageID, *timeout)

	fmt.Printf("OK: A=%s B=%s conv_id=%s message_id=%s\n", ua.id, ub.id, convID, msg.MessageID)
}

// ---- HTTP steps ----

func newSessionUser(name string) *smokeUser {
	jar, err := cookiejar.New(nil)
	if err != nil {
		fatalf("cookie jar (%s): %v", name, err)
	}
	return &smokeUser{name: name, client: &http.Client{Jar: jar}}
}

func mustRegister(base, username string, stepTimeout time.Duration) *smokeUser {
	u := newSessionUser(username)

	body := map[string]string{
		"username":     username,
		"display_name": username,
		"password":     "smoke-test-password",
	}
	var resp struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	httpResp := mustJSONCall(u, http.MethodPost, base+"/auth/register", body, http.StatusCreated, &resp, stepTimeout)

	u.id = resp.User.ID
	if strings.TrimSpace(u.id) == "" {
		fatalf("register %s: missing user id", username)
	}

	target, err := url.Parse(base)
	if err != nil {
		fatalf("parse base url: %v", err)
	}
	for _, c := range u.client.Jar.Cookies(target) {
		if c.Name == "session_id" {
			u.cookie = c.Name + "=" + c.Value
		}
	}
	if u.cookie == "" {
		fatalf("register %s: no session_id cookie set (status=%d)", username, httpResp.StatusCode)
	}
	return u
}

func mustCreateMatch(base string, requester *smokeUser, requestedID string, stepTimeout time.Duration) string {
	var resp struct {
		ID string `json:"id"`
	}
	mustJSONCall(requester, http.MethodPost, base+"/match", map[string]string{"requested_id": requestedID}, http.StatusCreated, &resp, stepTimeout)
	if strings.TrimSpace(resp.ID) == "" {
		fatalf("create match: missing id")
	}
	return resp.ID
}

func mustAcceptMatch(base string, requested *smokeUser, matchID string, stepTimeout time.Duration) {
	var resp struct {
		Status string `json:"status"`
	}
	mustJSONCall(requested, http.MethodPost, base+"/match/"+matchID+"/accept", nil, http.StatusOK, &resp, stepTimeout)
	if resp.Status != "ACCEPTED" {
		fatalf("accept match: status=%q want=ACCEPTED", resp.Status)
	}
}

func mustConversationID(base string, u *smokeUser, matchID string, stepTimeout time.Duration) string {
	var resp struct {
		Conversations []struct {
			ID      string `json:"id"`
			MatchID string `json:"match_id"`
			Type    string `json:"type"`
		} `json:"conversations"`
	}
	mustJSONCall(u, http.MethodGet, base+"/chat/conversations", nil, http.StatusOK, &resp, stepTimeout)

	for _, c := range resp.Conversations {
		if c.MatchID == matchID {
			if c.Type != "REAL_BAE" {
				fatalf("conversation type=%q; realtime smoke needs REAL_BAE (check BAE_DEFAULT_CONVERSATION_TYPE)", c.Type)
			}
			return c.ID
		}
	}
	fatalf("no conversation found for match %s", matchID)
	return ""
}

func mustJSONCall(u *smokeUser, method, rawURL string, body any, wantStatus int, out any, stepTimeout time.Duration) *http.Response {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}

	ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := u.client.Do(req)
	if err != nil {
		fatalf("%s %s (%s): %v", method, rawURL, u.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fatalf("read body: %v", err)
	}
	if resp.StatusCode != wantStatus {
		fatalf("%s %s (%s): status=%d want=%d body=%s", method, rawURL, u.name, resp.StatusCode, wantStatus, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			fatalf("unmarshal response (%s): %v", u.name, err)
		}
	}
	return resp
}

// ---- WS steps ----

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin, cookie string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	h.Set("Cookie", cookie)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, defaultSubprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustJoin(parent context.Context, c *smokeClient, convID string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeJoinRoom,
		ID:      fmt.Sprintf("%s-join", c.name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.JoinRoomPayload{ConversationID: convID}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	res := c.mustReadResult(parent, stepTimeout)
	if !res.Success {
		fatalf("join failed (%s): %s", c.name, res.Message)
	}
}

func mustSendAndAssertResult(parent context.Context, c *smokeClient, convID, text string, stepTimeout time.Duration) v1.MessageBody {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeSendMessage,
		ID:      fmt.Sprintf("%s-send", c.name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.SendMessagePayload{ConversationID: convID, MessageText: text}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	res := c.mustReadResult(parent, stepTimeout)
	if !res.Success {
		fatalf("send failed (%s): %s", c.name, res.Message)
	}
	if res.Data == nil {
		fatalf("send result missing data (%s)", c.name)
	}
	if res.Data.MessageText != text {
		fatalf("send result text mismatch (%s): got=%q want=%q", c.name, res.Data.MessageText, text)
	}
	if strings.TrimSpace(res.Data.MessageID) == "" {
		fatalf("send result missing message_id (%s)", c.name)
	}
	return *res.Data
}

func mustAssertNewMessage(parent context.Context, c *smokeClient, convID, messageID, senderID, text string, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeNewMessage, stepTimeout)

	var p v1.NewMessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal newMessage payload (%s): %v", c.name, err)
	}
	if p.Message.ConversationID != convID {
		fatalf("newMessage conv_id mismatch (%s): got=%q want=%q", c.name, p.Message.ConversationID, convID)
	}
	if p.Message.MessageID != messageID {
		fatalf("newMessage message_id mismatch (%s): got=%q want=%q", c.name, p.Message.MessageID, messageID)
	}
	if p.Message.SenderID != senderID {
		fatalf("newMessage sender mismatch (%s): got=%q want=%q", c.name, p.Message.SenderID, senderID)
	}
	if p.Message.MessageText != text {
		fatalf("newMessage text mismatch (%s): got=%q want=%q", c.name, p.Message.MessageText, text)
	}
	if p.Message.SentAt.IsZero() {
		fatalf("newMessage sent_at missing/zero (%s)", c.name)
	}
}

func mustAssertNotification(parent context.Context, c *smokeClient, convID, messageID string, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeMessageNotification, stepTimeout)

	var p v1.MessageNotificationPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal messageNotification payload (%s): %v", c.name, err)
	}
	if p.ConversationID != convID {
		fatalf("notification conv_id mismatch (%s): got=%q want=%q", c.name, p.ConversationID, convID)
	}
	if p.Message.MessageID != messageID {
		fatalf("notification message_id mismatch (%s): got=%q want=%q", c.name, p.Message.MessageID, messageID)
	}
}

func (c *smokeClient) mustReadResult(parent context.Context, stepTimeout time.Duration) v1.ResultPayload {
	env := c.mustReadUntilType(parent, v1.TypeResult, stepTimeout)

	var p v1.ResultPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal result payload (%s): %v", c.name, err)
	}
	return p
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			// Fanout (newMessage/messageNotification) can interleave with
			// results; anything else is unexpected.
			if env.Type == v1.TypeNewMessage || env.Type == v1.TypeMessageNotification {
				continue
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
