package realtime

import (
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	v1 "betabae/shared/contracts/chat/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testEnvelope(typ string) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      NewRandomHex(10),
		TS:      time.Now().UTC(),
		Payload: json.RawMessage(`{}`),
	}
}

func TestHub_JoinBroadcastLeave(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger())
	a := NewClient("sess-a", "user-a", 8)
	b := NewClient("sess-b", "user-b", 8)

	room := ConversationRoom("conv-1")
	h.Join(room, a)
	h.Join(room, b)

	if got := h.Members(room); got != 2 {
		t.Fatalf("members = %d, want 2", got)
	}

	h.Broadcast(room, testEnvelope(v1.TypeNewMessage))

	for _, c := range []*Client{a, b} {
		select {
		case env := <-c.Send:
			if env.Type != v1.TypeNewMessage {
				t.Fatalf("got type %q, want %q", env.Type, v1.TypeNewMessage)
			}
		default:
			t.Fatalf("client %s did not receive broadcast", c.SessionID)
		}
	}

	h.Leave(room, a.SessionID)
	if got := h.Members(room); got != 1 {
		t.Fatalf("members after leave = %d, want 1", got)
	}

	// Leaving a room never tears down the client; it may sit in other rooms.
	select {
	case <-a.Done():
		t.Fatalf("leave closed the client")
	default:
	}

	h.Leave(room, b.SessionID)
	if got := h.Members(room); got != 0 {
		t.Fatalf("members after last leave = %d, want 0", got)
	}
}

func TestHub_BroadcastDropsOnBackpressure(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger())
	c := NewClient("sess-slow", "user-slow", 1)

	room := ConversationRoom("conv-slow")
	h.Join(room, c)

	h.Broadcast(room, testEnvelope(v1.TypeNewMessage))
	h.Broadcast(room, testEnvelope(v1.TypeNewMessage)) // queue full, dropped

	if got := len(c.Send); got != 1 {
		t.Fatalf("queued = %d, want 1 (second broadcast must drop, not block)", got)
	}
}

func TestHub_BroadcastSkipsClosedClients(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger())
	c := NewClient("sess-gone", "user-gone", 8)

	room := ConversationRoom("conv-gone")
	h.Join(room, c)
	c.Close()

	h.Broadcast(room, testEnvelope(v1.TypeNewMessage))
	if got := len(c.Send); got != 0 {
		t.Fatalf("closed client received %d envelopes", got)
	}
}

func TestHub_BroadcastToUnknownRoomIsNoop(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger())
	h.Broadcast(ConversationRoom("nobody-home"), testEnvelope(v1.TypeNewMessage))
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(3, time.Second)
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if !rl.Allow(base.Add(time.Duration(i) * 10 * time.Millisecond)) {
			t.Fatalf("event %d unexpectedly limited", i)
		}
	}
	if rl.Allow(base.Add(40 * time.Millisecond)) {
		t.Fatalf("fourth event inside window should be limited")
	}
	if !rl.Allow(base.Add(1100 * time.Millisecond)) {
		t.Fatalf("event after window should be allowed")
	}
}
