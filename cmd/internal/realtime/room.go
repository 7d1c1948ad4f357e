package realtime

import (
	"log/slog"
	"sync"

	v1 "betabae/shared/contracts/chat/v1"
)

// room is an in-memory membership + broadcast fanout primitive.
//
// Concurrency guarantees:
// - join/leave are safe under concurrent broadcast.
// - broadcast never blocks (drops under backpressure).
// - broadcast is panic-safe because Client.Send is never closed by the server.
//
// Unlike a connection, a room does not own client lifecycles: leaving a room
// never closes the client, because one connection belongs to several rooms
// (its private user room plus any joined conversation rooms).
type room struct {
	log  *slog.Logger
	name string

	mu      sync.RWMutex
	members map[string]*Client
}

func newRoom(log *slog.Logger, name string) *room {
	return &room{
		log:     log,
		name:    name,
		members: make(map[string]*Client),
	}
}

func (r *room) join(client *Client) {
	if r == nil || client == nil || client.SessionID == "" {
		return
	}

	r.mu.Lock()
	r.members[client.SessionID] = client
	r.mu.Unlock()

	r.log.Info("room.member.join", "room", r.name, "session_id", client.SessionID)
}

// leave removes a client and reports the remaining member count so the hub
// can drop empty rooms.
func (r *room) leave(sessionID string) int {
	if r == nil || sessionID == "" {
		return 0
	}

	r.mu.Lock()
	delete(r.members, sessionID)
	n := len(r.members)
	r.mu.Unlock()

	r.log.Info("room.member.leave", "room", r.name, "session_id", sessionID)
	return n
}

// broadcast fanouts an envelope to all members.
// Non-blocking: if a member queue is full or the client is shutting down, the
// envelope is dropped for that member.
func (r *room) broadcast(env v1.Envelope) {
	if r == nil {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.members {
		if m == nil {
			continue
		}

		select {
		case <-m.Done():
			continue
		default:
		}

		select {
		case m.Send <- env:
		default:
			fanoutDropped.Inc()
		}
	}
}
