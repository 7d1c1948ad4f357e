package realtime

import (
	"log/slog"
	"sync"

	v1 "betabae/shared/contracts/chat/v1"
)

// UserRoom names the private room every authenticated connection joins.
// Notifications for a user land here regardless of which conversation rooms
// the user has joined.
func UserRoom(userID string) string {
	return "user:" + userID
}

// ConversationRoom names the fanout room for a conversation's live messages.
func ConversationRoom(conversationID string) string {
	return "conversation:" + conversationID
}

// Hub owns in-memory rooms and provides join/leave/broadcast by room name.
// It is intentionally minimal: persistence and access control live in the
// chat service; the hub only moves envelopes.
type Hub struct {
	log *slog.Logger

	mu    sync.RWMutex
	rooms map[string]*room
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:   log,
		rooms: make(map[string]*room),
	}
}

// Join adds the client to the named room, creating it if needed.
func (h *Hub) Join(name string, client *Client) {
	if h == nil || name == "" || client == nil {
		return
	}

	h.mu.Lock()
	r, ok := h.rooms[name]
	if !ok {
		r = newRoom(h.log, name)
		h.rooms[name] = r
	}
	h.mu.Unlock()

	r.join(client)
}

// Leave removes the client from the named room and drops the room when it
// empties, so idle conversations do not accumulate.
func (h *Hub) Leave(name, sessionID string) {
	if h == nil || name == "" || sessionID == "" {
		return
	}

	h.mu.Lock()
	r, ok := h.rooms[name]
	h.mu.Unlock()
	if !ok {
		return
	}

	if r.leave(sessionID) == 0 {
		h.mu.Lock()
		// Re-check under lock: a concurrent Join may have repopulated it.
		if cur, ok := h.rooms[name]; ok && cur == r {
			cur.mu.RLock()
			empty := len(cur.members) == 0
			cur.mu.RUnlock()
			if empty {
				delete(h.rooms, name)
			}
		}
		h.mu.Unlock()
	}
}

// Broadcast fans an envelope out to the named room. Unknown rooms are a no-op:
// nobody is listening.
func (h *Hub) Broadcast(name string, env v1.Envelope) {
	if h == nil || name == "" {
		return
	}

	h.mu.RLock()
	r := h.rooms[name]
	h.mu.RUnlock()

	r.broadcast(env)
}

// Members reports the member count of a room (test/observability helper).
func (h *Hub) Members(name string) int {
	if h == nil {
		return 0
	}

	h.mu.RLock()
	r := h.rooms[name]
	h.mu.RUnlock()
	if r == nil {
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}
