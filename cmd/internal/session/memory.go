package session

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryOracle is an in-process oracle for dev mode and tests.
type MemoryOracle struct {
	mu       sync.RWMutex
	sessions map[string]memorySession
}

type memorySession struct {
	id        Identity
	expiresAt time.Time
}

// NewMemoryOracle constructs an empty in-memory oracle.
func NewMemoryOracle() *MemoryOracle {
	return &MemoryOracle{sessions: make(map[string]memorySession)}
}

// Resolve returns the identity for a live token.
func (o *MemoryOracle) Resolve(ctx context.Context, token string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrNotFound
	}

	o.mu.RLock()
	s, ok := o.sessions[sessionKey(token)]
	o.mu.RUnlock()

	if !ok || !s.expiresAt.After(time.Now()) {
		return Identity{}, ErrNotFound
	}
	return s.id, nil
}

// Put stores a session with the given TTL.
func (o *MemoryOracle) Put(ctx context.Context, token string, id Identity, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	if token == "" || id.UserID == "" {
		return ErrInvalidInput
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	o.mu.Lock()
	o.sessions[sessionKey(token)] = memorySession{id: id, expiresAt: time.Now().Add(ttl)}
	o.mu.Unlock()
	return nil
}

// Delete removes a session.
func (o *MemoryOracle) Delete(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	o.mu.Lock()
	delete(o.sessions, sessionKey(strings.TrimSpace(token)))
	o.mu.Unlock()
	return nil
}
