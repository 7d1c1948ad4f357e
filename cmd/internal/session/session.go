package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a token does not resolve to a live session.
	ErrNotFound = errors.New("session not found")

	// ErrInvalidInput is returned for empty tokens or identities.
	ErrInvalidInput = errors.New("invalid session input")
)

// Identity is the resolved owner of a session token.
type Identity struct {
	UserID   string `json:"id"`
	Username string `json:"username,omitempty"`
}

// Oracle resolves opaque session tokens to identities.
//
// Resolve must return ErrNotFound for unknown or expired tokens; any other
// error means the backing store is unavailable.
type Oracle interface {
	Resolve(ctx context.Context, token string) (Identity, error)
	Put(ctx context.Context, token string, id Identity, ttl time.Duration) error
	Delete(ctx context.Context, token string) error
}

// CookieName is the HTTP cookie carrying the opaque session token. The
// websocket gateway and the HTTP middleware read the same cookie.
const CookieName = "session_id"

const keyPrefix = "session:"

func sessionKey(token string) string { return keyPrefix + token }
