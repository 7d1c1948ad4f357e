package match

import (
	"context"
	"time"
)

// Status is the lifecycle state of a match.
// PENDING moves exactly once to ACCEPTED or REJECTED; both are terminal.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"
)

// Match is a consent handshake between two users.
type Match struct {
	ID          string
	RequesterID string
	RequestedID string
	Status      Status

	RequesterConsent bool
	RequestedConsent bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Involves reports whether userID is a party to the match.
func (m Match) Involves(userID string) bool {
	return m.RequesterID == userID || m.RequestedID == userID
}

// Store is the match persistence boundary.
type Store interface {
	Create(ctx context.Context, m Match) (Match, error)
	GetByID(ctx context.Context, matchID string) (Match, error)

	// FindByPair returns a match linking a and b in either direction,
	// or ErrNotFound when none exists.
	FindByPair(ctx context.Context, a, b string) (Match, error)

	// TransitionFromPending applies the accept/reject transition as a single
	// conditional write: it only succeeds while the row is still PENDING, so a
	// racing double-accept loses with ErrInvalidStatus rather than overwriting.
	TransitionFromPending(ctx context.Context, matchID string, to Status, requestedConsent bool, now time.Time) (Match, error)

	// ListReceived returns PENDING matches where userID is the requested party,
	// newest first.
	ListReceived(ctx context.Context, userID string) ([]Match, error)

	// ListAll returns matches where userID is either party, any status, newest first.
	ListAll(ctx context.Context, userID string) ([]Match, error)
}

// ConversationCreator creates the conversation backing an accepted match.
// It is implemented by the chat subsystem; the indirection keeps match free
// of a dependency on chat internals.
//
// Implementations must be idempotent per match: when the match already has a
// conversation, CreateForMatch returns that conversation's id. The accept
// path relies on this to recover from a failure between the status
// transition and the conversation insert.
type ConversationCreator interface {
	CreateForMatch(ctx context.Context, matchID, conversationType string, now time.Time) (conversationID string, err error)
}
