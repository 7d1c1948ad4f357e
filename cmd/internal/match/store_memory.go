package match

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for dev mode and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	matches map[string]Match
}

// NewMemoryStore constructs an empty in-memory match store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{matches: make(map[string]Match)}
}

// Create inserts a match row.
func (s *MemoryStore) Create(ctx context.Context, m Match) (Match, error) {
	if err := ctx.Err(); err != nil {
		return Match{}, err
	}

	s.mu.Lock()
	s.matches[m.ID] = m
	s.mu.Unlock()
	return m, nil
}

// GetByID loads a match row.
func (s *MemoryStore) GetByID(ctx context.Context, matchID string) (Match, error) {
	if err := ctx.Err(); err != nil {
		return Match{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.matches[matchID]
	if !ok {
		return Match{}, ErrNotFound
	}
	return m, nil
}

// FindByPair returns a match linking a and b in either direction.
func (s *MemoryStore) FindByPair(ctx context.Context, a, b string) (Match, error) {
	if err := ctx.Err(); err != nil {
		return Match{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.matches {
		if (m.RequesterID == a && m.RequestedID == b) || (m.RequesterID == b && m.RequestedID == a) {
			return m, nil
		}
	}
	return Match{}, ErrNotFound
}

// TransitionFromPending applies a conditional accept/reject.
func (s *MemoryStore) TransitionFromPending(ctx context.Context, matchID string, to Status, requestedConsent bool, now time.Time) (Match, error) {
	if err := ctx.Err(); err != nil {
		return Match{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[matchID]
	if !ok {
		return Match{}, ErrNotFound
	}
	if m.Status != StatusPending {
		return Match{}, ErrInvalidStatus
	}

	m.Status = to
	if requestedConsent {
		m.RequestedConsent = true
	}
	m.UpdatedAt = now
	s.matches[matchID] = m
	return m, nil
}

// ListReceived returns PENDING matches addressed to userID, newest first.
func (s *MemoryStore) ListReceived(ctx context.Context, userID string) ([]Match, error) {
	return s.list(ctx, func(m Match) bool {
		return m.RequestedID == userID && m.Status == StatusPending
	})
}

// ListAll returns every match userID is a party to, newest first.
func (s *MemoryStore) ListAll(ctx context.Context, userID string) ([]Match, error) {
	return s.list(ctx, func(m Match) bool {
		return m.Involves(userID)
	})
}

func (s *MemoryStore) list(ctx context.Context, keep func(Match) bool) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]Match, 0, 8)
	for _, m := range s.matches {
		if keep(m) {
			out = append(out, m)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}
