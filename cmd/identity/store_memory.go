package identity

import (
	"context"
	"sync"
	"time"

	"betabae/cmd/identity/ids"
)

// MemoryStore is an in-memory Store used for dev mode and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]User
	byName map[string]string // normalized username -> user id
}

// NewMemoryStore constructs an empty in-memory identity store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]User),
		byName: make(map[string]string),
	}
}

// CreateUser registers a user, enforcing username uniqueness.
func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if err := ValidateNewUser(in.Username, in.DisplayName); err != nil {
		return User{}, err
	}
	if in.CredentialHash == "" {
		return User{}, ErrInvalidInput
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	norm := NormalizeUsername(in.Username)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[norm]; ok {
		return User{}, ErrConflict
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return User{}, err
	}

	u := User{
		ID:             id,
		Username:       in.Username,
		DisplayName:    in.DisplayName,
		CredentialHash: in.CredentialHash,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.byID[id] = u
	s.byName[norm] = id
	return u, nil
}

// GetByID loads a user by id.
func (s *MemoryStore) GetByID(ctx context.Context, userID string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

// GetByUsername loads a user by normalized username.
func (s *MemoryStore) GetByUsername(ctx context.Context, username string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[NormalizeUsername(username)]
	if !ok {
		return User{}, ErrNotFound
	}
	return s.byID[id], nil
}

// UpdateCredential replaces the stored credential hash.
func (s *MemoryStore) UpdateCredential(ctx context.Context, userID, credentialHash string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if credentialHash == "" {
		return ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return ErrNotFound
	}
	u.CredentialHash = credentialHash
	u.UpdatedAt = now
	s.byID[userID] = u
	return nil
}
