package identity

import (
	"context"
	"strings"
	"time"
)

// User is betabae's canonical principal.
// CredentialHash is a PHC-encoded argon2id hash; the plain password is never stored.
type User struct {
	ID             string
	Username       string
	DisplayName    string
	CredentialHash string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateUserInput describes a registration request.
type CreateUserInput struct {
	Username       string
	DisplayName    string
	CredentialHash string
	Now            time.Time
}

// Store is the identity persistence boundary.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetByID(ctx context.Context, userID string) (User, error)
	GetByUsername(ctx context.Context, username string) (User, error)

	// UpdateCredential replaces the stored credential hash. This is the only
	// mutation a user row supports after registration.
	UpdateCredential(ctx context.Context, userID, credentialHash string, now time.Time) error
}

// NormalizeUsername lowercases and trims a username for uniqueness checks.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// ValidateNewUser checks registration input before hashing happens.
func ValidateNewUser(username, displayName string) error {
	username = strings.TrimSpace(username)
	if username == "" || len(username) > 64 {
		return ErrInvalidInput
	}
	if strings.ContainsAny(username, " \t\n") {
		return ErrInvalidInput
	}
	if len(strings.TrimSpace(displayName)) > 128 {
		return ErrInvalidInput
	}
	return nil
}
