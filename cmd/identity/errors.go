package identity

import "errors"

var (
	// ErrInvalidInput is returned for malformed registration or lookup input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned when a user does not exist.
	ErrNotFound = errors.New("user not found")

	// ErrConflict is returned when a username is already taken.
	ErrConflict = errors.New("user already exists")

	// ErrInvalidCredentials is returned when password verification fails.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// IsNotFound reports whether err represents ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err represents ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
