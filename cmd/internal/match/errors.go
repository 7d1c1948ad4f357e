package match

import "errors"

var (
	// ErrInvalidInput is returned for malformed requests (empty ids, self-match).
	ErrInvalidInput = errors.New("invalid match input")

	// ErrUserNotFound is returned when either party of a new match does not resolve.
	ErrUserNotFound = errors.New("user not found")

	// ErrNotFound is returned when a match id is unknown.
	ErrNotFound = errors.New("match not found")

	// ErrAlreadyExists is returned when a match already links the two users,
	// in either direction.
	ErrAlreadyExists = errors.New("match already exists")

	// ErrUnauthorized is returned when someone other than the requested user
	// attempts to accept or reject.
	ErrUnauthorized = errors.New("unauthorized match action")

	// ErrInvalidStatus is returned for transitions out of a terminal state.
	ErrInvalidStatus = errors.New("invalid match status")
)
