// Package media is the binary-object collaborator boundary: it accepts a
// byte stream plus content type, returns a retrievable URL, and deletes by
// URL. Durability policy belongs to the backing store, not to this package.
package media

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrInvalidInput is returned for empty streams or unusable names.
	ErrInvalidInput = errors.New("invalid media input")

	// ErrUploadFailed is returned when the backing store rejects the upload.
	// Callers must treat this as aborting whatever record the upload was for.
	ErrUploadFailed = errors.New("media upload failed")

	// ErrNotFound is returned when deleting a URL this store does not hold.
	ErrNotFound = errors.New("media object not found")
)

// Store uploads and deletes binary objects.
//
// The upload-then-record ordering contract lives with callers: they must
// complete Upload before persisting any row referencing the URL, and delete
// rows before blobs, so a failure can orphan a blob but never a record.
type Store interface {
	Upload(ctx context.Context, r io.Reader, contentType, name string) (url string, err error)
	Delete(ctx context.Context, url string) error
}
