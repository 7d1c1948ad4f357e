package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"betabae/cmd/identity/ids"
)

// MemoryStore holds objects in memory for dev mode and tests.
type MemoryStore struct {
	baseURL string

	mu      sync.Mutex
	objects map[string][]byte

	// FailUploads forces Upload to fail; tests use it to assert that a failed
	// upload never leaves a message record behind.
	FailUploads bool
}

// NewMemoryStore constructs an empty in-memory media store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		baseURL: "mem://media",
		objects: make(map[string][]byte),
	}
}

// Upload buffers the object and returns a synthetic URL.
func (s *MemoryStore) Upload(ctx context.Context, r io.Reader, contentType, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if r == nil {
		return "", ErrInvalidInput
	}
	if s.FailUploads {
		return "", fmt.Errorf("%w: forced failure", ErrUploadFailed)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if buf.Len() == 0 {
		return "", fmt.Errorf("%w: empty object", ErrUploadFailed)
	}

	id, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		return "", err
	}
	url := s.baseURL + "/" + id

	s.mu.Lock()
	s.objects[url] = buf.Bytes()
	s.mu.Unlock()
	return url, nil
}

// Delete removes a stored object.
func (s *MemoryStore) Delete(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[url]; !ok {
		return ErrNotFound
	}
	delete(s.objects, url)
	return nil
}

// Len reports the number of stored objects (test helper).
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
