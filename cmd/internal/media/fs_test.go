package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFSStore_UploadAndDelete(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewFSStore(dir, "http://localhost:8080/media/")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	url, err := s.Upload(ctx, strings.NewReader("fake image bytes"), "image/png", "selfie.png")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.HasPrefix(url, "http://localhost:8080/media/") {
		t.Fatalf("unexpected url: %q", url)
	}
	if !strings.HasSuffix(url, "-selfie.png") {
		t.Fatalf("expected sanitized name suffix, got %q", url)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one stored object, found %d", len(entries))
	}

	if err := s.Delete(ctx, url); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, url); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestFSStore_RejectsEmptyObject(t *testing.T) {
	t.Parallel()

	s, err := NewFSStore(t.TempDir(), "http://localhost/media")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if _, err := s.Upload(context.Background(), strings.NewReader(""), "image/png", "x.png"); !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed for empty object, got %v", err)
	}
}

func TestFSStore_DeleteRejectsTraversal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewFSStore(dir, "http://localhost/media")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	// A URL whose key escapes the flat namespace must not resolve to a path.
	if err := s.Delete(context.Background(), "http://localhost/media/../secret"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for traversal key, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "..", "secret")); statErr == nil {
		t.Fatalf("traversal delete touched a file outside the store")
	}
}
