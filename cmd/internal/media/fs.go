package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"betabae/cmd/identity/ids"
)

const fsMaxObjectBytes = 10 << 20 // 10 MiB

// FSStore keeps objects on the local filesystem under a base directory and
// serves them under a base URL (the app mounts the directory on /media/).
type FSStore struct {
	dir     string
	baseURL string
}

// NewFSStore constructs a filesystem store. The directory is created if missing.
func NewFSStore(dir, baseURL string) (*FSStore, error) {
	dir = strings.TrimSpace(dir)
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if dir == "" || baseURL == "" {
		return nil, ErrInvalidInput
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return &FSStore{dir: dir, baseURL: baseURL}, nil
}

// Upload streams the object to disk and returns its URL.
func (s *FSStore) Upload(ctx context.Context, r io.Reader, contentType, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if r == nil {
		return "", ErrInvalidInput
	}

	key, err := objectKey(name)
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp(s.dir, "upload-*")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	tmp := f.Name()

	n, err := io.Copy(f, io.LimitReader(r, fsMaxObjectBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && n > fsMaxObjectBytes {
		err = fmt.Errorf("object exceeds %d bytes", fsMaxObjectBytes)
	}
	if err == nil && n == 0 {
		err = fmt.Errorf("empty object")
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	if err := os.Rename(tmp, filepath.Join(s.dir, key)); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	return s.baseURL + "/" + key, nil
}

// Delete removes the object a URL points at.
func (s *FSStore) Delete(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key, ok := strings.CutPrefix(url, s.baseURL+"/")
	if !ok || key == "" || key != path.Base(key) {
		return ErrNotFound
	}

	if err := os.Remove(filepath.Join(s.dir, key)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// objectKey builds a collision-free flat key: ULID prefix + sanitized name.
func objectKey(name string) (string, error) {
	id, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		return "", err
	}

	base := path.Base(strings.TrimSpace(name))
	if base == "." || base == "/" || base == "" {
		base = "file"
	}
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return id + "-" + b.String(), nil
}
