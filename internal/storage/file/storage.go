package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/aliskhannn/image-store/internal/xerrors"
)

// Storage provides a simple file-based blob backend.
// It stores blobs under a base path on the local filesystem; locators are
// slash-separated paths relative to that base.
type Storage struct {
	basePath string
}

// NewStorage creates a new Storage rooted at basePath, creating it if needed.
func NewStorage(basePath string) (*Storage, error) {
	if basePath == "" {
		return nil, xerrors.E(xerrors.KindInvalidParameter, "file storage", "base path")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.KindStorage, "file storage", basePath, err)
	}

	return &Storage{basePath: basePath}, nil
}

// Put writes src under key. The blob becomes visible atomically: it is
// written to a temporary file in the same directory and renamed into place,
// so a concurrent reader never observes a partial write.
func (s *Storage) Put(ctx context.Context, key string, src io.Reader, size int64, contentType string) (string, error) {
	locator, full, err := s.resolve(key)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", xerrors.Wrap(xerrors.KindStorage, "put", locator, fmt.Errorf("failed to create directory %s: %w", dir, err))
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", xerrors.Wrap(xerrors.KindStorage, "put", locator, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := io.Copy(tmp, src); err != nil {
		cleanup()
		return "", xerrors.Wrap(xerrors.KindStorage, "put", locator, fmt.Errorf("failed to write file: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return "", xerrors.Wrap(xerrors.KindStorage, "put", locator, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", xerrors.Wrap(xerrors.KindStorage, "put", locator, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return "", xerrors.Wrap(xerrors.KindStorage, "put", locator, err)
	}

	return locator, nil
}

// Get opens the blob for reading.
func (s *Storage) Get(ctx context.Context, locator string) (io.ReadCloser, error) {
	locator, full, err := s.resolve(locator)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, xerrors.Wrap(xerrors.KindNotFound, "get", locator, xerrors.ErrBlobNotFound)
		}
		return nil, xerrors.Wrap(xerrors.KindStorage, "get", locator, err)
	}

	return f, nil
}

// Delete removes the blob. It reports false when there was nothing to remove.
func (s *Storage) Delete(ctx context.Context, locator string) (bool, error) {
	locator, full, err := s.resolve(locator)
	if err != nil {
		return false, err
	}

	if err := os.Remove(full); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, xerrors.Wrap(xerrors.KindStorage, "delete", locator, err)
	}

	return true, nil
}

// Exists reports whether a blob is stored at locator.
func (s *Storage) Exists(ctx context.Context, locator string) (bool, error) {
	locator, full, err := s.resolve(locator)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, xerrors.Wrap(xerrors.KindStorage, "exists", locator, err)
	}

	return info.Mode().IsRegular(), nil
}

// resolve normalizes a key and maps it inside basePath.
func (s *Storage) resolve(key string) (string, string, error) {
	clean := path.Clean(key)
	if key == "" || clean == "." || !filepath.IsLocal(filepath.FromSlash(clean)) {
		return "", "", xerrors.E(xerrors.KindInvalidParameter, "file storage", "locator "+key)
	}

	return clean, filepath.Join(s.basePath, filepath.FromSlash(clean)), nil
}
