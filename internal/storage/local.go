package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

type LocalStore struct {
	basePath string
}

var _ Provider = (*LocalStore)(nil)

func NewLocalStorage(basePath string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create storage root %q: %w", basePath, err)
	}
	return &LocalStore{basePath: basePath}, nil
}

func (l *LocalStore) Open(_ context.Context, path string) (io.ReadCloser, error) {
	return os.OpenInRoot(l.basePath, filepath.FromSlash(path))
}

// Exists takes a path and returns true if the file exists and can be opened
func (l *LocalStore) Exists(_ context.Context, path string) bool {
	path = filepath.Clean(filepath.FromSlash(path))

	f, err := os.OpenInRoot(l.basePath, path)
	if err != nil {
		return false
	}

	defer f.Close() // overkill to consider errors if only checking existence
	return true
}

// Save writes body at path, replacing any existing file.
func (l *LocalStore) Save(_ context.Context, path string, body io.ReadSeeker) error {
	root, err := os.OpenRoot(l.basePath)
	if err != nil {
		return err
	}
	defer root.Close()

	path = filepath.Clean(filepath.FromSlash(path))
	if dir := filepath.Dir(path); dir != "." {
		if err := root.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("cannot create %q: %w", dir, err)
		}
	}

	f, err := root.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return fmt.Errorf("cannot write %q: %w", path, err)
	}
	return f.Close()
}

// Delete removes path; deleting a missing file is not an error.
func (l *LocalStore) Delete(_ context.Context, path string) error {
	root, err := os.OpenRoot(l.basePath)
	if err != nil {
		return err
	}
	defer root.Close()

	if err := root.Remove(filepath.Clean(filepath.FromSlash(path))); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
