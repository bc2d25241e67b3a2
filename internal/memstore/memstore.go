// Package memstore provides the persistent memory store consulted by the
// context synthesizer and updated after successful task completion.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// ErrKeyNotFound is returned when no value exists for the requested key.
var ErrKeyNotFound = errors.New("memory key not found")

// Store is the persistent memory contract. The engine only consumes it; the
// surrounding application owns what goes in.
type Store interface {
	// Load returns the value for key, or ErrKeyNotFound.
	Load(ctx context.Context, key string) (string, error)

	// Save writes the value for key, replacing any previous value.
	Save(ctx context.Context, key string, value string) error

	// Age returns how long ago key was last written, for recency-based
	// confidence scoring. Returns ErrKeyNotFound for absent keys.
	Age(ctx context.Context, key string) (time.Duration, error)
}

// FileStore keeps one file per key under a root directory, written with the
// same temp-then-rename discipline as the task queue.
type FileStore struct {
	root string
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create memory store root: %w", err)
	}
	return &FileStore{root: root}, nil
}

// keyPath escapes the key so arbitrary keys cannot traverse out of root.
func (s *FileStore) keyPath(key string) string {
	return filepath.Join(s.root, url.PathEscape(key)+".mem")
}

// Load implements Store.
func (s *FileStore) Load(ctx context.Context, key string) (string, error) {
	data, err := os.ReadFile(s.keyPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %q", ErrKeyNotFound, key)
		}
		return "", fmt.Errorf("failed to read memory %q: %w", key, err)
	}
	return string(data), nil
}

// Save implements Store.
func (s *FileStore) Save(ctx context.Context, key string, value string) error {
	tmp, err := os.CreateTemp(s.root, "mem-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write memory %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file for %q: %w", key, err)
	}

	if err := os.Rename(tmpName, s.keyPath(key)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to commit memory %q: %w", key, err)
	}
	return nil
}

// Age implements Store.
func (s *FileStore) Age(ctx context.Context, key string) (time.Duration, error) {
	info, err := os.Stat(s.keyPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
		}
		return 0, fmt.Errorf("failed to stat memory %q: %w", key, err)
	}
	return time.Since(info.ModTime()), nil
}
