// Package object provides local and in-memory object storage.
package object

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/storeflow/storeflow/pkg/interfaces"
)

// LocalStorage implements ObjectStorage over a directory.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates a storage rooted at root. The directory is
// created lazily on the first Put so a missing raw directory reads as
// missing sources rather than failing construction.
func NewLocalStorage(root string) (*LocalStorage, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path: %w", err)
	}
	return &LocalStorage{root: absRoot}, nil
}

// Scheme returns "file".
func (s *LocalStorage) Scheme() string {
	return "file"
}

// Location returns the absolute file path.
func (s *LocalStorage) Location(path string) string {
	return s.fullPath(path)
}

// Put writes data to a temp file and renames it over path, so a reader
// never sees a half-written file.
func (s *LocalStorage) Put(ctx context.Context, path string, data io.Reader) error {
	fullPath := s.fullPath(path)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), filepath.Base(fullPath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

// Get returns a reader for the object.
func (s *LocalStorage) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(s.fullPath(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", s.fullPath(path), interfaces.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

// Delete removes an object. Deleting a missing object is not an error.
func (s *LocalStorage) Delete(ctx context.Context, path string) error {
	if err := os.Remove(s.fullPath(path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Exists checks if an object exists.
func (s *LocalStorage) Exists(ctx context.Context, path string) (bool, error) {
	info, err := os.Stat(s.fullPath(path))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !info.IsDir(), nil
}

func (s *LocalStorage) fullPath(path string) string {
	return filepath.Join(s.root, path)
}

// MemoryStorage implements ObjectStorage in memory (for testing).
type MemoryStorage struct {
	mu      sync.Mutex
	objects map[string][]byte

	// PutErr, when set, is returned by Put for matching paths.
	PutErr func(path string) error
}

// NewMemoryStorage creates a new in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string][]byte)}
}

// Scheme returns "memory".
func (s *MemoryStorage) Scheme() string {
	return "memory"
}

// Location returns a memory:// URL.
func (s *MemoryStorage) Location(path string) string {
	return "memory://" + path
}

// Put stores data in memory.
func (s *MemoryStorage) Put(ctx context.Context, path string, data io.Reader) error {
	if s.PutErr != nil {
		if err := s.PutErr(path); err != nil {
			return err
		}
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = b
	return nil
}

// Get returns a reader for the object.
func (s *MemoryStorage) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.objects[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, interfaces.ErrObjectNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete removes an object.
func (s *MemoryStorage) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, path)
	return nil
}

// Exists checks if an object exists.
func (s *MemoryStorage) Exists(ctx context.Context, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[path]
	return ok, nil
}

// Bytes returns a copy of a stored object, for assertions.
func (s *MemoryStorage) Bytes(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Verify interface compliance
var (
	_ interfaces.ObjectStorage = (*LocalStorage)(nil)
	_ interfaces.ObjectStorage = (*MemoryStorage)(nil)
)
