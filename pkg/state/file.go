package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileBackend keeps the record in a JSON file.
type FileBackend struct {
	path string
}

// NewFileBackend creates a backend at path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Name returns "file".
func (b *FileBackend) Name() string { return "file" }

// Path returns the state file location.
func (b *FileBackend) Path() string { return b.path }

// Load reads the state file.
func (b *FileBackend) Load(ctx context.Context) (*RunState, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoState
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", b.path, err)
	}
	return decode(data)
}

// Save writes to a temp file and renames it over the state file.
func (b *FileBackend) Save(ctx context.Context, st *RunState) error {
	data, err := encode(st)
	if err != nil {
		return err
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(b.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close state: %w", err)
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %w", b.path, err)
	}
	return nil
}

var _ Backend = (*FileBackend)(nil)
