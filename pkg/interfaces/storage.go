package interfaces

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned by ObjectStorage.Get for absent objects.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage stores raw inputs and processed outputs by relative path.
type ObjectStorage interface {
	Put(ctx context.Context, path string, data io.Reader) error
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)

	// Location renders path the way it is addressed outside the process,
	// for logs and error context.
	Location(path string) string

	// Scheme returns the storage scheme ("file" or "s3").
	Scheme() string
}
