package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/storeflow/storeflow/pkg/interfaces"
)

// ObjectBackend keeps the record as a single object, typically in S3.
type ObjectBackend struct {
	store interfaces.ObjectStorage
	key   string
}

// NewObjectBackend creates a backend storing the record at key.
func NewObjectBackend(store interfaces.ObjectStorage, key string) *ObjectBackend {
	return &ObjectBackend{store: store, key: key}
}

// Name returns the store scheme, e.g. "s3".
func (b *ObjectBackend) Name() string { return b.store.Scheme() }

// Load reads the object.
func (b *ObjectBackend) Load(ctx context.Context) (*RunState, error) {
	rc, err := b.store.Get(ctx, b.key)
	if errors.Is(err, interfaces.ErrObjectNotFound) {
		return nil, ErrNoState
	}
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", b.store.Location(b.key), err)
	}
	return decode(data)
}

// Save replaces the object.
func (b *ObjectBackend) Save(ctx context.Context, st *RunState) error {
	data, err := encode(st)
	if err != nil {
		return err
	}
	return b.store.Put(ctx, b.key, bytes.NewReader(data))
}

var _ Backend = (*ObjectBackend)(nil)
