// Package memory provides an in-memory checkpoint backend.
// Intended for testing and dry runs. Snapshots do not survive restarts.
package memory

import (
	"context"
	"sync"

	"cwtail/internal/checkpoint"
)

// Backend keeps the encoded form of the last saved snapshot, so loads go
// through the same codec as durable backends.
type Backend struct {
	mu   sync.RWMutex
	data []byte
}

var _ checkpoint.Backend = (*Backend)(nil)

// New creates an empty Backend.
func New() *Backend {
	return &Backend{}
}

// Load decodes the last saved snapshot.
func (b *Backend) Load(context.Context) (checkpoint.Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.data == nil {
		return checkpoint.Snapshot{}, checkpoint.ErrNotFound
	}
	return checkpoint.Decode(b.data)
}

// Save replaces the stored snapshot.
func (b *Backend) Save(_ context.Context, snap checkpoint.Snapshot) error {
	data, err := checkpoint.Encode(snap)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.data = data
	b.mu.Unlock()
	return nil
}

// Bytes returns the raw stored document, or nil if nothing was saved.
func (b *Backend) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]byte(nil), b.data...)
}
