// Package file persists checkpoint snapshots as a JSON file on local disk.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"cwtail/internal/checkpoint"
)

// Backend stores the snapshot at a fixed path.
//
// Saves write a temporary file in the same directory, fsync it, rename it
// over the previous snapshot and fsync the directory. Readers never observe
// a partial write.
type Backend struct {
	path string
}

var _ checkpoint.Backend = (*Backend)(nil)

// New creates a Backend for path. The parent directory is created on the
// first save.
func New(path string) *Backend {
	return &Backend{path: path}
}

// Path returns the snapshot path.
func (b *Backend) Path() string {
	return b.path
}

// Load reads and decodes the snapshot file.
func (b *Backend) Load(context.Context) (checkpoint.Snapshot, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return checkpoint.Snapshot{}, checkpoint.ErrNotFound
	}
	if err != nil {
		return checkpoint.Snapshot{}, fmt.Errorf("read checkpoint %s: %w", b.path, err)
	}
	snap, err := checkpoint.Decode(data)
	if err != nil {
		return checkpoint.Snapshot{}, fmt.Errorf("%s: %w", b.path, err)
	}
	return snap, nil
}

// Save atomically replaces the snapshot file.
func (b *Backend) Save(_ context.Context, snap checkpoint.Snapshot) error {
	data, err := checkpoint.Encode(snap)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename checkpoint into place: %w", err)
	}

	// Make the rename durable.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}
