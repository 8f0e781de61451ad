// Package checkpoint tracks the resume cursor of every stream and persists
// it across restarts.
//
// Store is the in-memory map shared by all workers. Persister periodically
// writes a Snapshot of the Store through a Backend and seeds the Store from
// it at startup.
//
// Concurrency model:
//   - Store is guarded by a single RWMutex; no method performs I/O
//   - Each stream's cursor is written only by the worker that owns it
//   - Persister is the only Backend writer
package checkpoint

import (
	"sync"
	"time"

	"cwtail/internal/stream"
)

// Store maps stream identities to cursors. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	cursors  map[stream.ID]string
	modified time.Time
	version  uint64
	now      func() time.Time
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		cursors: make(map[stream.ID]string),
		now:     time.Now,
	}
}

// Get returns the cursor for id. ok is false when no cursor is recorded.
func (s *Store) Get(id stream.ID) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cursors[id]
	return c, ok
}

// Set records cursor for id. An empty cursor is ignored: a stream never
// moves back to the absent state.
func (s *Store) Set(id stream.ID, cursor string) {
	if cursor == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursors[id] == cursor {
		return
	}
	s.cursors[id] = cursor
	s.modified = s.now()
	s.version++
}

// Snapshot returns a copy of every cursor.
func (s *Store) Snapshot() Snapshot {
	snap, _ := s.snapshot()
	return snap
}

// snapshot returns a copy together with the version it reflects.
func (s *Store) snapshot() (Snapshot, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{ModifiedTime: s.modified, Cursors: s.cursors}.Clone(), s.version
}

// Restore replaces the contents with a copy of snap.
func (s *Store) Restore(snap Snapshot) {
	cursors := make(map[stream.ID]string, len(snap.Cursors))
	for id, c := range snap.Cursors {
		if c != "" {
			cursors[id] = c
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors = cursors
	s.modified = snap.ModifiedTime
	s.version++
}

// Len returns the number of recorded cursors.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cursors)
}

// Version increases on every change.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}
