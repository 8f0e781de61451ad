// Package registry tracks which streams are being tailed and which worker,
// if any, owns each one.
//
// The Registry is the single source of truth for stream ownership. Every
// method locks once for a single identity (or a single copy for List), so a
// scan over many streams never holds the lock across the whole scan.
package registry

import (
	"cmp"
	"slices"
	"sync"

	"cwtail/internal/stream"
)

// Handle is a running (or finished) worker as seen by the registry.
// Handles are never restarted: once Alive reports false the handle is
// discarded and a new one is created.
type Handle interface {
	// ID is unique per handle, so logs distinguish successive workers for
	// the same stream.
	ID() string

	// Alive reports whether the worker goroutine is still running.
	Alive() bool

	// Stop asks the worker to exit after its current iteration.
	Stop()

	// Err returns why the worker died. Nil while alive or after a normal
	// exit.
	Err() error
}

// Entry is one tracked stream. Handle is nil while unassigned.
type Entry struct {
	ID     stream.ID
	Handle Handle
}

// Assigned reports whether a worker handle is recorded for the entry.
func (e Entry) Assigned() bool {
	return e.Handle != nil
}

// Registry maps stream identities to their worker assignment. Safe for
// concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries map[stream.ID]Handle
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[stream.ID]Handle)}
}

// List returns a copy of every entry, ordered by identity.
func (r *Registry) List() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.entries))
	for id, h := range r.entries {
		out = append(out, Entry{ID: id, Handle: h})
	}
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b Entry) int {
		if c := cmp.Compare(a.ID.Group, b.ID.Group); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.Name, b.ID.Name)
	})
	return out
}

// Register adds id as unassigned. It returns false if id is already
// tracked.
func (r *Registry) Register(id stream.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; ok {
		return false
	}
	r.entries[id] = nil
	return true
}

// TryAssign records h as the owner of id. It succeeds only when id is
// tracked and currently unassigned.
func (r *Registry) TryAssign(id stream.ID, h Handle) bool {
	if h == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.entries[id]
	if !ok || cur != nil {
		return false
	}
	r.entries[id] = h
	return true
}

// MarkUnassigned clears the assignment of id if it is still h. A stale
// handle therefore never unassigns its successor.
func (r *Registry) MarkUnassigned(id stream.ID, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.entries[id]
	if !ok || cur == nil || cur != h {
		return false
	}
	r.entries[id] = nil
	return true
}

// Retire stops tracking id and returns the handle that owned it, if any.
// The caller is responsible for stopping that handle.
func (r *Registry) Retire(id stream.ID) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	delete(r.entries, id)
	return h, true
}

// Get returns the entry for id.
func (r *Registry) Get(id stream.ID) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.entries[id]
	return Entry{ID: id, Handle: h}, ok
}

// Len returns the number of tracked streams.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
