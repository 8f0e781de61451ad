package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"cwtail/internal/stream"
)

// ModifiedTimeKey is the reserved metadata key of the encoded snapshot.
const ModifiedTimeKey = "modified_time"

var (
	// ErrNotFound is returned by Backend.Load when no snapshot exists.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrCorrupt is wrapped by Backend.Load when stored data cannot be decoded.
	ErrCorrupt = errors.New("checkpoint corrupt")
)

// Snapshot is a point-in-time copy of the Store.
type Snapshot struct {
	ModifiedTime time.Time
	Cursors      map[stream.ID]string
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{ModifiedTime: s.ModifiedTime, Cursors: maps.Clone(s.Cursors)}
}

// Backend stores one snapshot durably. Save must replace the previous
// snapshot atomically.
type Backend interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

// Encode renders a snapshot as a flat JSON object:
//
//	{"modified_time": "<RFC3339>", "<group>|<stream>": "<cursor>", ...}
func Encode(snap Snapshot) ([]byte, error) {
	flat := make(map[string]string, len(snap.Cursors)+1)
	for id, c := range snap.Cursors {
		flat[id.Key()] = c
	}
	flat[ModifiedTimeKey] = snap.ModifiedTime.UTC().Format(time.RFC3339Nano)
	data, err := json.MarshalIndent(flat, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return data, nil
}

// Decode parses the flat JSON form. Keys containing the stream key
// separator become cursors; every other key is metadata. A malformed
// document yields an error wrapping ErrCorrupt.
func Decode(data []byte) (Snapshot, error) {
	var flat map[string]string
	if err := json.Unmarshal(data, &flat); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	snap := Snapshot{Cursors: make(map[stream.ID]string, len(flat))}
	for k, v := range flat {
		if !strings.Contains(k, stream.KeySeparator) {
			if k == ModifiedTimeKey {
				snap.ModifiedTime = parseModified(v)
			}
			continue
		}
		id, err := stream.ParseKey(k)
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if v != "" {
			snap.Cursors[id] = v
		}
	}
	return snap, nil
}

// parseModified accepts RFC 3339 and the asctime layout written by older
// checkpoint files. Metadata never makes a snapshot corrupt, so anything
// else yields the zero time.
func parseModified(v string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.ANSIC} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
