// Package stream defines the identity and record types shared by every
// cwtail component, plus the admission policy applied to discovered streams.
package stream

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// KeySeparator joins group and stream in the composite key form.
// Group names never contain it; stream names may.
const KeySeparator = "|"

// ErrInvalidKey is returned by ParseKey for keys without a separator.
var ErrInvalidKey = errors.New("invalid stream key")

// ID identifies one log stream. It is comparable and used as a map key.
type ID struct {
	Group string
	Name  string
}

// Key returns the composite "<group>|<stream>" form used in checkpoints
// and broker message keys.
func (id ID) Key() string {
	return id.Group + KeySeparator + id.Name
}

func (id ID) String() string {
	return id.Key()
}

// ParseKey splits a composite key on its first separator.
func ParseKey(key string) (ID, error) {
	group, name, ok := strings.Cut(key, KeySeparator)
	if !ok || group == "" {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return ID{Group: group, Name: name}, nil
}

// Record is one decoded event handed to sinks. Sinks must treat it as
// read-only.
type Record struct {
	Stream        ID
	Message       string
	Timestamp     time.Time
	IngestionTime time.Time
}

// Discovered is a stream as reported by a source listing.
type Discovered struct {
	ID            ID
	LastEventTime time.Time
	CreationTime  time.Time
}
