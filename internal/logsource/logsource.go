// Package logsource defines the contract cwtail consumes from a remote log
// service: listing groups and streams, and paging through events.
package logsource

import (
	"context"
	"errors"
	"net"
	"time"

	"cwtail/internal/stream"
)

var (
	// ErrStreamNotFound means the stream or its group no longer exists.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrAccessDenied means the credentials may not read the resource.
	ErrAccessDenied = errors.New("access denied")

	// ErrThrottled means the service rejected the call for rate reasons.
	ErrThrottled = errors.New("throttled")
)

// Group is a named collection of streams.
type Group struct {
	Name         string
	CreationTime time.Time
}

// Event is one log event as returned by the source.
type Event struct {
	Message       string
	Timestamp     time.Time
	IngestionTime time.Time
}

// FetchRequest asks for one page of events.
type FetchRequest struct {
	Stream stream.ID

	// Cursor is the token returned by the previous page. Empty starts a
	// new read according to StartTime.
	Cursor string

	// Limit caps the number of events in the page.
	Limit int

	// StartTime bounds reads without a cursor. Zero means the source
	// default (most recent events).
	StartTime time.Time
}

// Page is one batch of events plus the cursor for the next call. An empty
// NextCursor marks the end of the stream.
type Page struct {
	Events     []Event
	NextCursor string
}

// Source is the remote log service. Listing methods drain pagination
// before returning.
type Source interface {
	ListGroups(ctx context.Context, prefix string) ([]Group, error)
	ListStreams(ctx context.Context, group string) ([]stream.Discovered, error)
	FetchEvents(ctx context.Context, req FetchRequest) (Page, error)
}

// retryableError marks an error as transient.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable marks err as transient. A nil err stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether a failed call may succeed if repeated:
// throttling, errors marked with Retryable, and network timeouts.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrThrottled) {
		return true
	}
	var re *retryableError
	if errors.As(err, &re) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
