// Package memory provides an in-memory log source for tests and local runs.
//
// Cursors are "f/<offset>" tokens. Like CloudWatch, a page with no new
// events returns the same cursor it was given; only an empty page from a
// closed stream returns an empty cursor, so the last page with events
// always hands back a cursor past it.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"cwtail/internal/logsource"
	"cwtail/internal/stream"
)

type memStream struct {
	lastEvent time.Time
	created   time.Time
	events    []logsource.Event
	closed    bool
	fetchErr  error
	failNext  []error
}

type memGroup struct {
	created time.Time
	streams map[string]*memStream
	listErr error
}

// Source is an in-memory logsource.Source. Safe for concurrent use.
type Source struct {
	mu         sync.Mutex
	groups     map[string]*memGroup
	listGrpErr error
	fetches    map[stream.ID][]logsource.FetchRequest
	fetchHook  func(logsource.FetchRequest)
}

var _ logsource.Source = (*Source)(nil)

// New creates an empty Source.
func New() *Source {
	return &Source{
		groups:  make(map[string]*memGroup),
		fetches: make(map[stream.ID][]logsource.FetchRequest),
	}
}

func (s *Source) group(name string) *memGroup {
	g, ok := s.groups[name]
	if !ok {
		g = &memGroup{created: time.Now(), streams: make(map[string]*memStream)}
		s.groups[name] = g
	}
	return g
}

func (s *Source) stream(id stream.ID) *memStream {
	g := s.group(id.Group)
	st, ok := g.streams[id.Name]
	if !ok {
		st = &memStream{created: time.Now()}
		g.streams[id.Name] = st
	}
	return st
}

// AddGroup creates an empty group.
func (s *Source) AddGroup(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.group(name)
}

// AddStream creates a stream (and its group) with the given last-event time.
func (s *Source) AddStream(id stream.ID, lastEvent time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stream(id).lastEvent = lastEvent
}

// Append adds events to a stream, creating it if needed, and advances its
// last-event time.
func (s *Source) Append(id stream.ID, events ...logsource.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stream(id)
	st.events = append(st.events, events...)
	for _, e := range events {
		if e.Timestamp.After(st.lastEvent) {
			st.lastEvent = e.Timestamp
		}
	}
}

// AppendMessages appends one event per message, timestamped now.
func (s *Source) AppendMessages(id stream.ID, messages ...string) {
	now := time.Now()
	events := make([]logsource.Event, len(messages))
	for i, m := range messages {
		events[i] = logsource.Event{Message: m, Timestamp: now, IngestionTime: now}
	}
	s.Append(id, events...)
}

// CloseStream marks a stream closed: a fetch that starts at the end of a
// closed stream returns no events and an empty cursor.
func (s *Source) CloseStream(id stream.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stream(id).closed = true
}

// RemoveStream deletes a stream. Later fetches fail with ErrStreamNotFound.
func (s *Source) RemoveStream(id stream.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.groups[id.Group]; ok {
		delete(g.streams, id.Name)
	}
}

// SetListGroupsError makes ListGroups fail until cleared with nil.
func (s *Source) SetListGroupsError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listGrpErr = err
}

// SetListStreamsError makes ListStreams fail for one group until cleared.
func (s *Source) SetListStreamsError(group string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.group(group).listErr = err
}

// SetFetchError makes every fetch of the stream fail until cleared.
func (s *Source) SetFetchError(id stream.ID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stream(id).fetchErr = err
}

// FailNextFetch queues one-shot errors for the stream's next fetches.
func (s *Source) FailNextFetch(id stream.ID, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stream(id)
	st.failNext = append(st.failNext, errs...)
}

// OnFetch installs a hook called (without the lock held) before every fetch.
func (s *Source) OnFetch(fn func(logsource.FetchRequest)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchHook = fn
}

// Fetches returns the requests made for a stream, in order.
func (s *Source) Fetches(id stream.ID) []logsource.FetchRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.fetches[id])
}

func (s *Source) ListGroups(ctx context.Context, prefix string) ([]logsource.Group, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listGrpErr != nil {
		return nil, s.listGrpErr
	}
	var out []logsource.Group
	for name, g := range s.groups {
		if strings.HasPrefix(name, prefix) {
			out = append(out, logsource.Group{Name: name, CreationTime: g.created})
		}
	}
	slices.SortFunc(out, func(a, b logsource.Group) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *Source) ListStreams(ctx context.Context, group string) ([]stream.Discovered, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[group]
	if !ok {
		return nil, fmt.Errorf("group %s: %w", group, logsource.ErrStreamNotFound)
	}
	if g.listErr != nil {
		return nil, g.listErr
	}
	out := make([]stream.Discovered, 0, len(g.streams))
	for name, st := range g.streams {
		out = append(out, stream.Discovered{
			ID:            stream.ID{Group: group, Name: name},
			LastEventTime: st.lastEvent,
			CreationTime:  st.created,
		})
	}
	slices.SortFunc(out, func(a, b stream.Discovered) int { return strings.Compare(a.ID.Name, b.ID.Name) })
	return out, nil
}

func (s *Source) FetchEvents(ctx context.Context, req logsource.FetchRequest) (logsource.Page, error) {
	if err := ctx.Err(); err != nil {
		return logsource.Page{}, err
	}

	s.mu.Lock()
	hook := s.fetchHook
	s.fetches[req.Stream] = append(s.fetches[req.Stream], req)
	s.mu.Unlock()
	if hook != nil {
		hook(req)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[req.Stream.Group]
	if !ok {
		return logsource.Page{}, fmt.Errorf("%s: %w", req.Stream, logsource.ErrStreamNotFound)
	}
	st, ok := g.streams[req.Stream.Name]
	if !ok {
		return logsource.Page{}, fmt.Errorf("%s: %w", req.Stream, logsource.ErrStreamNotFound)
	}
	if len(st.failNext) > 0 {
		err := st.failNext[0]
		st.failNext = st.failNext[1:]
		return logsource.Page{}, err
	}
	if st.fetchErr != nil {
		return logsource.Page{}, st.fetchErr
	}

	offset, err := s.startOffset(st, req)
	if err != nil {
		return logsource.Page{}, err
	}
	end := len(st.events)
	if req.Limit > 0 && offset+req.Limit < end {
		end = offset + req.Limit
	}
	page := logsource.Page{Events: slices.Clone(st.events[offset:end])}
	if !(st.closed && offset == len(st.events)) {
		page.NextCursor = "f/" + strconv.Itoa(end)
	}
	return page, nil
}

func (s *Source) startOffset(st *memStream, req logsource.FetchRequest) (int, error) {
	if req.Cursor == "" {
		if req.StartTime.IsZero() {
			return 0, nil
		}
		for i, e := range st.events {
			if !e.Timestamp.Before(req.StartTime) {
				return i, nil
			}
		}
		return len(st.events), nil
	}
	n, err := strconv.Atoi(strings.TrimPrefix(req.Cursor, "f/"))
	if err != nil || !strings.HasPrefix(req.Cursor, "f/") || n < 0 || n > len(st.events) {
		return 0, fmt.Errorf("invalid cursor %q", req.Cursor)
	}
	return n, nil
}
