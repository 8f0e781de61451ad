// Package worker tails a single stream: it pages through the log source
// from the stream's checkpoint cursor and hands every event to the sinks.
//
// A Handle is one run of one worker. It is created unstarted so the
// supervisor can claim the stream in the registry first, then started
// exactly once. A finished Handle is never restarted; the supervisor
// creates a new one.
//
// Exit reasons:
//   - end_of_stream: the source returned no next cursor; the worker unassigns itself
//   - stopped: Stop was called or the context was cancelled; a page
//     already fetched is delivered and checkpointed first
//   - error: a terminal fetch error; the registry entry keeps the dead handle
//   - panic: recovered inside the handle and reported through Err
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"cwtail/internal/checkpoint"
	"cwtail/internal/logging"
	"cwtail/internal/logsource"
	"cwtail/internal/metrics"
	"cwtail/internal/registry"
	"cwtail/internal/stream"
)

const (
	defaultMaxBackoff = 30 * time.Second
	minBackoff        = 1 * time.Second
)

const (
	exitEndOfStream = "end_of_stream"
	exitStopped     = "stopped"
	exitError       = "error"
	exitPanic       = "panic"
)

// Dispatcher delivers a page of records to the sinks and returns the
// number of failed deliveries.
type Dispatcher interface {
	Dispatch(ctx context.Context, recs []stream.Record) int
}

// Config holds the settings shared by every worker.
type Config struct {
	Source     logsource.Source
	Store      *checkpoint.Store
	Registry   *registry.Registry
	Dispatcher Dispatcher

	// Limiter is shared by all workers and caps the aggregate fetch rate.
	// Nil means unlimited.
	Limiter *rate.Limiter

	// PollInterval is the pause between two fetches of the same stream.
	PollInterval time.Duration

	// MaxBackoff caps the retry delay after retryable fetch errors.
	MaxBackoff time.Duration

	// PageSize is the event limit per fetch.
	PageSize int

	// StartTime bounds the first read of a stream without a cursor.
	StartTime time.Time

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Handle is one worker run for one stream. It implements registry.Handle.
type Handle struct {
	id     string
	stream stream.ID
	cfg    Config
	logger *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}

	mu        sync.Mutex
	startedAt time.Time
	err       error
}

var _ registry.Handle = (*Handle)(nil)

// New creates an unstarted worker for id.
func New(id stream.ID, cfg Config) *Handle {
	hid := newHandleID()
	return &Handle{
		id:     hid,
		stream: id,
		cfg:    cfg,
		logger: logging.Default(cfg.Logger).With(
			"component", "worker",
			"group", id.Group,
			"stream", id.Name,
			"worker", hid,
		),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func newHandleID() string {
	if u, err := uuid.NewV7(); err == nil {
		return u.String()
	}
	return uuid.NewString()
}

// ID returns the handle's unique id.
func (h *Handle) ID() string { return h.id }

// Stream returns the stream the worker tails.
func (h *Handle) Stream() stream.ID { return h.stream }

// StartedAt returns when Start was called, or the zero time.
func (h *Handle) StartedAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.startedAt
}

// Alive reports whether the worker has not yet exited. An unstarted
// handle counts as alive.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Done is closed when the worker exits.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the terminal cause after a failed exit.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Stop asks the worker to exit. An in-flight fetch completes first.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Start launches the worker goroutine. Calls after the first are no-ops.
func (h *Handle) Start(ctx context.Context) {
	h.startOnce.Do(func() {
		h.mu.Lock()
		h.startedAt = time.Now()
		h.mu.Unlock()
		go h.run(ctx)
	})
}

func (h *Handle) run(ctx context.Context) {
	defer close(h.done)
	defer func() {
		if r := recover(); r != nil {
			h.setErr(fmt.Errorf("worker panic: %v", r))
			h.logger.Error("worker panicked", "panic", r, "stack", string(debug.Stack()))
			h.cfg.Metrics.WorkerExited(exitPanic)
		}
	}()

	h.logger.Info("worker started")
	reason, err := h.loop(ctx)
	if err != nil {
		h.setErr(err)
	}
	h.cfg.Metrics.WorkerExited(reason)
	h.logger.Info("worker exited", "reason", reason)
}

func (h *Handle) setErr(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
}

func (h *Handle) loop(ctx context.Context) (string, error) {
	var backoff time.Duration
	for {
		if h.stopping(ctx) {
			return exitStopped, nil
		}

		cursor, _ := h.cfg.Store.Get(h.stream)
		if h.cfg.Limiter != nil {
			if err := h.cfg.Limiter.Wait(ctx); err != nil {
				return exitStopped, nil
			}
		}

		req := logsource.FetchRequest{Stream: h.stream, Cursor: cursor, Limit: h.cfg.PageSize}
		if cursor == "" {
			req.StartTime = h.cfg.StartTime
		}
		page, err := h.cfg.Source.FetchEvents(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return exitStopped, nil
			}
			if logsource.IsRetryable(err) {
				h.cfg.Metrics.FetchFailed("retryable")
				backoff = h.nextBackoff(backoff)
				h.logger.Warn("fetch failed, retrying", "cursor", cursor, "error", err, "backoff", backoff)
				if !h.sleep(ctx, backoff) {
					return exitStopped, nil
				}
				continue
			}
			h.cfg.Metrics.FetchFailed("terminal")
			h.logger.Error("fetch failed, worker exiting", "cursor", cursor, "error", err)
			return exitError, fmt.Errorf("fetch %s at cursor %q: %w", h.stream, cursor, err)
		}
		backoff = 0
		h.cfg.Metrics.PageFetched()

		// A fetched page is always delivered in full, even once shutdown
		// has begun: its cursor is written right after, so a sink that
		// gave up on cancellation would lose the rest of the page.
		if len(page.Events) > 0 {
			h.dispatch(context.WithoutCancel(ctx), page.Events)
		}

		if page.NextCursor == "" {
			h.cfg.Registry.MarkUnassigned(h.stream, h)
			return exitEndOfStream, nil
		}
		h.cfg.Store.Set(h.stream, page.NextCursor)

		if !h.sleep(ctx, h.cfg.PollInterval) {
			return exitStopped, nil
		}
	}
}

func (h *Handle) dispatch(ctx context.Context, events []logsource.Event) {
	recs := make([]stream.Record, len(events))
	for i, e := range events {
		recs[i] = stream.Record{
			Stream:        h.stream,
			Message:       e.Message,
			Timestamp:     e.Timestamp,
			IngestionTime: e.IngestionTime,
		}
	}
	if failed := h.cfg.Dispatcher.Dispatch(ctx, recs); failed > 0 {
		h.logger.Debug("page dispatched with sink failures", "events", len(recs), "failed", failed)
	}
}

func (h *Handle) nextBackoff(cur time.Duration) time.Duration {
	maxBackoff := h.cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	if cur == 0 {
		return min(max(h.cfg.PollInterval, minBackoff), maxBackoff)
	}
	return min(cur*2, maxBackoff)
}

func (h *Handle) stopping(ctx context.Context) bool {
	select {
	case <-h.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// sleep waits d and reports false if the worker should exit instead.
func (h *Handle) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return !h.stopping(ctx)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-h.stop:
		return false
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
