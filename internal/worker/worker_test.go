package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/time/rate"

	"cwtail/internal/checkpoint"
	"cwtail/internal/logsource"
	"cwtail/internal/logsource/memory"
	"cwtail/internal/metrics"
	"cwtail/internal/registry"
	"cwtail/internal/stream"
)

var id = stream.ID{Group: "/ecs/api", Name: "web/1"}

// recorder is a Dispatcher that remembers every message and can be told to
// panic after recording a page.
type recorder struct {
	mu       sync.Mutex
	messages []string
	panicOn  int // panic on the Nth page (1-based); 0 never
	pages    int
}

func (r *recorder) Dispatch(_ context.Context, recs []stream.Record) int {
	r.mu.Lock()
	r.pages++
	for _, rec := range recs {
		r.messages = append(r.messages, rec.Message)
	}
	page := r.pages
	r.mu.Unlock()

	if page == r.panicOn {
		panic("process died")
	}
	return 0
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

type fixture struct {
	src   *memory.Source
	store *checkpoint.Store
	reg   *registry.Registry
	rec   *recorder
	m     *metrics.Metrics
}

func newFixture() *fixture {
	return &fixture{
		src:   memory.New(),
		store: checkpoint.NewStore(),
		reg:   registry.New(),
		rec:   &recorder{},
		m:     metrics.New(),
	}
}

func (f *fixture) config() Config {
	return Config{
		Source:       f.src,
		Store:        f.store,
		Registry:     f.reg,
		Dispatcher:   f.rec,
		Limiter:      rate.NewLimiter(rate.Inf, 1),
		PollInterval: time.Millisecond,
		MaxBackoff:   5 * time.Millisecond,
		PageSize:     2,
		Metrics:      f.m,
	}
}

// launch registers, assigns and starts a worker the way the supervisor does.
func (f *fixture) launch(t *testing.T) *Handle {
	t.Helper()
	f.reg.Register(id)
	h := New(id, f.config())
	if !f.reg.TryAssign(id, h) {
		t.Fatal("TryAssign failed")
	}
	h.Start(context.Background())
	t.Cleanup(func() {
		h.Stop()
		waitDone(t, h)
	})
	return h
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestColdStartUsesAbsentCursor(t *testing.T) {
	f := newFixture()
	f.src.AppendMessages(id, "a", "b", "c")

	f.launch(t)
	waitFor(t, func() bool { return len(f.rec.got()) == 3 })

	fetches := f.src.Fetches(id)
	if fetches[0].Cursor != "" {
		t.Errorf("first fetch cursor = %q, want absent", fetches[0].Cursor)
	}
	if fetches[0].Limit != 2 {
		t.Errorf("page size = %d, want 2", fetches[0].Limit)
	}
	got := f.rec.got()
	for i, want := range []string{"a", "b", "c"} {
		if got[i] != want {
			t.Errorf("[%d] = %q, want %q", i, got[i], want)
		}
	}
	waitFor(t, func() bool {
		c, ok := f.store.Get(id)
		return ok && c == "f/3"
	})
}

func TestStartTimeOnlyWithoutCursor(t *testing.T) {
	f := newFixture()
	f.src.AppendMessages(id, "a")
	start := time.Now().Add(-time.Minute)

	f.reg.Register(id)
	cfg := f.config()
	cfg.StartTime = start
	h := New(id, cfg)
	f.reg.TryAssign(id, h)
	h.Start(context.Background())
	defer func() { h.Stop(); waitDone(t, h) }()

	waitFor(t, func() bool { return len(f.src.Fetches(id)) >= 2 })
	fetches := f.src.Fetches(id)
	if !fetches[0].StartTime.Equal(start) {
		t.Errorf("first fetch StartTime = %v, want %v", fetches[0].StartTime, start)
	}
	if !fetches[1].StartTime.IsZero() || fetches[1].Cursor == "" {
		t.Errorf("second fetch should use the cursor, got %+v", fetches[1])
	}
}

func TestResumesFromCheckpoint(t *testing.T) {
	f := newFixture()
	f.src.AppendMessages(id, "a", "b", "c")
	f.store.Set(id, "f/2")

	f.launch(t)
	waitFor(t, func() bool { return len(f.rec.got()) == 1 })
	if got := f.rec.got(); got[0] != "c" {
		t.Errorf("resumed at %q, want c", got[0])
	}
}

func TestCrashBeforeCheckpointRedelivers(t *testing.T) {
	f := newFixture()
	f.src.AppendMessages(id, "a", "b", "c", "d")
	f.store.Set(id, "f/0")

	// First page succeeds, the second page's dispatch dies before the
	// cursor is written.
	f.rec.panicOn = 2
	h := f.launch(t)
	waitDone(t, h)

	if h.Err() == nil {
		t.Fatal("expected the crash to be recorded")
	}
	if c, _ := f.store.Get(id); c != "f/2" {
		t.Fatalf("cursor = %q, want f/2 (written for the first page only)", c)
	}

	// Restart from the stale cursor.
	f.reg.MarkUnassigned(id, h)
	f.rec.panicOn = 0
	h2 := New(id, f.config())
	f.reg.TryAssign(id, h2)
	h2.Start(context.Background())
	defer func() { h2.Stop(); waitDone(t, h2) }()

	waitFor(t, func() bool { return len(f.rec.got()) >= 6 })
	got := f.rec.got()
	want := []string{"a", "b", "c", "d", "c", "d"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delivered %v, want %v", got, want)
		}
	}
	if v := testutil.ToFloat64(f.m.WorkerExits.WithLabelValues("panic")); v != 1 {
		t.Errorf("panic exits = %v, want 1", v)
	}
}

func TestEndOfStreamUnassigns(t *testing.T) {
	f := newFixture()
	f.src.AppendMessages(id, "a", "b", "c")
	f.src.CloseStream(id)

	h := f.launch(t)
	waitDone(t, h)

	if h.Err() != nil {
		t.Errorf("end of stream is a normal exit, got %v", h.Err())
	}
	e, ok := f.reg.Get(id)
	if !ok || e.Assigned() {
		t.Errorf("expected entry to remain tracked and unassigned, got %+v ok=%v", e, ok)
	}
	if c, _ := f.store.Get(id); c != "f/3" {
		t.Errorf("cursor = %q, want f/3", c)
	}
	if len(f.rec.got()) != 3 {
		t.Errorf("delivered %v", f.rec.got())
	}
	if v := testutil.ToFloat64(f.m.WorkerExits.WithLabelValues("end_of_stream")); v != 1 {
		t.Errorf("end_of_stream exits = %v, want 1", v)
	}
}

func TestTerminalErrorLeavesDeadHandle(t *testing.T) {
	f := newFixture()
	f.src.AddStream(id, time.Now())
	f.src.RemoveStream(id)

	h := f.launch(t)
	waitDone(t, h)

	if !errors.Is(h.Err(), logsource.ErrStreamNotFound) {
		t.Errorf("Err = %v, want ErrStreamNotFound", h.Err())
	}
	if h.Alive() {
		t.Error("handle should be dead")
	}
	e, _ := f.reg.Get(id)
	if e.Handle != h {
		t.Error("dead handle should stay assigned for the supervisor to find")
	}
	if v := testutil.ToFloat64(f.m.FetchErrors.WithLabelValues("terminal")); v != 1 {
		t.Errorf("terminal fetch errors = %v, want 1", v)
	}
}

func TestRetryableErrorRetries(t *testing.T) {
	f := newFixture()
	f.src.AppendMessages(id, "a")
	f.src.FailNextFetch(id, logsource.ErrThrottled, logsource.Retryable(errors.New("503")))

	h := f.launch(t)
	waitFor(t, func() bool { return len(f.rec.got()) == 1 })

	if !h.Alive() {
		t.Error("retryable errors must not kill the worker")
	}
	if v := testutil.ToFloat64(f.m.FetchErrors.WithLabelValues("retryable")); v != 2 {
		t.Errorf("retryable fetch errors = %v, want 2", v)
	}
}

func TestStopExitsBetweenIterations(t *testing.T) {
	f := newFixture()
	f.src.AddStream(id, time.Now())

	f.reg.Register(id)
	cfg := f.config()
	cfg.PollInterval = time.Hour
	h := New(id, cfg)
	f.reg.TryAssign(id, h)
	h.Start(context.Background())

	waitFor(t, func() bool { return len(f.src.Fetches(id)) == 1 })
	h.Stop()
	waitDone(t, h)

	if h.Err() != nil {
		t.Errorf("stop is a normal exit, got %v", h.Err())
	}
	if v := testutil.ToFloat64(f.m.WorkerExits.WithLabelValues("stopped")); v != 1 {
		t.Errorf("stopped exits = %v, want 1", v)
	}
}

func TestContextCancelStops(t *testing.T) {
	f := newFixture()
	f.src.AddStream(id, time.Now())
	f.reg.Register(id)

	ctx, cancel := context.WithCancel(context.Background())
	h := New(id, f.config())
	f.reg.TryAssign(id, h)
	h.Start(ctx)
	cancel()
	waitDone(t, h)

	if h.Err() != nil {
		t.Errorf("cancellation is a normal exit, got %v", h.Err())
	}
}

// cancellingDispatcher cancels the worker's context after the first
// record and, like the network sinks, fails records once its context is
// done.
type cancellingDispatcher struct {
	cancel context.CancelFunc

	mu        sync.Mutex
	delivered []string
}

func (d *cancellingDispatcher) Dispatch(ctx context.Context, recs []stream.Record) int {
	failed := 0
	for i, rec := range recs {
		if ctx.Err() != nil {
			failed++
			continue
		}
		d.mu.Lock()
		d.delivered = append(d.delivered, rec.Message)
		d.mu.Unlock()
		if i == 0 {
			d.cancel()
		}
	}
	return failed
}

func TestShutdownDuringDispatchDeliversPage(t *testing.T) {
	f := newFixture()
	f.src.AppendMessages(id, "e1", "e2", "e3", "e4", "e5")
	f.reg.Register(id)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := &cancellingDispatcher{cancel: cancel}
	cfg := f.config()
	cfg.Dispatcher = d
	cfg.PageSize = 10
	h := New(id, cfg)
	f.reg.TryAssign(id, h)
	h.Start(ctx)
	waitDone(t, h)

	d.mu.Lock()
	delivered := append([]string(nil), d.delivered...)
	d.mu.Unlock()
	cursor, _ := f.store.Get(id)
	if len(delivered) != 5 {
		t.Errorf("delivered %v with cursor %q: events behind the cursor were lost", delivered, cursor)
	}
	if cursor != "f/5" {
		t.Errorf("cursor = %q, want f/5", cursor)
	}
	if v := testutil.ToFloat64(f.m.WorkerExits.WithLabelValues("stopped")); v != 1 {
		t.Errorf("stopped exits = %v, want 1", v)
	}
}

func TestHandleIdentity(t *testing.T) {
	f := newFixture()
	a, b := New(id, f.config()), New(id, f.config())
	if a.ID() == b.ID() {
		t.Error("handle ids must be unique")
	}
	if !a.Alive() {
		t.Error("unstarted handle counts as alive")
	}
	if !a.StartedAt().IsZero() {
		t.Error("unstarted handle has no start time")
	}
	if a.Stream() != id {
		t.Errorf("Stream = %v", a.Stream())
	}
}
