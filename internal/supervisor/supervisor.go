// Package supervisor owns the worker lifecycle: it launches workers for
// unassigned streams, notices dead ones and releases their streams for
// relaunch.
//
// A scan runs in two passes over a copy of the registry. The first pass
// launches a new worker for every unassigned stream; the second finds
// assigned handles that are no longer alive, logs them and marks the
// stream unassigned so the next scan relaunches it. Dead handles are
// discarded, never restarted.
//
// A stream is never launched while a worker the supervisor started for it
// earlier is still running. Discovery may retire a stream and admit it
// again before the retired worker has finished its last iteration; the
// relaunch waits until that worker exits so its final cursor write cannot
// land after a successor's.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"cwtail/internal/logging"
	"cwtail/internal/metrics"
	"cwtail/internal/registry"
	"cwtail/internal/stream"
)

// Worker is a handle the supervisor can start and wait for.
type Worker interface {
	registry.Handle
	Stream() stream.ID
	Start(ctx context.Context)
	StartedAt() time.Time
	Done() <-chan struct{}
}

// Config configures a Supervisor.
type Config struct {
	Registry *registry.Registry

	// NewWorker creates an unstarted worker for a stream.
	NewWorker func(id stream.ID) Worker

	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// Now is used for log timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Supervisor launches and watches workers.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	running map[stream.ID]Worker // last launched worker per stream
}

// ScanResult summarises one scan.
type ScanResult struct {
	Launched int
	Dead     int
	Alive    int

	// Draining counts unassigned streams held back because a previous
	// worker for the stream is still running.
	Draining int
}

// StreamStatus is the liveness of one tracked stream.
type StreamStatus struct {
	Group     string    `json:"group"`
	Stream    string    `json:"stream"`
	Worker    string    `json:"worker,omitempty"`
	Alive     bool      `json:"alive"`
	StartedAt time.Time `json:"started_at,omitzero"`
	Error     string    `json:"error,omitempty"`
}

// New creates a Supervisor.
func New(cfg Config) *Supervisor {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Supervisor{
		cfg:     cfg,
		logger:  logging.Default(cfg.Logger).With("component", "supervisor"),
		now:     now,
		running: make(map[stream.ID]Worker),
	}
}

// Scan launches workers for unassigned streams and releases streams whose
// worker died. Workers started here run under ctx.
func (s *Supervisor) Scan(ctx context.Context) ScanResult {
	var res ScanResult

	for _, e := range s.cfg.Registry.List() {
		if e.Assigned() || ctx.Err() != nil {
			continue
		}
		if prev := s.draining(e.ID); prev != nil {
			s.logger.Debug("previous worker still running, delaying launch",
				"group", e.ID.Group, "stream", e.ID.Name, "worker", prev.ID())
			res.Draining++
			continue
		}
		w := s.cfg.NewWorker(e.ID)
		if !s.cfg.Registry.TryAssign(e.ID, w) {
			// Retired or claimed since the listing.
			continue
		}
		s.track(w)
		w.Start(ctx)
		res.Launched++
	}

	for _, e := range s.cfg.Registry.List() {
		if !e.Assigned() {
			continue
		}
		if e.Handle.Alive() {
			res.Alive++
			continue
		}
		s.logger.Error("worker dead, releasing stream for relaunch",
			"group", e.ID.Group,
			"stream", e.ID.Name,
			"worker", e.Handle.ID(),
			"error", e.Handle.Err(),
			"detected_at", s.now().UTC(),
		)
		if s.cfg.Registry.MarkUnassigned(e.ID, e.Handle) {
			res.Dead++
			s.cfg.Metrics.WorkerRestarted()
		}
		s.untrack(e.ID, e.Handle)
	}

	s.prune()
	s.cfg.Metrics.SetWorkersAlive(res.Alive)
	s.cfg.Metrics.SetStreamsTracked(s.cfg.Registry.Len())
	if res.Launched > 0 || res.Dead > 0 {
		s.logger.Info("supervisor scan", "launched", res.Launched, "dead", res.Dead, "alive", res.Alive)
	}
	return res
}

// Status reports the liveness of every tracked stream.
func (s *Supervisor) Status() []StreamStatus {
	entries := s.cfg.Registry.List()
	out := make([]StreamStatus, 0, len(entries))
	for _, e := range entries {
		st := StreamStatus{Group: e.ID.Group, Stream: e.ID.Name}
		if e.Assigned() {
			st.Worker = e.Handle.ID()
			st.Alive = e.Handle.Alive()
			if err := e.Handle.Err(); err != nil {
				st.Error = err.Error()
			}
			if w, ok := e.Handle.(Worker); ok {
				st.StartedAt = w.StartedAt()
			}
		}
		out = append(out, st)
	}
	return out
}

// LogStatus writes a liveness summary at info and one line per stream at
// debug.
func (s *Supervisor) LogStatus() {
	status := s.Status()
	alive := 0
	for _, st := range status {
		if st.Alive {
			alive++
		}
		s.logger.Debug("stream status",
			"group", st.Group,
			"stream", st.Stream,
			"worker", st.Worker,
			"alive", st.Alive,
			"started_at", st.StartedAt,
		)
	}
	s.logger.Info("worker status", "tracked", len(status), "alive", alive)
}

// StopAll stops every worker the supervisor launched, including workers
// of retired streams that are still finishing, and waits for them to exit
// or for ctx to end.
func (s *Supervisor) StopAll(ctx context.Context) error {
	s.mu.Lock()
	workers := make([]Worker, 0, len(s.running))
	for _, w := range s.running {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	for _, w := range workers {
		w.Stop()
	}
	for _, w := range workers {
		select {
		case <-w.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.prune()
	s.logger.Info("all workers stopped", "workers", len(workers))
	return nil
}

func (s *Supervisor) track(w Worker) {
	s.mu.Lock()
	s.running[w.Stream()] = w
	s.mu.Unlock()
}

func (s *Supervisor) untrack(id stream.ID, h registry.Handle) {
	s.mu.Lock()
	if w, ok := s.running[id]; ok && w.ID() == h.ID() {
		delete(s.running, id)
	}
	s.mu.Unlock()
}

// draining returns the live worker previously launched for id, if any.
func (s *Supervisor) draining(id stream.ID) Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.running[id]; ok && w.Alive() {
		return w
	}
	return nil
}

// prune forgets workers that have exited.
func (s *Supervisor) prune() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, w := range s.running {
		if !w.Alive() {
			delete(s.running, id)
		}
	}
}
