// Package orchestrator wires the tailing core together and drives it: it
// owns the registry, checkpoint store, persister, discovery loop and
// supervisor, schedules their periodic duties, and shuts them down in
// order.
//
// Orchestrator does not contain tailing logic; it only wires components.
//
// Logging:
//   - Startup and shutdown steps are logged at info
//   - Scheduled duties log through their own components
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"cwtail/internal/checkpoint"
	"cwtail/internal/config"
	"cwtail/internal/discovery"
	"cwtail/internal/logging"
	"cwtail/internal/logsource"
	"cwtail/internal/metrics"
	"cwtail/internal/registry"
	"cwtail/internal/sink"
	"cwtail/internal/stream"
	"cwtail/internal/supervisor"
	"cwtail/internal/worker"
)

var (
	// ErrAlreadyRunning is returned by Run on an orchestrator that is running.
	ErrAlreadyRunning = errors.New("orchestrator already running")
)

// Job names.
const (
	jobDiscovery  = "discovery"
	jobSupervisor = "supervisor"
	jobCheckpoint = "checkpoint"
	jobStatus     = "status"
)

type job struct {
	name  string
	every time.Duration
	fn    func()
}

// shutdownTimeout bounds how long Run waits for workers and the final
// checkpoint persist once its context is cancelled.
const shutdownTimeout = 30 * time.Second

// Config holds the orchestrator's settings and collaborators.
type Config struct {
	// Settings is the validated process configuration.
	Settings config.Config

	Source  logsource.Source
	Backend checkpoint.Backend

	// Sinks in dispatch order. The orchestrator closes them on shutdown.
	Sinks []sink.Sink

	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// Now resolves the start time of streams without a checkpoint.
	// Defaults to time.Now.
	Now func() time.Time
}

// Orchestrator coordinates discovery, workers and checkpointing.
//
// Concurrency model:
//   - Registry and Store are the only shared mutable state
//   - Scheduled jobs never overlap themselves
//   - Workers run on their own goroutines, launched by the supervisor
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger

	store      *checkpoint.Store
	registry   *registry.Registry
	persister  *checkpoint.Persister
	dispatcher *sink.Dispatcher
	discovery  *discovery.Discovery
	supervisor *supervisor.Supervisor
	scheduler  *Scheduler

	mu      sync.Mutex
	running bool
}

// New builds the core components. Nothing runs until Run.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Source == nil {
		return nil, errors.New("orchestrator requires a log source")
	}
	if cfg.Backend == nil {
		return nil, errors.New("orchestrator requires a checkpoint backend")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := logging.Default(cfg.Logger)
	s := cfg.Settings

	filter, err := stream.NewFilter(s.FilterConfig())
	if err != nil {
		return nil, err
	}
	startTime, err := s.Worker.StartTime(now())
	if err != nil {
		return nil, err
	}
	sched, err := newScheduler(logger.With("component", "scheduler"))
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:      cfg,
		logger:   logger.With("component", "orchestrator"),
		store:    checkpoint.NewStore(),
		registry: registry.New(),
		dispatcher: sink.NewDispatcher(sink.DispatcherConfig{
			Sinks:   cfg.Sinks,
			Metrics: cfg.Metrics,
			Logger:  logger,
		}),
		scheduler: sched,
	}
	o.persister = checkpoint.NewPersister(checkpoint.PersisterConfig{
		Store:   o.store,
		Backend: cfg.Backend,
		Metrics: cfg.Metrics,
		Logger:  logger,
	})
	o.discovery = discovery.New(discovery.Config{
		Source:   cfg.Source,
		Registry: o.registry,
		Groups:   s.Discovery.Groups,
		Prefix:   s.Discovery.Prefix,
		Lookback: s.Discovery.Lookback,
		Filter:   filter,
		Metrics:  cfg.Metrics,
		Logger:   logger,
	})

	workerCfg := worker.Config{
		Source:       cfg.Source,
		Store:        o.store,
		Registry:     o.registry,
		Dispatcher:   o.dispatcher,
		Limiter:      newLimiter(s.Worker),
		PollInterval: s.Worker.PollInterval,
		MaxBackoff:   s.Worker.MaxBackoff,
		PageSize:     s.Worker.PageSize,
		StartTime:    startTime,
		Metrics:      cfg.Metrics,
		Logger:       logger,
	}
	o.supervisor = supervisor.New(supervisor.Config{
		Registry: o.registry,
		NewWorker: func(id stream.ID) supervisor.Worker {
			return worker.New(id, workerCfg)
		},
		Metrics: cfg.Metrics,
		Logger:  logger,
	})
	return o, nil
}

// newLimiter returns the limiter shared by all workers, or nil when rate
// limiting is disabled.
func newLimiter(w config.WorkerConfig) *rate.Limiter {
	if w.RateLimit <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(w.RateLimit), max(w.RateBurst, 1))
}

// Run loads the checkpoint, performs a first discovery pass and supervisor
// scan, then keeps the scheduled duties running until ctx is cancelled.
//
// Ordered shutdown:
//  1. Stop the scheduler (waits for in-progress jobs)
//  2. Stop every worker and wait for it to exit
//  3. Persist the checkpoint one last time
//  4. Close sinks and the backend
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	o.running = true
	o.mu.Unlock()

	s := o.cfg.Settings
	o.logger.Info("starting",
		"groups", s.Discovery.Groups,
		"prefix", s.Discovery.Prefix,
		"lookback", s.Discovery.Lookback,
		"sinks", o.dispatcher.Names(),
	)

	o.persister.Load(ctx)

	if _, err := o.discovery.RunOnce(ctx); err != nil {
		o.logger.Warn("initial discovery failed, retrying on schedule", "error", err)
	}
	o.supervisor.Scan(ctx)

	jobs := []job{
		{jobDiscovery, s.Discovery.Interval, func() { _, _ = o.discovery.RunOnce(ctx) }},
		{jobSupervisor, s.Supervisor.Interval, func() { o.supervisor.Scan(ctx) }},
		{jobCheckpoint, s.Checkpoint.Interval, func() { _ = o.persister.PersistOnce(ctx) }},
	}
	if s.Supervisor.StatusInterval > 0 {
		jobs = append(jobs, job{jobStatus, s.Supervisor.StatusInterval, o.supervisor.LogStatus})
	}
	for _, j := range jobs {
		if err := o.scheduler.AddJob(j.name, j.every, j.fn); err != nil {
			return errors.Join(err, o.shutdown())
		}
	}
	o.scheduler.Start()

	<-ctx.Done()
	o.logger.Info("shutting down")
	return o.shutdown()
}

func (o *Orchestrator) shutdown() error {
	var errs []error
	if err := o.scheduler.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := o.supervisor.StopAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop workers: %w", err))
	}
	if err := o.persister.PersistOnce(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := o.dispatcher.Close(); err != nil {
		errs = append(errs, err)
	}
	if c, ok := o.cfg.Backend.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close checkpoint backend: %w", err))
		}
	}

	o.mu.Lock()
	o.running = false
	o.mu.Unlock()

	if err := errors.Join(errs...); err != nil {
		o.logger.Error("shutdown finished with errors", "error", err)
		return err
	}
	o.logger.Info("shutdown complete", "streams", o.store.Len())
	return nil
}

// Status reports per-stream worker liveness.
func (o *Orchestrator) Status() []supervisor.StreamStatus {
	return o.supervisor.Status()
}

// Jobs lists the scheduled duties.
func (o *Orchestrator) Jobs() []JobInfo {
	return o.scheduler.ListJobs()
}

// Report is the document served on /status.
type Report struct {
	Streams []supervisor.StreamStatus `json:"streams"`
	Jobs    []JobInfo                 `json:"jobs"`
}

// Report combines stream liveness with the scheduled duties.
func (o *Orchestrator) Report() Report {
	return Report{Streams: o.Status(), Jobs: o.Jobs()}
}

// Store returns the checkpoint store.
func (o *Orchestrator) Store() *checkpoint.Store {
	return o.store
}

// Registry returns the stream registry.
func (o *Orchestrator) Registry() *registry.Registry {
	return o.registry
}
