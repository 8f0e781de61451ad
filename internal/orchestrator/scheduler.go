package orchestrator

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// JobInfo describes a registered scheduled job for external inspection.
type JobInfo struct {
	ID      string        `json:"id"`                // unique job ID (gocron UUID)
	Name    string        `json:"name"`              // e.g. "discovery"
	Every   time.Duration `json:"every"`             // run interval
	LastRun time.Time     `json:"last_run,omitzero"` // zero if never run
	NextRun time.Time     `json:"next_run,omitzero"` // zero if not scheduled
}

// Scheduler runs the orchestrator's periodic duties. Every job runs in
// singleton mode: a run that is still in progress when the next one is due
// makes the scheduler skip ahead instead of overlapping.
type Scheduler struct {
	mu        sync.Mutex
	scheduler gocron.Scheduler
	jobs      map[string]gocron.Job    // name → job
	every     map[string]time.Duration // name → interval (for ListJobs)
	logger    *slog.Logger
}

func newScheduler(logger *slog.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler(gocron.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{
		scheduler: s,
		jobs:      make(map[string]gocron.Job),
		every:     make(map[string]time.Duration),
		logger:    logger,
	}, nil
}

// AddJob registers a named job that runs fn every interval. The name must
// be unique.
func (s *Scheduler) AddJob(name string, every time.Duration, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("scheduled job already exists: %s", name)
	}

	j, err := s.scheduler.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(fn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("create scheduled job %s: %w", name, err)
	}

	s.jobs[name] = j
	s.every[name] = every
	s.logger.Debug("scheduled job added", "name", name, "every", every)
	return nil
}

// ListJobs returns info about all registered jobs, sorted by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, j := range s.jobs {
		info := JobInfo{
			ID:    j.ID().String(),
			Name:  name,
			Every: s.every[name],
		}
		if lr, err := j.LastRun(); err == nil {
			info.LastRun = lr
		}
		if nr, err := j.NextRun(); err == nil {
			info.NextRun = nr
		}
		infos = append(infos, info)
	}
	slices.SortFunc(infos, func(a, b JobInfo) int { return strings.Compare(a.Name, b.Name) })
	return infos
}

// Start begins executing all registered jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop shuts down the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}
