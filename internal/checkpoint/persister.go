package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cwtail/internal/logging"
	"cwtail/internal/metrics"
)

// PersisterConfig configures a Persister.
type PersisterConfig struct {
	Store   *Store
	Backend Backend
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Persister moves snapshots between a Store and a Backend.
//
// Logging:
//   - Cold starts and load failures are logged once at startup
//   - Persist failures are logged per attempt; successes only at debug
type Persister struct {
	store   *Store
	backend Backend
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu          sync.Mutex // serialises PersistOnce
	saved       bool
	lastVersion uint64
}

// NewPersister creates a Persister.
func NewPersister(cfg PersisterConfig) *Persister {
	return &Persister{
		store:   cfg.Store,
		backend: cfg.Backend,
		metrics: cfg.Metrics,
		logger:  logging.Default(cfg.Logger).With("component", "checkpoint"),
	}
}

// Load seeds the Store from the Backend and returns the number of cursors
// restored. A missing, corrupt or unreadable snapshot is a cold start and
// never an error.
func (p *Persister) Load(ctx context.Context) int {
	snap, err := p.backend.Load(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		p.logger.Info("no checkpoint found, cold start")
		p.store.Restore(Snapshot{})
		return 0
	case errors.Is(err, ErrCorrupt):
		p.logger.Warn("checkpoint corrupt, cold start", "error", err)
		p.store.Restore(Snapshot{})
		return 0
	case err != nil:
		p.logger.Warn("checkpoint unreadable, cold start", "error", err)
		p.store.Restore(Snapshot{})
		return 0
	}
	p.store.Restore(snap)
	p.logger.Info("checkpoint loaded", "streams", len(snap.Cursors), "modified", snap.ModifiedTime)
	return len(snap.Cursors)
}

// PersistOnce saves the current Store snapshot. The write is skipped when
// the Store has not changed since the last successful save. A failed save
// leaves the Store untouched; the next call retries.
func (p *Persister) PersistOnce(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap, version := p.store.snapshot()
	if p.saved && version == p.lastVersion {
		p.metrics.Persisted("skipped", 0)
		return nil
	}
	if snap.ModifiedTime.IsZero() {
		snap.ModifiedTime = time.Now()
	}

	start := time.Now()
	if err := p.backend.Save(ctx, snap); err != nil {
		p.metrics.Persisted("error", time.Since(start))
		p.logger.Error("checkpoint persist failed", "streams", len(snap.Cursors), "error", err)
		return fmt.Errorf("persist checkpoint: %w", err)
	}
	p.metrics.Persisted("ok", time.Since(start))
	p.saved = true
	p.lastVersion = version
	p.logger.Debug("checkpoint persisted", "streams", len(snap.Cursors), "duration", time.Since(start))
	return nil
}
