// Package discovery keeps the registry in step with the streams the log
// source reports.
//
// Each cycle lists the configured groups, keeps the most recently active
// streams of each group that pass the stream filter, registers the new
// ones and retires the ones that fell out. Reconciliation is per group: a
// group whose listing failed is left untouched for the cycle.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"cwtail/internal/logging"
	"cwtail/internal/logsource"
	"cwtail/internal/metrics"
	"cwtail/internal/registry"
	"cwtail/internal/stream"
)

// Config configures a Discovery.
type Config struct {
	Source   logsource.Source
	Registry *registry.Registry

	// Groups are tailed by exact name.
	Groups []string

	// Prefix, when set, adds every group whose name starts with it.
	Prefix string

	// Lookback keeps at most this many streams per group, most recent
	// first. Non-positive keeps all.
	Lookback int

	// Filter selects wanted streams. Nil accepts all.
	Filter *stream.Filter

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Discovery runs reconciliation cycles. RunOnce is not safe for concurrent
// use; the scheduler runs it as a singleton job.
type Discovery struct {
	cfg    Config
	logger *slog.Logger
}

// Result summarises one cycle.
type Result struct {
	// Admitted lists the kept streams of every successfully listed group.
	Admitted []stream.Discovered

	// FailedGroups lists groups whose stream listing failed.
	FailedGroups []string

	Added   int
	Retired int
}

// New creates a Discovery.
func New(cfg Config) *Discovery {
	return &Discovery{
		cfg:    cfg,
		logger: logging.Default(cfg.Logger).With("component", "discovery"),
	}
}

// Discover lists and ranks streams without touching the registry. The
// returned set holds every group name that was resolved, listed or not.
func (d *Discovery) Discover(ctx context.Context) (Result, map[string]bool, error) {
	groups, err := d.resolveGroups(ctx)
	if err != nil {
		return Result{}, nil, err
	}

	var res Result
	resolved := make(map[string]bool, len(groups))
	var listed []stream.Discovered
	for _, g := range groups {
		resolved[g] = true
		streams, err := d.cfg.Source.ListStreams(ctx, g)
		if err != nil {
			d.logger.Warn("list streams failed, skipping group", "group", g, "error", err)
			res.FailedGroups = append(res.FailedGroups, g)
			continue
		}
		for _, s := range streams {
			if d.cfg.Filter.Match(s.ID) {
				listed = append(listed, s)
			}
		}
	}
	res.Admitted = stream.SelectRecent(listed, d.cfg.Lookback)
	return res, resolved, nil
}

// RunOnce performs one discovery cycle. An error means the group set could
// not be resolved and the registry was left unchanged.
func (d *Discovery) RunOnce(ctx context.Context) (Result, error) {
	res, resolved, err := d.Discover(ctx)
	if err != nil {
		d.logger.Warn("discovery cycle skipped", "error", err)
		d.cfg.Metrics.DiscoveryCycle("failed")
		return Result{}, err
	}

	kept := make(map[stream.ID]bool, len(res.Admitted))
	for _, s := range res.Admitted {
		kept[s.ID] = true
		if d.cfg.Registry.Register(s.ID) {
			res.Added++
			d.logger.Info("stream admitted", "group", s.ID.Group, "stream", s.ID.Name, "last_event", s.LastEventTime)
		}
	}

	// Retire streams of listed groups that fell out of the kept set, and
	// streams of groups that no longer resolve at all.
	for _, e := range d.cfg.Registry.List() {
		if kept[e.ID] || slices.Contains(res.FailedGroups, e.ID.Group) {
			continue
		}
		d.retire(e.ID)
		res.Retired++
	}

	d.cfg.Metrics.SetStreamsTracked(d.cfg.Registry.Len())
	switch {
	case len(res.FailedGroups) > 0 && len(res.FailedGroups) == len(resolved):
		d.cfg.Metrics.DiscoveryCycle("failed")
	case len(res.FailedGroups) > 0:
		d.cfg.Metrics.DiscoveryCycle("partial")
	default:
		d.cfg.Metrics.DiscoveryCycle("ok")
	}
	d.logger.Debug("discovery cycle done",
		"groups", len(resolved),
		"failed_groups", len(res.FailedGroups),
		"tracked", d.cfg.Registry.Len(),
		"added", res.Added,
		"retired", res.Retired,
	)
	return res, nil
}

func (d *Discovery) retire(id stream.ID) {
	h, ok := d.cfg.Registry.Retire(id)
	if !ok {
		return
	}
	if h != nil {
		h.Stop()
		d.logger.Info("stream retired", "group", id.Group, "stream", id.Name, "worker", h.ID())
		return
	}
	d.logger.Info("stream retired", "group", id.Group, "stream", id.Name)
}

// resolveGroups returns the configured groups plus, if a prefix is set,
// every group matching it. Order follows configuration, then listing.
func (d *Discovery) resolveGroups(ctx context.Context) ([]string, error) {
	groups := slices.Clone(d.cfg.Groups)
	if d.cfg.Prefix != "" {
		found, err := d.cfg.Source.ListGroups(ctx, d.cfg.Prefix)
		if err != nil {
			return nil, fmt.Errorf("list groups with prefix %q: %w", d.cfg.Prefix, err)
		}
		for _, g := range found {
			groups = append(groups, g.Name)
		}
	}

	seen := make(map[string]bool, len(groups))
	out := groups[:0]
	for _, g := range groups {
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		out = append(out, g)
	}
	return out, nil
}
