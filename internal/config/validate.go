package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"cwtail/internal/logging"
	"cwtail/internal/stream"
)

// Validate checks the configuration for values the process cannot run
// with. All problems are reported together.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if len(c.Discovery.Groups) == 0 && c.Discovery.Prefix == "" {
		add("discovery: at least one group or a group prefix is required")
	}
	if c.Discovery.Lookback < 0 {
		add("discovery.lookback must not be negative")
	}
	if _, err := stream.NewFilter(c.FilterConfig()); err != nil {
		add("discovery: %w", err)
	}

	positive := map[string]time.Duration{
		"discovery.interval":   c.Discovery.Interval,
		"worker.poll_interval": c.Worker.PollInterval,
		"worker.max_backoff":   c.Worker.MaxBackoff,
		"supervisor.interval":  c.Supervisor.Interval,
		"checkpoint.interval":  c.Checkpoint.Interval,
	}
	for _, key := range slices.Sorted(maps.Keys(positive)) {
		if positive[key] <= 0 {
			add("%s must be positive", key)
		}
	}
	if c.Supervisor.StatusInterval < 0 {
		add("supervisor.status_interval must not be negative")
	}

	if c.Worker.PageSize < 1 || c.Worker.PageSize > 10000 {
		add("worker.page_size must be between 1 and 10000, got %d", c.Worker.PageSize)
	}
	if c.Worker.RateLimit < 0 {
		add("worker.rate_limit must not be negative")
	}
	if c.Worker.RateLimit > 0 && c.Worker.RateBurst < 1 {
		add("worker.rate_burst must be at least 1 when rate_limit is set")
	}
	if _, err := c.Worker.StartTime(time.Now()); err != nil {
		add("%w", err)
	}

	if !slices.Contains(BackendTypes, c.Checkpoint.Backend) {
		add("unknown checkpoint backend %q", c.Checkpoint.Backend)
	}
	switch c.Checkpoint.Backend {
	case "s3", "gcs":
		if c.Checkpoint.Bucket == "" {
			add("checkpoint.bucket is required for the %s backend", c.Checkpoint.Backend)
		}
	case "azure":
		if c.Checkpoint.Container == "" || c.Checkpoint.ConnectionString == "" {
			add("checkpoint.container and checkpoint.connection_string are required for the azure backend")
		}
	}

	names := make(map[string]bool, len(c.Sinks))
	for i, s := range c.Sinks {
		if !slices.Contains(SinkTypes, s.Type) {
			add("sinks[%d]: unknown sink type %q", i, s.Type)
		}
		if names[s.Name] {
			add("sinks[%d]: duplicate sink name %q", i, s.Name)
		}
		names[s.Name] = true
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %w", err)
	}
	for comp, lvl := range c.Log.Components {
		if _, err := logging.ParseLevel(lvl); err != nil {
			add("log.components.%s: %w", comp, err)
		}
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		add("log.format must be text or json, got %q", c.Log.Format)
	}

	return errors.Join(errs...)
}

// FilterConfig returns the stream filter settings.
func (c Config) FilterConfig() stream.FilterConfig {
	return stream.FilterConfig{
		Include: c.Discovery.Include,
		Exclude: c.Discovery.Exclude,
		Regex:   c.Discovery.Regex,
	}
}

// StartTime resolves the start mode against now. The zero time means the
// source's own default (its most recent events).
func (w WorkerConfig) StartTime(now time.Time) (time.Time, error) {
	switch w.Start {
	case "", StartNow:
		return now, nil
	case StartTail:
		return time.Time{}, nil
	}
	d, err := time.ParseDuration(w.Start)
	if err != nil || d <= 0 {
		return time.Time{}, fmt.Errorf("worker.start must be %q, %q or a positive duration, got %q", StartNow, StartTail, w.Start)
	}
	return now.Add(-d), nil
}
