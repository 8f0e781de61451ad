// Package sink defines the consumers that receive decoded log records and
// the dispatcher that fans records out to them.
//
// Sinks are built once at startup from configuration, in configuration
// order, through a Factory per sink type. A sink is shared by every worker,
// so Process must be safe for concurrent use.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cwtail/internal/logging"
	"cwtail/internal/metrics"
	"cwtail/internal/stream"
)

// Sink consumes records. Process must not retain or mutate rec.
type Sink interface {
	Name() string
	Process(ctx context.Context, rec stream.Record) error
	Close() error
}

// Factory builds a sink from flat string params.
type Factory func(name string, params map[string]string, logger *slog.Logger) (Sink, error)

// Spec describes one configured sink.
type Spec struct {
	Type   string
	Name   string
	Params map[string]string
}

// Build constructs sinks in order. On failure every sink built so far is
// closed.
func Build(specs []Spec, factories map[string]Factory, logger *slog.Logger) ([]Sink, error) {
	sinks := make([]Sink, 0, len(specs))
	for _, spec := range specs {
		f, ok := factories[spec.Type]
		if !ok {
			closeAll(sinks)
			return nil, fmt.Errorf("unknown sink type %q", spec.Type)
		}
		name := spec.Name
		if name == "" {
			name = spec.Type
		}
		s, err := f(name, spec.Params, logger)
		if err != nil {
			closeAll(sinks)
			return nil, fmt.Errorf("sink %s: %w", name, err)
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

func closeAll(sinks []Sink) error {
	var errs []error
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Sinks   []Sink
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Dispatcher delivers each record to every sink in order. A failing or
// panicking sink never stops delivery to the others.
type Dispatcher struct {
	sinks   []Sink
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		sinks:   cfg.Sinks,
		metrics: cfg.Metrics,
		logger:  logging.Default(cfg.Logger).With("component", "dispatch"),
	}
}

// Dispatch delivers recs in order and returns how many (record, sink)
// deliveries failed.
func (d *Dispatcher) Dispatch(ctx context.Context, recs []stream.Record) int {
	failed := 0
	for _, rec := range recs {
		for _, s := range d.sinks {
			if err := d.deliver(ctx, s, rec); err != nil {
				failed++
				d.metrics.SinkFailed(s.Name())
				d.logger.Warn("sink failed",
					"sink", s.Name(),
					"group", rec.Stream.Group,
					"stream", rec.Stream.Name,
					"error", err,
				)
				continue
			}
			d.metrics.Dispatched(s.Name())
		}
	}
	return failed
}

func (d *Dispatcher) deliver(ctx context.Context, s Sink, rec stream.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Process(ctx, rec)
}

// Close closes every sink.
func (d *Dispatcher) Close() error {
	return closeAll(d.sinks)
}

// Names lists the sinks in dispatch order.
func (d *Dispatcher) Names() []string {
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	return names
}
