// Package logging provides utilities for structured logging across cwtail.
//
// Design principles:
//   - Logging is dependency-injected, never global
//   - Each component owns its own scoped logger ("component" attribute)
//   - Logger scoping happens once at construction time
//   - If no logger is provided, a discard logger is used
//
// Global configuration (output format, level, destination) belongs only in main().
// Components must never call slog.SetDefault or access global loggers.
//
// Logging is intentionally sparse:
//   - No logging inside per-event dispatch loops, except sink failures
//   - Lifecycle boundaries (worker start/exit, discovery changes, persist
//     failures) are the intended log points
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// discardHandler is a handler that discards all log records.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Discard returns a logger that discards all output.
// Use this as a default when no logger is provided.
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// Default returns the provided logger if non-nil, otherwise returns a discard logger.
// This is the standard pattern for optional logger parameters:
//
//	func NewComponent(cfg Config) *Component {
//	    logger := logging.Default(cfg.Logger).With("component", "name")
//	    return &Component{logger: logger}
//	}
func Default(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return Discard()
}

// NewHandler builds the base output handler for main(). Format is "text"
// or "json". The handler lets every level through; filtering is left to
// ComponentFilterHandler.
func NewHandler(format string, w io.Writer) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.NewTextHandler(w, opts), nil
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (want text or json)", format)
	}
}

// ParseLevel parses "debug", "info", "warn" or "error" (case-insensitive).
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("parse log level %q: %w", s, err)
	}
	return l, nil
}

// Options selects the process logger's output and levels.
type Options struct {
	Format string
	Level  string

	// Components overrides Level per "component" attribute.
	Components map[string]string
}

// New builds the process logger: a text or JSON handler behind a
// ComponentFilterHandler carrying the per-component overrides.
func New(opts Options, w io.Writer) (*slog.Logger, error) {
	base, err := NewHandler(opts.Format, w)
	if err != nil {
		return nil, err
	}
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	filter := NewComponentFilterHandler(base, level)
	for component, s := range opts.Components {
		l, err := ParseLevel(s)
		if err != nil {
			return nil, fmt.Errorf("component %s: %w", component, err)
		}
		filter.SetLevel(component, l)
	}
	return slog.New(filter), nil
}
