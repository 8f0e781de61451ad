package logging

import (
	"context"
	"log/slog"
	"sync"
)

// ComponentFilterHandler filters records by the level configured for their
// "component" attribute, falling back to a default level. Levels can be
// changed at runtime; every logger derived via With shares the same table.
type ComponentFilterHandler struct {
	next      slog.Handler
	levels    *levelTable
	component string // set when a "component" attr was bound via WithAttrs
}

type levelTable struct {
	mu           sync.RWMutex
	defaultLevel slog.Level
	levels       map[string]slog.Level
}

// NewComponentFilterHandler wraps next. Records below defaultLevel are
// dropped unless their component has a lower level configured.
func NewComponentFilterHandler(next slog.Handler, defaultLevel slog.Level) *ComponentFilterHandler {
	return &ComponentFilterHandler{
		next: next,
		levels: &levelTable{
			defaultLevel: defaultLevel,
			levels:       make(map[string]slog.Level),
		},
	}
}

// SetLevel overrides the level for one component.
func (h *ComponentFilterHandler) SetLevel(component string, level slog.Level) {
	h.levels.mu.Lock()
	h.levels.levels[component] = level
	h.levels.mu.Unlock()
}

// Level returns the effective level for a component.
func (h *ComponentFilterHandler) Level(component string) slog.Level {
	h.levels.mu.RLock()
	defer h.levels.mu.RUnlock()
	if l, ok := h.levels.levels[component]; ok {
		return l
	}
	return h.levels.defaultLevel
}

// minLevel is the most verbose level any component may log at.
func (h *ComponentFilterHandler) minLevel() slog.Level {
	h.levels.mu.RLock()
	defer h.levels.mu.RUnlock()
	m := h.levels.defaultLevel
	for _, l := range h.levels.levels {
		if l < m {
			m = l
		}
	}
	return m
}

// Enabled reports whether a record at level could pass. Without a bound
// component the component is only known in Handle, so the most verbose
// configured level is used here.
func (h *ComponentFilterHandler) Enabled(_ context.Context, level slog.Level) bool {
	if h.component != "" {
		return level >= h.Level(h.component)
	}
	return level >= h.minLevel()
}

func (h *ComponentFilterHandler) Handle(ctx context.Context, r slog.Record) error {
	component := h.component
	if component == "" {
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "component" {
				component = a.Value.String()
				return false
			}
			return true
		})
	}
	if r.Level < h.Level(component) {
		return nil
	}
	if h.next == nil {
		return nil
	}
	return h.next.Handle(ctx, r)
}

func (h *ComponentFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	component := h.component
	for _, a := range attrs {
		if a.Key == "component" {
			component = a.Value.String()
		}
	}
	var next slog.Handler
	if h.next != nil {
		next = h.next.WithAttrs(attrs)
	}
	return &ComponentFilterHandler{next: next, levels: h.levels, component: component}
}

func (h *ComponentFilterHandler) WithGroup(name string) slog.Handler {
	var next slog.Handler
	if h.next != nil {
		next = h.next.WithGroup(name)
	}
	return &ComponentFilterHandler{next: next, levels: h.levels, component: h.component}
}
