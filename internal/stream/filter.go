package stream

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// FilterConfig describes which streams are wanted.
//
// Include and Exclude hold doublestar glob patterns. A pattern containing
// "/" matches "<group>/<stream>"; otherwise it matches the stream name
// alone. An empty Include accepts every stream. Regex, when set, must also
// match the stream name.
type FilterConfig struct {
	Include []string
	Exclude []string
	Regex   string
}

// Filter is the wanted-stream predicate. The zero value accepts all.
type Filter struct {
	include []string
	exclude []string
	re      *regexp.Regexp
}

// NewFilter validates the patterns and compiles the regex.
func NewFilter(cfg FilterConfig) (*Filter, error) {
	for _, p := range append(append([]string{}, cfg.Include...), cfg.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid stream pattern %q", p)
		}
	}
	f := &Filter{include: cfg.Include, exclude: cfg.Exclude}
	if cfg.Regex != "" {
		re, err := regexp.Compile(cfg.Regex)
		if err != nil {
			return nil, fmt.Errorf("compile stream regex: %w", err)
		}
		f.re = re
	}
	return f, nil
}

// Match reports whether the stream is wanted.
func (f *Filter) Match(id ID) bool {
	if f == nil {
		return true
	}
	if len(f.include) > 0 && !matchAny(f.include, id) {
		return false
	}
	if matchAny(f.exclude, id) {
		return false
	}
	if f.re != nil && !f.re.MatchString(id.Name) {
		return false
	}
	return true
}

func matchAny(patterns []string, id ID) bool {
	for _, p := range patterns {
		subject := id.Name
		if strings.Contains(p, "/") {
			subject = id.Group + "/" + id.Name
		}
		// Patterns were validated in NewFilter.
		if ok, _ := doublestar.Match(p, subject); ok {
			return true
		}
	}
	return false
}
