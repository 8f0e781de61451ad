package sink

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Params wraps a sink's flat parameter map with typed accessors.
type Params map[string]string

// Required returns the value for key or an error naming the sink type.
func (p Params) Required(sinkType, key string) (string, error) {
	v := strings.TrimSpace(p[key])
	if v == "" {
		return "", fmt.Errorf("%s sink: %s param is required", sinkType, key)
	}
	return v, nil
}

// String returns the value for key or def.
func (p Params) String(key, def string) string {
	if v := strings.TrimSpace(p[key]); v != "" {
		return v
	}
	return def
}

// Bool parses "true"/"false"; absent means def.
func (p Params) Bool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(p[key])
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("param %s: %w", key, err)
	}
	return b, nil
}

// Int parses an integer; absent means def.
func (p Params) Int(key string, def int) (int, error) {
	v := strings.TrimSpace(p[key])
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("param %s: %w", key, err)
	}
	return n, nil
}

// Duration parses a Go duration; absent means def.
func (p Params) Duration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(p[key])
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("param %s: %w", key, err)
	}
	return d, nil
}

// List splits a comma-separated value, trimming blanks.
func (p Params) List(key string) []string {
	var out []string
	for _, s := range strings.Split(p[key], ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
