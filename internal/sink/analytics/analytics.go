// Package analytics forwards structured log events to a Mixpanel-style
// /track endpoint.
//
// A record's message is decoded as JSON. When the decoded object carries a
// string "message" field holding JSON (an application log wrapped by a
// log shipper), that inner document is decoded too. The event name and
// distinct id are read from configured fields; records without an event
// name are skipped.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"

	"cwtail/internal/logging"
	"cwtail/internal/sink"
	"cwtail/internal/stream"
)

const (
	DefaultEndpoint      = "https://api.mixpanel.com/track"
	DefaultEventField    = "templatized_url"
	DefaultDistinctField = "app_id"
)

// Config holds analytics sink configuration.
type Config struct {
	Name          string
	Endpoint      string
	Token         string
	EventField    string
	DistinctField string
	Gzip          bool
	Timeout       time.Duration
	Client        *http.Client
	Logger        *slog.Logger
}

// Sink posts one event per accepted record.
type Sink struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

var _ sink.Sink = (*Sink)(nil)

// New creates an analytics sink.
func New(cfg Config) (*Sink, error) {
	if cfg.Token == "" {
		return nil, errors.New("analytics sink: token is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.EventField == "" {
		cfg.EventField = DefaultEventField
	}
	if cfg.DistinctField == "" {
		cfg.DistinctField = DefaultDistinctField
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "analytics"
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Sink{
		cfg:    cfg,
		client: client,
		logger: logging.Default(cfg.Logger).With("component", "sink", "type", "analytics", "sink", cfg.Name),
	}, nil
}

func (s *Sink) Name() string { return s.cfg.Name }

type event struct {
	Event      string         `json:"event"`
	Properties map[string]any `json:"properties"`
}

// ErrNotJSON is returned for messages that are not JSON objects.
var ErrNotJSON = errors.New("message is not a JSON object")

// Extract decodes a message and returns the event name and distinct id.
// ok is false when the event name is absent.
func (s *Sink) Extract(message string) (name, distinct string, ok bool, err error) {
	doc, err := decode(message)
	if err != nil {
		return "", "", false, err
	}
	name, _ = doc[s.cfg.EventField].(string)
	if name == "" {
		return "", "", false, nil
	}
	distinct = stringify(doc[s.cfg.DistinctField])
	return name, distinct, true, nil
}

func decode(message string) (map[string]any, error) {
	var outer map[string]any
	if err := json.Unmarshal([]byte(message), &outer); err != nil || outer == nil {
		return nil, ErrNotJSON
	}
	inner, ok := outer["message"].(string)
	if !ok {
		return outer, nil
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(inner), &doc); err != nil || doc == nil {
		// A plain-text message field: use the outer document.
		return outer, nil
	}
	return doc, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func (s *Sink) Process(ctx context.Context, rec stream.Record) error {
	name, distinct, ok, err := s.Extract(rec.Message)
	if err != nil || !ok {
		// Non-analytics lines are expected in mixed streams.
		return nil
	}

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	body, err := json.Marshal([]event{{
		Event: name,
		Properties: map[string]any{
			"token":       s.cfg.Token,
			"distinct_id": distinct,
			"time":        ts.Unix(),
			"group":       rec.Stream.Group,
			"stream":      rec.Stream.Name,
		},
	}})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return s.post(ctx, body)
}

func (s *Sink) post(ctx context.Context, body []byte) error {
	var payload io.Reader = bytes.NewReader(body)
	if s.cfg.Gzip {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return fmt.Errorf("gzip event: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("gzip event: %w", err)
		}
		payload = &buf
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, payload)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/plain")
	if s.cfg.Gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post event: unexpected status %s", resp.Status)
	}
	return nil
}

func (s *Sink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// NewFactory returns a sink.Factory for analytics sinks. Params: token
// (required), endpoint, event_field, distinct_field, gzip, timeout.
func NewFactory() sink.Factory {
	return func(name string, params map[string]string, logger *slog.Logger) (sink.Sink, error) {
		p := sink.Params(params)
		token, err := p.Required("analytics", "token")
		if err != nil {
			return nil, err
		}
		gz, err := p.Bool("gzip", false)
		if err != nil {
			return nil, fmt.Errorf("analytics sink: %w", err)
		}
		timeout, err := p.Duration("timeout", 10*time.Second)
		if err != nil {
			return nil, fmt.Errorf("analytics sink: %w", err)
		}
		return New(Config{
			Name:          name,
			Endpoint:      p.String("endpoint", DefaultEndpoint),
			Token:         token,
			EventField:    p.String("event_field", DefaultEventField),
			DistinctField: p.String("distinct_field", DefaultDistinctField),
			Gzip:          gz,
			Timeout:       timeout,
			Logger:        logger,
		})
	}
}
