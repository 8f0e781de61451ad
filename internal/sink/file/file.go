// Package file writes records to a directory tree with one file per stream:
//
//	<dir>/<slug(group)>/<slug(stream)>.log
package file

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"cwtail/internal/logging"
	"cwtail/internal/sink"
	"cwtail/internal/stream"
)

// Format selects the line layout.
type Format string

const (
	// FormatText writes the raw message.
	FormatText Format = "text"
	// FormatJSON writes a sink.Envelope per line.
	FormatJSON Format = "json"
)

// Config holds file sink configuration.
type Config struct {
	Name   string
	Dir    string
	Format Format
	Logger *slog.Logger
}

// Sink appends records to per-stream files. Open handles are cached and
// guarded by one mutex, which also serialises writes so lines never
// interleave.
type Sink struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	files  map[stream.ID]*os.File
	closed bool
}

var _ sink.Sink = (*Sink)(nil)

// New creates a file sink. The directory is created lazily.
func New(cfg Config) (*Sink, error) {
	if cfg.Dir == "" {
		return nil, errors.New("file sink: dir is required")
	}
	switch cfg.Format {
	case "":
		cfg.Format = FormatText
	case FormatText, FormatJSON:
	default:
		return nil, fmt.Errorf("file sink: unsupported format %q (supported: text, json)", cfg.Format)
	}
	if cfg.Name == "" {
		cfg.Name = "file"
	}
	return &Sink{
		cfg:    cfg,
		logger: logging.Default(cfg.Logger).With("component", "sink", "type", "file", "sink", cfg.Name),
		files:  make(map[stream.ID]*os.File),
	}, nil
}

func (s *Sink) Name() string { return s.cfg.Name }

// Path returns the file a stream's records are written to.
func (s *Sink) Path(id stream.ID) string {
	return filepath.Join(s.cfg.Dir, sink.Slugify(id.Group), sink.Slugify(id.Name)+".log")
}

func (s *Sink) Process(_ context.Context, rec stream.Record) error {
	line, err := s.format(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("file sink closed")
	}
	f, err := s.open(rec.Stream)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("write %s: %w", f.Name(), err)
	}
	return nil
}

func (s *Sink) format(rec stream.Record) ([]byte, error) {
	var line []byte
	if s.cfg.Format == FormatJSON {
		b, err := sink.EncodingJSON.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("encode record: %w", err)
		}
		line = b
	} else {
		line = []byte(rec.Message)
	}
	return append(line, '\n'), nil
}

// open returns the cached handle for id. Caller holds s.mu.
func (s *Sink) open(id stream.ID) (*os.File, error) {
	if f, ok := s.files[id]; ok {
		return f, nil
	}
	path := s.Path(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	s.files[id] = f
	s.logger.Debug("opened stream file", "group", id.Group, "stream", id.Name, "path", path)
	return f, nil
}

// Close closes every open file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	var errs []error
	for id, f := range s.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(s.files, id)
	}
	return errors.Join(errs...)
}

// NewFactory returns a sink.Factory for file sinks. Params: dir (required
// unless defaultDir is set) and format.
func NewFactory(defaultDir string) sink.Factory {
	return func(name string, params map[string]string, logger *slog.Logger) (sink.Sink, error) {
		p := sink.Params(params)
		return New(Config{
			Name:   name,
			Dir:    p.String("dir", defaultDir),
			Format: Format(p.String("format", string(FormatText))),
			Logger: logger,
		})
	}
}
