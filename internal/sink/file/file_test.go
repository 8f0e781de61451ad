package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"cwtail/internal/stream"
)

var id = stream.ID{Group: "/aws/lambda/Checkout-API", Name: "2026/10/19/[$LATEST]abc123"}

func TestPathSlugs(t *testing.T) {
	s, err := New(Config{Dir: "/var/log/cwtail"})
	if err != nil {
		t.Fatal(err)
	}
	want := "/var/log/cwtail/aws-lambda-checkout-api/2026-10-19-latest-abc123.log"
	if got := s.Path(id); got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}
}

func TestProcessText(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Config{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for _, m := range []string{"first", "second"} {
		if err := s.Process(ctx, stream.Record{Stream: id, Message: m}); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(s.Path(id))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "first\nsecond\n" {
		t.Errorf("unexpected content %q", data)
	}
}

func TestProcessJSON(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Config{Dir: dir, Format: FormatJSON})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ts := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	if err := s.Process(context.Background(), stream.Record{Stream: id, Message: "hi", Timestamp: ts}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	data, err := os.ReadFile(s.Path(id))
	if err != nil {
		t.Fatal(err)
	}
	var line map[string]any
	if err := json.Unmarshal(data, &line); err != nil {
		t.Fatalf("line is not JSON: %v (%q)", err, data)
	}
	if line["message"] != "hi" || line["group"] != id.Group || line["timestamp"] != "2026-10-19T09:00:00Z" {
		t.Errorf("unexpected line: %v", line)
	}
}

func TestConcurrentWritesDoNotInterleave(t *testing.T) {
	s, err := New(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 50 {
				_ = s.Process(context.Background(), stream.Record{Stream: id, Message: strings.Repeat("x", 100)})
			}
		})
	}
	wg.Wait()
	s.Close()

	data, err := os.ReadFile(s.Path(id))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != 400 {
		t.Fatalf("expected 400 lines, got %d", len(lines))
	}
	for i, l := range lines {
		if len(l) != 100 {
			t.Fatalf("line %d has length %d", i, len(l))
		}
	}
}

func TestProcessAfterClose(t *testing.T) {
	s, err := New(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	s.Close()
	if err := s.Process(context.Background(), stream.Record{Stream: id, Message: "late"}); err == nil {
		t.Error("expected error after Close")
	}
}

func TestFactory(t *testing.T) {
	dir := t.TempDir()
	f := NewFactory(dir)

	s, err := f("archive", map[string]string{"format": "json"}, nil)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	fs := s.(*Sink)
	if fs.Name() != "archive" || fs.cfg.Dir != dir || fs.cfg.Format != FormatJSON {
		t.Errorf("unexpected config: %+v", fs.cfg)
	}

	if _, err := f("x", map[string]string{"format": "xml"}, nil); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, err := NewFactory("")("x", nil, nil); err == nil {
		t.Error("expected error when dir is missing")
	}
	if got := filepath.Base(fs.Path(id)); !strings.HasSuffix(got, ".log") {
		t.Errorf("unexpected file name %q", got)
	}
}
