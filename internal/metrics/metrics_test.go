package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.SetStreamsTracked(3)
	m.SetWorkersAlive(2)
	m.WorkerRestarted()
	m.WorkerExited("error")
	m.PageFetched()
	m.FetchFailed("terminal")
	m.Dispatched("file")
	m.SinkFailed("file")
	m.DiscoveryCycle("ok")
	m.Persisted("ok", time.Millisecond)
}

func TestRecording(t *testing.T) {
	m := New()
	m.SetStreamsTracked(4)
	m.Dispatched("file")
	m.Dispatched("file")
	m.SinkFailed("kafka")
	m.Persisted("ok", 10*time.Millisecond)
	m.Persisted("skipped", 0)

	if got := testutil.ToFloat64(m.StreamsTracked); got != 4 {
		t.Errorf("streams_tracked = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.EventsDispatched.WithLabelValues("file")); got != 2 {
		t.Errorf("events_dispatched{file} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.SinkErrors.WithLabelValues("kafka")); got != 1 {
		t.Errorf("sink_errors{kafka} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CheckpointPersist.WithLabelValues("skipped")); got != 1 {
		t.Errorf("checkpoint_persist{skipped} = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.CheckpointPersistDuration); n != 1 {
		t.Errorf("expected 1 histogram series, got %d", n)
	}
}

func TestServer(t *testing.T) {
	m := New()
	m.PageFetched()
	srv, err := NewServer(ServerConfig{
		Addr:    "127.0.0.1:0",
		Metrics: m,
		Status:  func() any { return map[string]int{"workers": 1} },
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	get := func(path string) string {
		t.Helper()
		resp, err := http.Get("http://" + srv.Addr() + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: status %d", path, resp.StatusCode)
		}
		body, _ := io.ReadAll(resp.Body)
		return string(body)
	}

	if body := get("/metrics"); !strings.Contains(body, "cwtail_pages_fetched_total 1") {
		t.Errorf("metrics body missing counter:\n%s", body)
	}
	if body := get("/healthz"); strings.TrimSpace(body) != "ok" {
		t.Errorf("healthz = %q", body)
	}
	if body := get("/status"); !strings.Contains(body, `"workers":1`) {
		t.Errorf("status = %q", body)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
}

func TestServerBindFailure(t *testing.T) {
	if _, err := NewServer(ServerConfig{Addr: "256.0.0.1:99999", Metrics: New()}); err == nil {
		t.Error("expected bind error")
	}
}

func TestServerCloseReleasesListener(t *testing.T) {
	srv, err := NewServer(ServerConfig{Addr: "127.0.0.1:0", Metrics: New()})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	addr := srv.Addr()
	if err := srv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("address still held after Close: %v", err)
	}
	ln.Close()
}
