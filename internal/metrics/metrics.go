// Package metrics holds cwtail's Prometheus instruments.
//
// Instruments live on a private registry rather than the global default so
// tests can build independent instances. Every recording method is safe to
// call on a nil *Metrics, which lets components treat metrics as optional.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cwtail"

// Metrics groups every cwtail instrument.
type Metrics struct {
	Registry *prometheus.Registry

	StreamsTracked            prometheus.Gauge
	WorkersAlive              prometheus.Gauge
	WorkerRestarts            prometheus.Counter
	WorkerExits               *prometheus.CounterVec
	PagesFetched              prometheus.Counter
	EventsDispatched          *prometheus.CounterVec
	SinkErrors                *prometheus.CounterVec
	FetchErrors               *prometheus.CounterVec
	DiscoveryCycles           *prometheus.CounterVec
	CheckpointPersist         *prometheus.CounterVec
	CheckpointPersistDuration prometheus.Histogram
}

// New creates a registry with the Go and process collectors plus the
// cwtail instruments.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		StreamsTracked: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_tracked",
			Help:      "Streams currently held in the registry",
		}),
		WorkersAlive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_alive",
			Help:      "Workers alive at the last supervisor scan",
		}),
		WorkerRestarts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_restarts_total",
			Help:      "Dead workers detected and released for relaunch",
		}),
		WorkerExits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_exits_total",
			Help:      "Worker exits by reason",
		}, []string{"reason"}),
		PagesFetched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Event pages fetched from the log source",
		}),
		EventsDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dispatched_total",
			Help:      "Events successfully processed by a sink",
		}, []string{"sink"}),
		SinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Events a sink failed to process",
		}, []string{"sink"}),
		FetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Failed event page fetches by kind",
		}, []string{"kind"}),
		DiscoveryCycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_cycles_total",
			Help:      "Discovery cycles by result",
		}, []string{"result"}),
		CheckpointPersist: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_persist_total",
			Help:      "Checkpoint persist attempts by result",
		}, []string{"result"}),
		CheckpointPersistDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkpoint_persist_duration_seconds",
			Help:      "Time spent saving a checkpoint snapshot",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) SetStreamsTracked(n int) {
	if m == nil {
		return
	}
	m.StreamsTracked.Set(float64(n))
}

func (m *Metrics) SetWorkersAlive(n int) {
	if m == nil {
		return
	}
	m.WorkersAlive.Set(float64(n))
}

func (m *Metrics) WorkerRestarted() {
	if m == nil {
		return
	}
	m.WorkerRestarts.Inc()
}

// WorkerExited records a worker exit. Reasons are "end_of_stream",
// "stopped", "error" and "panic".
func (m *Metrics) WorkerExited(reason string) {
	if m == nil {
		return
	}
	m.WorkerExits.WithLabelValues(reason).Inc()
}

func (m *Metrics) PageFetched() {
	if m == nil {
		return
	}
	m.PagesFetched.Inc()
}

// FetchFailed records a failed fetch. Kind is "retryable" or "terminal".
func (m *Metrics) FetchFailed(kind string) {
	if m == nil {
		return
	}
	m.FetchErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) Dispatched(sink string) {
	if m == nil {
		return
	}
	m.EventsDispatched.WithLabelValues(sink).Inc()
}

func (m *Metrics) SinkFailed(sink string) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(sink).Inc()
}

// DiscoveryCycle records a discovery cycle. Result is "ok", "partial" or
// "failed".
func (m *Metrics) DiscoveryCycle(result string) {
	if m == nil {
		return
	}
	m.DiscoveryCycles.WithLabelValues(result).Inc()
}

// Persisted records a persist attempt. Result is "ok", "skipped" or "error".
func (m *Metrics) Persisted(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.CheckpointPersist.WithLabelValues(result).Inc()
	if result != "skipped" {
		m.CheckpointPersistDuration.Observe(d.Seconds())
	}
}
