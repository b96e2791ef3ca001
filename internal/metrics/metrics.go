// Package metrics exposes Prometheus collectors for backends, chunk commits
// and process memory.
package metrics

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector owns a registry and the synthforge metric vectors. It
// implements backend.Observer.
type Collector struct {
	registry *prometheus.Registry
	logger   *slog.Logger

	requestDuration *prometheus.HistogramVec
	requests        *prometheus.CounterVec
	retries         *prometheus.CounterVec
	circuitState    *prometheus.GaugeVec
	chunkCommit     prometheus.Histogram
	verdicts        *prometheus.CounterVec
	ledgerEntries   *prometheus.CounterVec
	activeWorkers   *prometheus.GaugeVec
	processRSS      prometheus.Gauge
	systemAvailable prometheus.Gauge
}

// NewCollector creates a collector with its own registry, so several
// collectors can coexist in tests
func NewCollector(logger *slog.Logger) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		logger:   logger,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "synthforge_backend_request_duration_seconds",
				Help:    "Backend request duration in seconds by backend and HTTP status",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~100s
			},
			[]string{"backend", "status"},
		),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "synthforge_backend_requests_total",
				Help: "Backend requests by outcome class",
			},
			[]string{"backend", "class"}, // class: "ok", "transient", "rejected", "unavailable"
		),
		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "synthforge_backend_retries_total",
				Help: "Retries scheduled after a failed request",
			},
			[]string{"backend", "class"},
		),
		circuitState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "synthforge_backend_circuit_state",
				Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open",
			},
			[]string{"backend"},
		),
		chunkCommit: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "synthforge_chunk_commit_duration_seconds",
				Help:    "Time to flush sink and ledger and commit the checkpoint",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
			},
		),
		verdicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "synthforge_outputs_total",
				Help: "Evaluated output records by strategy and verdict",
			},
			[]string{"strategy", "verdict"},
		),
		ledgerEntries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "synthforge_failures_total",
				Help: "Failure ledger entries by reason",
			},
			[]string{"reason"},
		),
		activeWorkers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "synthforge_active_workers",
				Help: "In-flight backend requests by job",
			},
			[]string{"job"},
		),
		processRSS: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "synthforge_process_resident_memory_bytes",
				Help: "Resident set size sampled after each chunk commit",
			},
		),
		systemAvailable: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "synthforge_system_available_memory_bytes",
				Help: "Available system memory sampled after each chunk commit",
			},
		),
	}
}

// Registry returns the registry backing this collector
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// ObserveRequest records one backend answer
func (c *Collector) ObserveRequest(backend, class string, status int, d time.Duration) {
	statusLabel := "none"
	if status > 0 {
		statusLabel = strconv.Itoa(status)
	}
	c.requestDuration.WithLabelValues(backend, statusLabel).Observe(d.Seconds())
	c.requests.WithLabelValues(backend, class).Inc()
}

// SetCircuitState records a breaker transition
func (c *Collector) SetCircuitState(backend string, state int) {
	c.circuitState.WithLabelValues(backend).Set(float64(state))
}

// RecordRetry counts a scheduled retry
func (c *Collector) RecordRetry(backend, class string) {
	c.retries.WithLabelValues(backend, class).Inc()
}

// RecordChunkCommit records how long a chunk took to become durable
func (c *Collector) RecordChunkCommit(d time.Duration) {
	c.chunkCommit.Observe(d.Seconds())
}

// RecordVerdict counts one evaluated output
func (c *Collector) RecordVerdict(strategy, verdict string) {
	c.verdicts.WithLabelValues(strategy, verdict).Inc()
}

// RecordFailure counts one ledger entry
func (c *Collector) RecordFailure(reason string) {
	c.ledgerEntries.WithLabelValues(reason).Inc()
}

// SetActiveWorkers sets the number of in-flight requests for a job
func (c *Collector) SetActiveWorkers(jobID string, count int) {
	c.activeWorkers.WithLabelValues(jobID).Set(float64(count))
}

// ForgetJob drops per-job series once a job ends
func (c *Collector) ForgetJob(jobID string) {
	c.activeWorkers.DeleteLabelValues(jobID)
}
