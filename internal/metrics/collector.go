// Package metrics provides Prometheus metrics for go-app-spawn.
//
// All metrics are aggregate and low cardinality: the failure reason label
// takes a handful of fixed values and there is at most one helper process.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Failure reason label values for app_spawn_failures_total.
const (
	ReasonTransport    = "transport"
	ReasonHelperExited = "helper_exited"
	ReasonRestart      = "restart"
)

// --- Run overview ---
var (
	appSpawnInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_spawn_info",
			Help: "Information about this run (value always 1)",
		},
		[]string{"version", "interpreter", "helper"},
	)

	appSpawnElapsedSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_spawn_elapsed_seconds",
			Help: "Seconds since the run started",
		},
	)
)

// --- Spawn requests ---
var (
	spawnRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "app_spawn_requests_total",
			Help: "Total spawn requests issued to the helper",
		},
	)

	spawnFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "app_spawn_failures_total",
			Help: "Spawn request failures by reason",
		},
		[]string{"reason"}, // "transport", "helper_exited", "restart"
	)

	spawnDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "app_spawn_duration_seconds",
			Help: "Spawn request latency distribution",
			Buckets: []float64{
				0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
				0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
			},
		},
	)

	// Pre-calculated percentiles (convenience for simple panels)
	spawnLatencyP50Seconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_spawn_latency_p50_seconds",
			Help: "Spawn latency 50th percentile (median)",
		},
	)

	spawnLatencyP95Seconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_spawn_latency_p95_seconds",
			Help: "Spawn latency 95th percentile",
		},
	)

	spawnLatencyP99Seconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_spawn_latency_p99_seconds",
			Help: "Spawn latency 99th percentile",
		},
	)
)

// --- Helper lifecycle ---
var (
	helperUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_spawn_helper_up",
			Help: "Whether a helper process is currently running (0 or 1)",
		},
	)

	helperPID = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_spawn_helper_pid",
			Help: "Process id of the current helper (0 = none)",
		},
	)

	helperStartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "app_spawn_helper_starts_total",
			Help: "Total helper process starts, including the initial one",
		},
	)

	helperRestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "app_spawn_helper_restarts_total",
			Help: "Helper starts that replaced a dead or broken helper",
		},
	)

	helperState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_spawn_helper_state",
			Help: "Helper state (0=no_helper, 1=starting, 2=running, 3=dead)",
		},
	)
)

// Collector manages all Prometheus metrics for a spawn run.
type Collector struct {
	startTime time.Time

	// For summary generation
	mu            sync.Mutex
	totalSpawns   int64
	totalFailures int64
	helperStarts  int64
	restarts      int64
	failureCounts map[string]int64
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version     string
	Interpreter string
	Helper      string
}

// NewCollector creates a new metrics collector on the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		startTime:     time.Now(),
		failureCounts: make(map[string]int64),
	}

	registry.MustRegister(
		// Run overview
		appSpawnInfo,
		appSpawnElapsedSeconds,

		// Spawn requests
		spawnRequestsTotal,
		spawnFailuresTotal,
		spawnDurationSeconds,
		spawnLatencyP50Seconds,
		spawnLatencyP95Seconds,
		spawnLatencyP99Seconds,

		// Helper lifecycle
		helperUp,
		helperPID,
		helperStartsTotal,
		helperRestartsTotal,
		helperState,
	)

	appSpawnInfo.WithLabelValues(cfg.Version, cfg.Interpreter, cfg.Helper).Set(1)

	return c
}

// SpawnSucceeded records one successful spawn request and its latency.
func (c *Collector) SpawnSucceeded(d time.Duration) {
	spawnRequestsTotal.Inc()
	spawnDurationSeconds.Observe(d.Seconds())
	appSpawnElapsedSeconds.Set(time.Since(c.startTime).Seconds())

	c.mu.Lock()
	c.totalSpawns++
	c.mu.Unlock()
}

// SpawnFailed records one failed spawn request with its classified reason.
func (c *Collector) SpawnFailed(reason string) {
	spawnRequestsTotal.Inc()
	spawnFailuresTotal.WithLabelValues(reason).Inc()
	appSpawnElapsedSeconds.Set(time.Since(c.startTime).Seconds())

	c.mu.Lock()
	c.totalSpawns++
	c.totalFailures++
	c.failureCounts[reason]++
	c.mu.Unlock()
}

// HelperStarted records a helper process start.
func (c *Collector) HelperStarted(pid int) {
	helperStartsTotal.Inc()
	helperUp.Set(1)
	helperPID.Set(float64(pid))

	c.mu.Lock()
	c.helperStarts++
	if c.helperStarts > 1 {
		c.restarts++
		helperRestartsTotal.Inc()
	}
	c.mu.Unlock()
}

// HelperExited records the death or teardown of the helper.
func (c *Collector) HelperExited(pid int) {
	helperUp.Set(0)
	helperPID.Set(0)
}

// SetHelperState publishes the current helper state as a gauge.
func (c *Collector) SetHelperState(state int) {
	helperState.Set(float64(state))
}

// SetLatencyPercentiles publishes pre-calculated spawn latency percentiles.
func (c *Collector) SetLatencyPercentiles(p50, p95, p99 time.Duration) {
	spawnLatencyP50Seconds.Set(p50.Seconds())
	spawnLatencyP95Seconds.Set(p95.Seconds())
	spawnLatencyP99Seconds.Set(p99.Seconds())
}

// Summary holds the data for generating an exit summary.
type Summary struct {
	Duration       time.Duration
	TotalSpawns    int64
	TotalFailures  int64
	HelperStarts   int64
	HelperRestarts int64
	FailureCounts  map[string]int64
}

// GenerateSummary creates a summary of the run.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		Duration:       time.Since(c.startTime),
		TotalSpawns:    c.totalSpawns,
		TotalFailures:  c.totalFailures,
		HelperStarts:   c.helperStarts,
		HelperRestarts: c.restarts,
		FailureCounts:  make(map[string]int64),
	}
	for reason, count := range c.failureCounts {
		s.FailureCounts[reason] = count
	}
	return s
}

// TotalSpawns returns the total number of spawn requests recorded.
func (c *Collector) TotalSpawns() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalSpawns
}

// TotalFailures returns the total number of failed spawn requests.
func (c *Collector) TotalFailures() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalFailures
}

// HelperRestarts returns the number of helper restarts recorded.
func (c *Collector) HelperRestarts() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restarts
}
