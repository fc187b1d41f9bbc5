// Package metrics exposes Prometheus collectors for the harvester service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	admissionDecisionsTotal    *prometheus.CounterVec
	batchesTotal               *prometheus.CounterVec
	batchInProgress            prometheus.Gauge
	lastRunStartedTimestamp    prometheus.Gauge
	targetsTotal               *prometheus.CounterVec
	targetDurationSeconds      *prometheus.HistogramVec
	syncTotal                  *prometheus.CounterVec
	launchDelaySeconds         *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		admissionDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_admission_decisions_total",
				Help: "Admission checks, labeled by decision.",
			},
			[]string{"decision"},
		)

		batchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_batches_total",
				Help: "Batches run, labeled by final job status.",
			},
			[]string{"status"},
		)

		batchInProgress = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_batch_in_progress",
				Help: "1 while a batch is running.",
			},
		)

		lastRunStartedTimestamp = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_last_run_started_timestamp_seconds",
				Help: "Unix time of the most recent batch start.",
			},
		)

		targetsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_targets_total",
				Help: "Harvested targets, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		targetDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_target_duration_seconds",
				Help:    "Wall-clock duration of each harvesting subprocess.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
			},
			[]string{"outcome"},
		)

		syncTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_sync_total",
				Help: "Downstream sync runs, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		launchDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_launch_delay_seconds",
				Help:    "Time a target waited for its host's launch budget.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveAdmission counts an admission decision.
func ObserveAdmission(decision string) {
	Init()
	admissionDecisionsTotal.WithLabelValues(decision).Inc()
}

// BatchStarted marks a batch as running.
func BatchStarted(at time.Time) {
	Init()
	batchInProgress.Set(1)
	lastRunStartedTimestamp.Set(float64(at.Unix()))
}

// BatchFinished counts a finished batch.
func BatchFinished(status string) {
	Init()
	batchInProgress.Set(0)
	batchesTotal.WithLabelValues(status).Inc()
}

// ObserveTarget records the outcome and duration of one target.
func ObserveTarget(outcome string, duration time.Duration) {
	Init()
	targetsTotal.WithLabelValues(outcome).Inc()
	targetDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveSync counts a sync run.
func ObserveSync(outcome string) {
	Init()
	syncTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveLaunchDelay records how long a launch waited on the per-host limiter.
func ObserveLaunchDelay(host string, d time.Duration) {
	Init()
	launchDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}
