// Package metrics exposes Prometheus collectors for the link-health jobs and
// the HTTP API.
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
	checksTotal                *prometheus.CounterVec
	deadTransitionsTotal       prometheus.Counter
	archiveOutcomesTotal       *prometheus.CounterVec
	snapshotsTotal             *prometheus.CounterVec
	snapshotBytesTotal         prometheus.Counter
	remediationsTotal          *prometheus.CounterVec
	queueItemsTotal            *prometheus.CounterVec
	jobRunsTotal               *prometheus.CounterVec
	jobDurationSeconds         *prometheus.HistogramVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		checksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkkeeper_checks_total",
				Help: "Total number of health probes, labeled by result.",
			},
			[]string{"result"},
		)

		deadTransitionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "linkkeeper_dead_transitions_total",
				Help: "Total number of links that crossed the dead threshold.",
			},
		)

		archiveOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkkeeper_archive_outcomes_total",
				Help: "Total number of archival decisions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		snapshotsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkkeeper_snapshots_total",
				Help: "Total number of self-hosted captures, labeled by result.",
			},
			[]string{"result"},
		)

		snapshotBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "linkkeeper_snapshot_bytes_total",
				Help: "Total bytes of WARC files uploaded to object storage.",
			},
		)

		remediationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkkeeper_remediations_total",
				Help: "Total number of document remediation outcomes, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		queueItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkkeeper_queue_items_total",
				Help: "Total number of drained queue items, labeled by result.",
			},
			[]string{"result"},
		)

		jobRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkkeeper_job_runs_total",
				Help: "Total number of job runs, labeled by job and status.",
			},
			[]string{"job", "status"},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "linkkeeper_job_duration_seconds",
				Help:    "Histogram of job run durations.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"job"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "linkkeeper_rate_limit_delay_seconds",
				Help:    "Histogram of pacer wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"key"},
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

// ObserveCheck counts one health probe result ("healthy", "failed", "soft_404").
func ObserveCheck(result string) {
	Init()
	checksTotal.WithLabelValues(result).Inc()
}

// ObserveDeadTransition counts a link crossing the dead threshold.
func ObserveDeadTransition() {
	Init()
	deadTransitionsTotal.Inc()
}

// ObserveArchiveOutcome counts one archival decision.
func ObserveArchiveOutcome(outcome string) {
	Init()
	archiveOutcomesTotal.WithLabelValues(outcome).Inc()
}

// ObserveSnapshot counts one capture attempt and the uploaded size on success.
func ObserveSnapshot(result string, size int64) {
	Init()
	snapshotsTotal.WithLabelValues(result).Inc()
	if size > 0 {
		snapshotBytesTotal.Add(float64(size))
	}
}

// ObserveRemediation counts one per-document remediation outcome.
func ObserveRemediation(outcome string) {
	Init()
	remediationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveQueueItem counts one drained queue item.
func ObserveQueueItem(result string) {
	Init()
	queueItemsTotal.WithLabelValues(result).Inc()
}

// ObserveJobRun records a finished job run.
func ObserveJobRun(job, status string, duration time.Duration) {
	Init()
	jobRunsTotal.WithLabelValues(job, status).Inc()
	jobDurationSeconds.WithLabelValues(job).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a pacer wait.
func ObserveRateLimitDelay(key string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(key).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
