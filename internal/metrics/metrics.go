// Package metrics exposes Prometheus collectors for the ingestion service.
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
	discoveryCandidatesTotal   *prometheus.CounterVec
	discoveryDedupedTotal      *prometheus.CounterVec
	poolWritesTotal            *prometheus.CounterVec
	providerCallsTotal         *prometheus.CounterVec
	ingestDocumentsTotal       *prometheus.CounterVec
	jobRunsTotal               *prometheus.CounterVec
	jobsRepairedTotal          *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeIngestWorkers        prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		discoveryCandidatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_candidates_total",
				Help: "Total candidate URLs returned by discovery providers, labeled by provider.",
			},
			[]string{"provider"},
		)

		discoveryDedupedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_deduped_total",
				Help: "Total candidates dropped by dedup, labeled by reason.",
			},
			[]string{"reason"},
		)

		poolWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pool_writes_total",
				Help: "Total resource pool rows written, labeled by project and source.",
			},
			[]string{"project", "source"},
		)

		providerCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_calls_total",
				Help: "Total discovery provider calls, labeled by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		)

		ingestDocumentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_documents_total",
				Help: "Total documents fetched and stored, labeled by project and outcome.",
			},
			[]string{"project", "outcome"},
		)

		jobRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "job_runs_total",
				Help: "Total job runs reaching a terminal state, labeled by job type and status.",
			},
			[]string{"job_type", "status"},
		)

		jobsRepairedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobs_repaired_total",
				Help: "Total stale job runs marked failed by the reaper, labeled by project.",
			},
			[]string{"project"},
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

		activeIngestWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_ingest_workers",
				Help: "Number of workers currently fetching a document.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCandidates records candidates returned by one provider call.
func ObserveCandidates(provider string, n int) {
	if n > 0 {
		discoveryCandidatesTotal.WithLabelValues(provider).Add(float64(n))
	}
}

// ObserveDeduped records candidates dropped by one dedup stage.
func ObserveDeduped(reason string, n int) {
	if n > 0 {
		discoveryDedupedTotal.WithLabelValues(reason).Add(float64(n))
	}
}

// ObservePoolWrites records rows written into a project's resource pool.
func ObservePoolWrites(project, source string, n int64) {
	if n > 0 {
		poolWritesTotal.WithLabelValues(project, source).Add(float64(n))
	}
}

// ObserveProviderCall increments the provider call counter.
func ObserveProviderCall(provider, outcome string) {
	providerCallsTotal.WithLabelValues(provider, outcome).Inc()
}

// ObserveIngest increments the document ingest counter.
func ObserveIngest(project, outcome string) {
	ingestDocumentsTotal.WithLabelValues(project, outcome).Inc()
}

// ObserveJobRun increments the terminal job run counter.
func ObserveJobRun(jobType, status string) {
	jobRunsTotal.WithLabelValues(jobType, status).Inc()
}

// ObserveJobsRepaired records stale runs the reaper marked failed.
func ObserveJobsRepaired(project string, n int) {
	if n > 0 {
		jobsRepairedTotal.WithLabelValues(project).Add(float64(n))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveIngestWorkers increments the active workers gauge.
func IncActiveIngestWorkers() {
	activeIngestWorkers.Inc()
}

// DecActiveIngestWorkers decrements the active workers gauge.
func DecActiveIngestWorkers() {
	activeIngestWorkers.Dec()
}
