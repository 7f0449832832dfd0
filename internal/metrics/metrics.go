// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal               *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	politenessWaitSeconds      *prometheus.HistogramVec
	fetchLogFailuresTotal      prometheus.Counter
	gateDecisionsTotal         *prometheus.CounterVec
	statusChangesTotal         *prometheus.CounterVec
	runsTotal                  *prometheus.CounterVec
	runDurationSeconds         *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oppcrawler_fetches_total",
				Help: "Total number of page fetches, labeled by site and outcome status.",
			},
			[]string{"site", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oppcrawler_fetch_bytes_total",
				Help: "Total number of response bytes read, labeled by site.",
			},
			[]string{"site"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oppcrawler_fetch_duration_seconds",
				Help:    "Histogram of fetch durations including politeness waits, labeled by status.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 60},
			},
			[]string{"status"},
		)

		politenessWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oppcrawler_politeness_wait_seconds",
				Help:    "Histogram of time spent waiting on host politeness, labeled by kind.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"kind"},
		)

		fetchLogFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "oppcrawler_fetch_log_failures_total",
				Help: "Total fetch-log writes that failed and were dropped.",
			},
		)

		gateDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oppcrawler_gate_decisions_total",
				Help: "Total safety gate decisions, labeled by resulting status.",
			},
			[]string{"status"},
		)

		statusChangesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oppcrawler_status_changes_total",
				Help: "Total opportunity status transitions, labeled by new status.",
			},
			[]string{"status"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oppcrawler_runs_total",
				Help: "Total workflow runs, labeled by workflow and outcome.",
			},
			[]string{"workflow", "outcome"},
		)

		runDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oppcrawler_run_duration_seconds",
				Help:    "Histogram of workflow run durations.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"workflow"},
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

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveFetch records one fetch outcome.
func ObserveFetch(site, status string, bytesRead int64, duration time.Duration) {
	Init()
	sanitized := SanitizeSite(site)
	fetchesTotal.WithLabelValues(sanitized, status).Inc()
	if bytesRead > 0 {
		fetchBytesTotal.WithLabelValues(sanitized).Add(float64(bytesRead))
	}
	fetchDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// ObservePolitenessWait records time spent in a backoff, rate_limit, or
// global wait.
func ObservePolitenessWait(kind string, duration time.Duration) {
	Init()
	politenessWaitSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveFetchLogFailure counts a dropped fetch-log row.
func ObserveFetchLogFailure() {
	Init()
	fetchLogFailuresTotal.Inc()
}

// ObserveGateDecision counts a safety gate verdict.
func ObserveGateDecision(status string) {
	Init()
	gateDecisionsTotal.WithLabelValues(status).Inc()
}

// ObserveStatusChange counts a status transition.
func ObserveStatusChange(status string) {
	Init()
	statusChangesTotal.WithLabelValues(status).Inc()
}

// ObserveRun records a finished workflow run.
func ObserveRun(workflow, outcome string, duration time.Duration) {
	Init()
	runsTotal.WithLabelValues(workflow, outcome).Inc()
	runDurationSeconds.WithLabelValues(workflow).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
