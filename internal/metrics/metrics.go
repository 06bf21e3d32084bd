// Package metrics exposes Prometheus collectors for the ingestion service.
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
	fetchTotal                    *prometheus.CounterVec
	fetchBytesTotal               *prometheus.CounterVec
	stageDurationSeconds          *prometheus.HistogramVec
	noticesTotal                  *prometheus.CounterVec
	duplicatesTotal               *prometheus.CounterVec
	oracleCallsTotal              *prometheus.CounterVec
	runsTotal                     *prometheus.CounterVec
	rateLimitDelaySeconds         *prometheus.HistogramVec
	probeTLSHandshakeTimeoutTotal prometheus.Counter
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tender_fetch_total",
				Help: "Total number of fetches, labeled by site and outcome.",
			},
			[]string{"site", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tender_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tender_stage_duration_seconds",
				Help:    "Histogram of pipeline stage durations.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"stage"},
		)

		noticesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tender_notices_total",
				Help: "Notices counted at each pipeline checkpoint.",
			},
			[]string{"checkpoint"},
		)

		duplicatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tender_duplicates_total",
				Help: "Collapsed duplicate notices, labeled by the test that matched.",
			},
			[]string{"reason"},
		)

		oracleCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tender_oracle_calls_total",
				Help: "Extraction oracle calls, labeled by operation and outcome.",
			},
			[]string{"op", "outcome"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tender_runs_total",
				Help: "Pipeline runs, labeled by final status.",
			},
			[]string{"status"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tender_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		probeTLSHandshakeTimeoutTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tender_robots_tls_handshake_timeout_total",
				Help: "Total TLS handshake timeouts encountered while fetching robots.txt.",
			},
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

// ObserveFetch records one settled fetch.
func ObserveFetch(site, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	fetchTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveStage records how long a pipeline stage took.
func ObserveStage(stage string, duration time.Duration) {
	Init()
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveNotices adds n notices at a pipeline checkpoint.
func ObserveNotices(checkpoint string, n int) {
	Init()
	if n > 0 {
		noticesTotal.WithLabelValues(checkpoint).Add(float64(n))
	}
}

// ObserveDuplicate counts one collapsed draft.
func ObserveDuplicate(reason string) {
	Init()
	duplicatesTotal.WithLabelValues(reason).Inc()
}

// ObserveOracleCall counts one oracle call.
func ObserveOracleCall(op string, err error) {
	Init()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	oracleCallsTotal.WithLabelValues(op, outcome).Inc()
}

// ObserveRun counts a finished run.
func ObserveRun(status string) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveProbeTLSHandshakeTimeout increments the robots handshake timeout counter.
func ObserveProbeTLSHandshakeTimeout() {
	Init()
	probeTLSHandshakeTimeoutTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
