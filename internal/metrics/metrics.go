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
	fetchTotal                     *prometheus.CounterVec
	fetchBytesTotal                *prometheus.CounterVec
	fetchDurationSeconds           *prometheus.HistogramVec
	httpRequestsTotal              *prometheus.CounterVec
	httpRequestDurationSeconds     *prometheus.HistogramVec
	robotsTLSHandshakeTimeoutTotal prometheus.Counter
	robotsDecisionsTotal           *prometheus.CounterVec
	sessionTriggersTotal           *prometheus.CounterVec
	sessionActive                  prometheus.Gauge
	rateLimitDelaySeconds          *prometheus.HistogramVec
	archiveWritesTotal             *prometheus.CounterVec
	fetchRetriesTotal              *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_fetch_total",
				Help: "Total number of page fetches, labeled by site, page kind and status.",
			},
			[]string{"site", "kind", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies, labeled by page kind.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"kind"},
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

		robotsTLSHandshakeTimeoutTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_robots_tls_handshake_timeout_total",
				Help: "Total TLS handshake timeouts encountered while fetching robots.txt.",
			},
		)

		robotsDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_robots_decisions_total",
				Help: "Compliance decisions, labeled by site and decision (allowed, denied, fallback).",
			},
			[]string{"site", "decision"},
		)

		sessionTriggersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_session_triggers_total",
				Help: "Session triggers, labeled by source and outcome (started, skipped).",
			},
			[]string{"source", "outcome"},
		)

		sessionActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_session_active",
				Help: "1 while a crawl session window is open.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		archiveWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_archive_writes_total",
				Help: "Raw page archive writes, labeled by result.",
			},
			[]string{"result"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_fetch_retries_total",
				Help: "Fetch attempts repeated after a transient failure, labeled by site.",
			},
			[]string{"site"},
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
	return promhttp.Handler()
}

// ObserveFetch records one page fetch. status is an HTTP code or "error".
func ObserveFetch(site, kind, status string, bytesFetched int, duration time.Duration) {
	Init()
	sanitized := SanitizeSite(site)
	if kind == "" {
		kind = "unknown"
	}
	fetchTotal.WithLabelValues(sanitized, kind, status).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitized).Add(float64(bytesFetched))
	}
	fetchDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveProbeTLSHandshakeTimeout increments the robots.txt handshake timeout counter.
func ObserveProbeTLSHandshakeTimeout() {
	Init()
	robotsTLSHandshakeTimeoutTotal.Inc()
}

// ObserveRobotsDecision counts a compliance decision for site.
func ObserveRobotsDecision(site, decision string) {
	Init()
	robotsDecisionsTotal.WithLabelValues(SanitizeSite(site), decision).Inc()
}

// ObserveSessionTrigger counts a scheduler trigger outcome.
func ObserveSessionTrigger(source, outcome string) {
	Init()
	sessionTriggersTotal.WithLabelValues(source, outcome).Inc()
}

// SetSessionActive flips the session gauge.
func SetSessionActive(active bool) {
	Init()
	if active {
		sessionActive.Set(1)
		return
	}
	sessionActive.Set(0)
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveArchiveWrite counts a raw page archive write by result.
func ObserveArchiveWrite(result string) {
	Init()
	archiveWritesTotal.WithLabelValues(result).Inc()
}

// ObserveFetchRetry counts a retried fetch for the URL's site.
func ObserveFetchRetry(rawURL string) {
	Init()
	fetchRetriesTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}
