// Package metrics exposes Prometheus collectors for the crawler.
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
	crawlerPagesTotal                *prometheus.CounterVec
	crawlerExtractionsTotal          *prometheus.CounterVec
	crawlerExtractionDurationSeconds prometheus.Histogram
	crawlerRateLimitDelaysSeconds    *prometheus.HistogramVec
	crawlerSessionResetsTotal        prometheus.Counter
	crawlerCheckpointPushesTotal     *prometheus.CounterVec
	crawlerDiscoveredURLsTotal       prometheus.Counter
	httpRequestsTotal                *prometheus.CounterVec
	httpRequestDurationSeconds       *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of frontier entries finalized, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		crawlerExtractionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_extractions_total",
				Help: "Total number of extraction calls, labeled by result.",
			},
			[]string{"result"},
		)

		crawlerExtractionDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_extraction_duration_seconds",
				Help:    "Histogram of extraction call latencies.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		crawlerSessionResetsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_session_resets_total",
				Help: "Total number of render sessions torn down after a fatal error.",
			},
		)

		crawlerCheckpointPushesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_checkpoint_pushes_total",
				Help: "Total number of frontier checkpoint uploads, labeled by result.",
			},
			[]string{"result"},
		)

		crawlerDiscoveredURLsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_discovered_urls_total",
				Help: "Total number of new URLs inserted into the frontier by discovery.",
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

// ObservePage counts a frontier entry reaching status. rawURL is reduced to
// its host with SanitizeSite.
func ObservePage(rawURL string, status string) {
	Init()
	crawlerPagesTotal.WithLabelValues(SanitizeSite(rawURL), status).Inc()
}

// ObserveExtraction records the outcome and latency of one extraction call.
func ObserveExtraction(result string, duration time.Duration) {
	Init()
	crawlerExtractionsTotal.WithLabelValues(result).Inc()
	crawlerExtractionDurationSeconds.Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveSessionReset counts a render session teardown.
func ObserveSessionReset() {
	Init()
	crawlerSessionResetsTotal.Inc()
}

// ObserveCheckpointPush counts a checkpoint upload attempt.
func ObserveCheckpointPush(result string) {
	Init()
	crawlerCheckpointPushesTotal.WithLabelValues(result).Inc()
}

// AddDiscovered adds n newly inserted URLs.
func AddDiscovered(n int) {
	if n <= 0 {
		return
	}
	Init()
	crawlerDiscoveredURLsTotal.Add(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
