// Package metrics exposes Prometheus collectors for the monitor service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	checksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_checks_total",
			Help: "Total number of task checks, labeled by result.",
		},
		[]string{"result"},
	)

	fetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "monitor_fetch_duration_seconds",
			Help:    "Histogram of page fetch latencies, labeled by site.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"site"},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_notifications_total",
			Help: "Total number of webhook notifications, labeled by channel and status.",
		},
		[]string{"channel", "status"},
	)

	checksInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "monitor_checks_in_flight",
			Help: "Number of checks currently running.",
		},
	)

	scanDueTasks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "monitor_scan_due_tasks",
			Help: "Number of tasks found due by the most recent scan.",
		},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "monitor_rate_limit_delays_seconds",
			Help:    "Histogram of per-host rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
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
)

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

// ObserveCheck counts a finished check.
func ObserveCheck(result string) {
	checksTotal.WithLabelValues(result).Inc()
}

// ObserveFetch records how long fetching rawURL took.
func ObserveFetch(rawURL string, duration time.Duration) {
	fetchDurationSeconds.WithLabelValues(SanitizeSite(rawURL)).Observe(duration.Seconds())
}

// ObserveNotification counts one webhook delivery attempt.
func ObserveNotification(channel, status string) {
	notificationsTotal.WithLabelValues(channel, status).Inc()
}

// IncInFlight increments the running checks gauge.
func IncInFlight() {
	checksInFlight.Inc()
}

// DecInFlight decrements the running checks gauge.
func DecInFlight() {
	checksInFlight.Dec()
}

// SetDueTasks records the size of the latest scan.
func SetDueTasks(n int) {
	scanDueTasks.Set(float64(n))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
