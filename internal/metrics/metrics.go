// Package metrics exposes Prometheus collectors for the scrape service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Resolution outcomes.
const (
	OutcomeCached   = "cached"
	OutcomeNew      = "new"
	OutcomeReplaced = "replaced"
)

// Workflow outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeAborted = "aborted"
)

var (
	scrapeResolutionsTotal        *prometheus.CounterVec
	scrapeWorkflowsTotal          *prometheus.CounterVec
	scrapeWorkflowDurationSeconds *prometheus.HistogramVec
	scrapeContentBytesTotal       *prometheus.CounterVec
	scrapeActiveWorkers           prometheus.Gauge
	scrapeScheduledPending        prometheus.Gauge
	scrapeNotificationsTotal      *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scrapeResolutionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_resolutions_total",
				Help: "Total number of submitted items, labeled by cached or new.",
			},
			[]string{"outcome"},
		)

		scrapeWorkflowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_workflows_total",
				Help: "Total number of fetch workflows finished, labeled by outcome and engine.",
			},
			[]string{"outcome", "engine"},
		)

		scrapeWorkflowDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scrape_workflow_duration_seconds",
				Help:    "Histogram of fetch workflow durations, labeled by engine.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"engine"},
		)

		scrapeContentBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_content_bytes_total",
				Help: "Total bytes of extracted content, labeled by site.",
			},
			[]string{"site"},
		)

		scrapeActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scrape_active_workers",
				Help: "Number of workers currently running a fetch workflow.",
			},
		)

		scrapeScheduledPending = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scrape_scheduled_pending",
				Help: "Number of scheduled items still waiting out their start delay.",
			},
		)

		scrapeNotificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_notifications_total",
				Help: "Total completion notifications, labeled by status.",
			},
			[]string{"status"},
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
	return promhttp.Handler()
}

// Middleware records request counts and latencies keyed by the matched chi route.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Init()
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		ObserveHTTPRequest(r.Method, route, status, time.Since(start))
	})
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveResolution counts a submitted item as cached or new.
func ObserveResolution(outcome string) {
	scrapeResolutionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveWorkflow records a finished fetch workflow.
func ObserveWorkflow(rawURL, engine, outcome string, contentBytes int, duration time.Duration) {
	scrapeWorkflowsTotal.WithLabelValues(outcome, engine).Inc()
	scrapeWorkflowDurationSeconds.WithLabelValues(engine).Observe(duration.Seconds())
	if contentBytes > 0 {
		scrapeContentBytesTotal.WithLabelValues(SanitizeSite(rawURL)).Add(float64(contentBytes))
	}
}

// ObserveNotification counts a completion notification attempt.
func ObserveNotification(status string) {
	scrapeNotificationsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	scrapeActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	scrapeActiveWorkers.Dec()
}

// IncScheduledPending increments the pending schedule gauge.
func IncScheduledPending() {
	scrapeScheduledPending.Inc()
}

// DecScheduledPending decrements the pending schedule gauge.
func DecScheduledPending() {
	scrapeScheduledPending.Dec()
}
