// Package metrics provides Prometheus instrumentation for the accounting
// engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ReportsRun counts finished accounting report runs.
	ReportsRun = promauto.NewCounter(prometheus.CounterOpts{
		Name: "acct_reports_run_total",
		Help: "Total number of finished report runs",
	})

	// EventsProcessed counts processed accounting events across all runs.
	EventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "acct_events_processed_total",
		Help: "Total processed accounting events emitted",
	})

	// MissingAcquisitions counts spends that exceeded acquisition history.
	MissingAcquisitions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "acct_missing_acquisitions_total",
		Help: "Spends that could not be fully matched against lots",
	})

	// MissingPrices counts failed historical price lookups.
	MissingPrices = promauto.NewCounter(prometheus.CounterOpts{
		Name: "acct_missing_prices_total",
		Help: "Historical price lookups that failed during runs",
	})

	// ReportDuration tracks report run duration.
	ReportDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "acct_report_duration_seconds",
		Help:    "Report run duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0, 120.0},
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "acct_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acct_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "acct_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
