// Package metrics provides Prometheus instrumentation for the
// prediction exchange.
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
	// EventsAppended counts ledger events appended, partitioned by kind.
	EventsAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pm_ledger_events_appended_total",
		Help: "Ledger events appended",
	}, []string{"kind"})

	// ReplaysTotal counts full state replays (startup and recovery).
	ReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pm_replays_total",
		Help: "Full ledger replays performed",
	})

	// ReplayDuration tracks how long a full replay takes.
	ReplayDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pm_replay_duration_seconds",
		Help:    "Full ledger replay duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// TradesCommitted counts trades written to the ledger, by side.
	TradesCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pm_trades_committed_total",
		Help: "Trades committed to the ledger",
	}, []string{"side"})

	// TradesRejected counts trade requests refused before append, by
	// rejection reason (oversell, insufficient_balance, ...).
	TradesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pm_trades_rejected_total",
		Help: "Trade requests rejected before reaching the ledger",
	}, []string{"reason"})

	// WebSocketClients tracks connected price-feed clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pm_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pm_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pm_http_request_duration_seconds",
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

		// Use the raw path for the label; the API surface is small and
		// IDs are numeric, so cardinality stays bounded in practice.
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
