// Package metrics provides Prometheus instrumentation for the insurance engine.
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
	// PurchasesTotal counts exposure purchases, partitioned by payoff direction.
	PurchasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pmx_purchases_total",
		Help: "Total number of insurance purchases executed",
	}, []string{"payoff"})

	// PayoutsTotal counts settlements, partitioned by outcome: "paid" when
	// funds moved, "worthless" when the position cleared at zero value.
	PayoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pmx_payouts_total",
		Help: "Total number of positions settled",
	}, []string{"outcome"})

	// RejectionsTotal counts operations rejected by a precondition, by reason.
	RejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pmx_rejections_total",
		Help: "Operations rejected by precondition checks",
	}, []string{"reason"})

	// ForecastUpdates counts oracle forecast pushes.
	ForecastUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pmx_forecast_updates_total",
		Help: "Total forecast observations recorded",
	})

	// ActivePolicies tracks the number of open policies.
	ActivePolicies = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pmx_active_policies",
		Help: "Number of currently open policies",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pmx_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pmx_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pmx_http_request_duration_seconds",
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
