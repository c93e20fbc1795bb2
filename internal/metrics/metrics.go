// Package metrics provides Prometheus instrumentation for the
// reservation engine.
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
	// ClaimsTotal counts stock claims issued, partitioned by outcome.
	ClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resv_claims_total",
		Help: "Total number of stock claims issued",
	}, []string{"outcome"})

	// AllocationsTotal counts pool allocations, partitioned by strategy.
	AllocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resv_allocations_total",
		Help: "Total number of pool allocations drafted",
	}, []string{"strategy"})

	// AllocationLatency tracks pool allocation latency in seconds.
	AllocationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "resv_allocation_latency_seconds",
		Help:    "Pool allocation latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// ReallocationsTotal counts full cart re-derivations after a window
	// change.
	ReallocationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resv_reallocations_total",
		Help: "Cart reallocations triggered by window changes",
	})

	// StockRejections counts claims and decreases rejected for
	// insufficient availability.
	StockRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resv_stock_rejections_total",
		Help: "Stock operations rejected for insufficient availability",
	})

	// ExpiredClaimsSwept counts pending claims flipped by the sweeper.
	ExpiredClaimsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resv_expired_claims_swept_total",
		Help: "Pending claims completed by the expiry sweep",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "resv_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resv_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "resv_http_request_duration_seconds",
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

		// Use the raw path for the label to avoid chi pattern lookups;
		// cardinality stays low because IDs are UUIDs only on a handful
		// of routes.
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
