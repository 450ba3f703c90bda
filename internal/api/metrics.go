package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metric result label values.
const (
	resultSuccess = "success"
	resultFailure = "failure"
)

// HTTP and auth flow metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mealbridge_http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealbridge_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mealbridge_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealbridge_logins_total",
			Help: "Password login attempts by result.",
		},
		[]string{"result"},
	)

	tokenRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealbridge_token_refreshes_total",
			Help: "Refresh token rotations by result.",
		},
		[]string{"result"},
	)

	otpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealbridge_otp_requests_total",
			Help: "Admin OTP challenge requests by result.",
		},
		[]string{"result"},
	)
)

var metricsOnce sync.Once

// registerMetrics registers all collectors with the default registry.
// Guarded by a Once so constructing multiple servers in one process
// (tests) cannot double-register.
func registerMetrics() {
	metricsOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight,
			httpRequestsTotal,
			httpRequestDuration,
			loginsTotal,
			tokenRefreshesTotal,
			otpRequestsTotal,
		)
	})
}

// metricsHandler serves the Prometheus exposition endpoint.
func metricsHandler() http.Handler {
	return promhttp.Handler()
}

// instrumentMiddleware measures request counts, latency, and in-flight load.
//
// The label is the routed path pattern where possible; raw URL paths with
// IDs in them would explode label cardinality, so this middleware is wired
// inside chi where the route pattern is resolvable.
func (s *Server) instrumentMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		// Deferred so a panicking handler (recovered upstream) cannot
		// leave the gauge permanently inflated.
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.status)
		path := routePattern(r)

		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

// routePattern returns the chi route pattern for the request, falling
// back to the raw path when routing never matched (404s). Patterns keep
// label cardinality bounded: /users/{id}/active, not one label per ID.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
