package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Auth lifecycle metrics.
var (
	loginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"result"},
	)

	lockoutsTriggered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_lockouts_total",
		Help: "Account lockouts armed by the failure threshold.",
	})

	tokenRotations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_rotations_total",
			Help: "Refresh token rotation attempts by outcome.",
		},
		[]string{"result"},
	)

	reuseDetected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_token_reuse_detected_total",
		Help: "Refresh token reuse incidents (revoke-all responses).",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		loginAttempts, lockoutsTriggered, tokenRotations, reuseDetected,
	)
}

// CountLogin records a login attempt outcome: success, invalid or locked.
func CountLogin(result string) { loginAttempts.WithLabelValues(result).Inc() }

// CountLockout records a lockout window being armed.
func CountLockout() { lockoutsTriggered.Inc() }

// CountRotation records a rotation outcome: success, invalid, expired,
// reuse or error.
func CountRotation(result string) { tokenRotations.WithLabelValues(result).Inc() }

// CountReuseDetected records a reuse incident.
func CountReuseDetected() { reuseDetected.Inc() }

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for labelling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
