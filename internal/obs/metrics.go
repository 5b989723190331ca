package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

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

	authzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Authorization decisions by resource, operation and result.",
		},
		[]string{"resource", "operation", "result"},
	)

	securityThrottles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_throttle_total",
			Help: "Requests rejected by the abuse checks, by security type.",
		},
		[]string{"type"},
	)

	loginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "login_attempts_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"result"},
	)
)

// Init registers all collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight,
			httpRequestsTotal,
			httpRequestDuration,
			authzDecisions,
			securityThrottles,
			loginAttempts,
		)
	})
}

// Handler exposes the prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDecision counts one authorization decision.
func ObserveDecision(resource, operation string, granted bool) {
	result := "denied"
	if granted {
		result = "granted"
	}
	authzDecisions.WithLabelValues(resource, operation, result).Inc()
}

// ObserveThrottle counts one throttled request for the given security type.
func ObserveThrottle(securityType string) {
	securityThrottles.WithLabelValues(securityType).Inc()
}

// ObserveLogin counts one login attempt outcome ("success", "failure", "throttled").
func ObserveLogin(result string) {
	loginAttempts.WithLabelValues(result).Inc()
}

// Instrument wraps next with request count, latency and in-flight metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses resource segments so metric label cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	// /v1/authz/{resource}/check
	if len(parts) == 4 && parts[0] == "v1" && parts[1] == "authz" && parts[3] == "check" {
		return "/v1/authz/:resource/check"
	}
	return p
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
