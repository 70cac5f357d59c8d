package obs

import (
	"net/http"
	"strconv"
	"strings"
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

// Credential engine metrics.
var (
	authAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sso_auth_attempts_total",
			Help: "Authentication attempts by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	tokensIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sso_tokens_issued_total",
			Help: "Signed tokens issued by kind.",
		},
		[]string{"kind"},
	)

	csrfConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sso_csrf_consumed_total",
			Help: "One-time token consumption attempts by result.",
		},
		[]string{"result"},
	)

	auditSweepDeleted = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sso_audit_sweep_deleted",
		Help: "Records removed by the most recent audit retention sweep.",
	})

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sso_ready",
		Help: "Readiness probe result (1 ready, 0 not ready).",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		authAttemptsTotal, tokensIssuedTotal, csrfConsumedTotal,
		auditSweepDeleted, ready,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncAuthAttempt counts one authentication attempt.
func IncAuthAttempt(method, outcome string) {
	authAttemptsTotal.WithLabelValues(method, outcome).Inc()
}

// IncTokenIssued counts one issued token.
func IncTokenIssued(kind string) {
	tokensIssuedTotal.WithLabelValues(kind).Inc()
}

// IncCSRFConsumed counts one consumption attempt.
func IncCSRFConsumed(result string) {
	csrfConsumedTotal.WithLabelValues(result).Inc()
}

// SetAuditSweepDeleted records the size of the last retention sweep.
func SetAuditSweepDeleted(n int64) {
	auditSweepDeleted.Set(float64(n))
}

// SetReady flips the readiness gauge.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
	} else {
		ready.Set(0)
	}
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses identifier path segments so metrics cardinality
// stays bounded.
func CanonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(path, "/")
	for _, prefix := range [][]string{
		{"v1", "user"},
		{"v1", "service"},
		{"v1", "key"},
		{"v1", "audit"},
	} {
		if len(parts) >= 4 && parts[1] == prefix[0] && parts[2] == prefix[1] && parts[3] != "" {
			parts[3] = ":id"
			return strings.Join(parts[:4], "/")
		}
	}
	return path
}

// statusWriter captures the response code for labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
