package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "account_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "account_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	accountsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "account_created_total",
		Help: "Accounts created, by tier",
	}, []string{"tier"})

	accountCreateFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "account_create_failures_total",
		Help: "Failed account creations, by tier and reason",
	}, []string{"tier", "reason"})

	passwordHashDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "account_password_hash_duration_seconds",
		Help:    "Time spent deriving credential digests",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
	})

	authentications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "account_authentications_total",
		Help: "Password authentication attempts, by result",
	}, []string{"result"})
)

// ObserveHTTPRequest records an HTTP request metric
func ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func ObserveAccountCreated(tier string) {
	accountsCreated.WithLabelValues(tier).Inc()
}

// ObserveAccountCreateFailure counts a rejected creation. reason is one of
// validation, duplicate, tier, internal.
func ObserveAccountCreateFailure(tier, reason string) {
	accountCreateFailures.WithLabelValues(tier, reason).Inc()
}

func ObservePasswordHash(duration time.Duration) {
	passwordHashDuration.Observe(duration.Seconds())
}

func ObserveAuthentication(result string) {
	authentications.WithLabelValues(result).Inc()
}

// HTTPMetricsMiddleware instruments requests with Prometheus metrics
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		// pattern keeps label cardinality bounded for paths with ids
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		ObserveHTTPRequest(r.Method, path, strconv.Itoa(ww.status), time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
