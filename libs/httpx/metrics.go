package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by service, method, route and status.",
	}, []string{"service", "method", "path", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"service", "method", "path"})
)

// WithMetrics records request counts and latency. Paths are normalized so ids
// do not explode label cardinality.
func WithMetrics(service string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			sw := capture(w)
			next.ServeHTTP(sw, r)

			path := NormalizePath(r.URL.Path)
			httpRequests.WithLabelValues(service, r.Method, path, strconv.Itoa(sw.Status())).Inc()
			httpDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// NormalizePath replaces segments that look like identifiers with ":id".
func NormalizePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		if looksLikeID(part) {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

func looksLikeID(s string) bool {
	if s == "" {
		return false
	}
	if len(s) == 36 && strings.Count(s, "-") == 4 {
		return true
	}
	digits := 0
	for _, c := range s {
		if c >= '0' && c <= '9' {
			digits++
		}
	}
	return digits == len(s) || (digits >= 3 && strings.Contains(s, "_"))
}
