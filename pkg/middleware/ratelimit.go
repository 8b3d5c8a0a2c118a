package middleware

import (
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/metrics"
)

// RateLimit rejects requests with 429 once the process-wide token bucket is
// empty. Health and metrics endpoints are never limited. m may be nil.
func RateLimit(limiter *rate.Limiter, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/health") || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}
			if !limiter.Allow() {
				if m != nil {
					m.QueriesTotal.WithLabelValues("rate_limited").Inc()
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
