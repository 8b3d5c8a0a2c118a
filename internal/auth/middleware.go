// Package auth guards HTTP routes with API keys and per-key rate limits.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/auth/ratelimit"
	apperrors "github.com/Adithya-Monish-Kumar-K/visual-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/metrics"
)

// Validator resolves a raw key. *apikey.Keys implements it.
type Validator interface {
	Validate(ctx context.Context, raw string) (*apikey.KeyInfo, error)
}

type contextKey struct{}

// Middleware requires a valid key on every route except health and
// metrics, read from "Authorization: Bearer" or X-API-Key. Each key is
// limited to its own queries per minute. m may be nil.
func Middleware(v Validator, limiter *ratelimit.Limiter, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/health") || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			raw := extractKey(r)
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "missing api key")
				return
			}
			info, err := v.Validate(r.Context(), raw)
			switch {
			case errors.Is(err, apikey.ErrExpiredKey):
				writeError(w, http.StatusUnauthorized, "expired api key")
				return
			case errors.Is(err, apperrors.ErrUnauthorized):
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			case err != nil:
				logger.FromContext(r.Context()).Error("api key validation failed", "error", err)
				writeError(w, http.StatusInternalServerError, "authentication error")
				return
			}

			if limiter != nil && !limiter.Allow(strconv.FormatInt(info.ID, 10), info.QueriesPerMinute) {
				if m != nil {
					m.QueriesTotal.WithLabelValues("rate_limited").Inc()
				}
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, info)))
		})
	}
}

// KeyFromContext returns the key admitted by Middleware, or nil.
func KeyFromContext(ctx context.Context) *apikey.KeyInfo {
	info, _ := ctx.Value(contextKey{}).(*apikey.KeyInfo)
	return info
}

func extractKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.Header.Get("X-API-Key")
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
