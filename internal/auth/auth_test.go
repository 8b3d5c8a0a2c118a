package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/metrics"
)

type fakeKeys map[string]*apikey.KeyInfo

func (f fakeKeys) Validate(_ context.Context, raw string) (*apikey.KeyInfo, error) {
	switch raw {
	case "expired":
		return nil, apikey.ErrExpiredKey
	case "broken":
		return nil, errors.New("db down")
	}
	if info, ok := f[raw]; ok {
		return info, nil
	}
	return nil, apikey.ErrInvalidKey
}

func newServer(m *metrics.Metrics) http.Handler {
	keys := fakeKeys{
		"good":    {ID: 1, Name: "app"},
		"limited": {ID: 2, Name: "batch", QueriesPerMinute: 2},
	}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if info := KeyFromContext(r.Context()); info != nil {
			w.Header().Set("X-Key-Name", info.Name)
		}
		w.WriteHeader(http.StatusOK)
	})
	return Middleware(keys, ratelimit.New(time.Minute), m)(next)
}

func TestMiddleware(t *testing.T) {
	h := newServer(nil)
	tests := []struct {
		name   string
		path   string
		header string
		value  string
		status int
	}{
		{"health is open", "/health/live", "", "", http.StatusOK},
		{"metrics is open", "/metrics", "", "", http.StatusOK},
		{"missing key", "/api/v1/query", "", "", http.StatusUnauthorized},
		{"bearer key", "/api/v1/query", "Authorization", "Bearer good", http.StatusOK},
		{"header key", "/api/v1/query", "X-API-Key", "good", http.StatusOK},
		{"unknown key", "/api/v1/query", "X-API-Key", "nope", http.StatusUnauthorized},
		{"expired key", "/api/v1/query", "X-API-Key", "expired", http.StatusUnauthorized},
		{"validation error", "/api/v1/query", "X-API-Key", "broken", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestMiddlewareStoresKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", nil)
	req.Header.Set("X-API-Key", "good")
	rec := httptest.NewRecorder()
	newServer(nil).ServeHTTP(rec, req)
	assert.Equal(t, "app", rec.Header().Get("X-Key-Name"))
}

func TestMiddlewareLimitsPerKey(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	h := newServer(m)
	do := func(key string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/query", nil)
		req.Header.Set("X-API-Key", key)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("limited"))
	assert.Equal(t, http.StatusOK, do("limited"))
	assert.Equal(t, http.StatusTooManyRequests, do("limited"))
	assert.Equal(t, http.StatusOK, do("good"), "unlimited key is unaffected")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues("rate_limited")))
}
