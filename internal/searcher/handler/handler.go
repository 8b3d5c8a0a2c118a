// Package handler exposes query execution and index inspection over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/forest"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/smk"
	apperrors "github.com/Adithya-Monish-Kumar-K/visual-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/middleware"
)

const maxBodyBytes = 64 << 20

type QueryExecutor interface {
	Execute(ctx context.Context, req executor.Request) (*executor.Result, error)
	Normalize(req executor.Request) executor.Request
	BuildID() string
}

// QueryLog receives one event per answered query. *collector.BatchCollector
// implements it.
type QueryLog interface {
	Track(ev kafka.QueryExecuted)
}

type Handler struct {
	executor QueryExecutor
	indexes  executor.IndexProvider
	cache    *cache.QueryCache
	queryLog QueryLog
	logger   *slog.Logger
}

// New creates a handler. queryCache may be nil.
func New(exec QueryExecutor, indexes executor.IndexProvider, queryCache *cache.QueryCache) *Handler {
	return &Handler{
		executor: exec,
		indexes:  indexes,
		cache:    queryCache,
		logger:   slog.Default().With("component", "query-handler"),
	}
}

func (h *Handler) WithQueryLog(l QueryLog) *Handler {
	h.queryLog = l
	return h
}

// Mount registers the API routes on mux.
func (h *Handler) Mount(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/query", h.Query)
	mux.HandleFunc("GET /api/v1/index", h.Index)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req executor.Request
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	req = h.executor.Normalize(req)

	var (
		result   *executor.Result
		err      error
		cacheHit bool
	)
	if buildID := h.executor.BuildID(); h.cache != nil && buildID != "" {
		result, cacheHit, err = h.cache.GetOrCompute(ctx, buildID, req, func() (*executor.Result, error) {
			return h.executor.Execute(ctx, req)
		})
	} else {
		result, err = h.executor.Execute(ctx, req)
	}
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		if status >= http.StatusInternalServerError {
			log.Error("query failed", "error", err)
		} else {
			log.Info("query rejected", "status", status, "error", err)
		}
		h.writeError(w, status, publicMessage(err, status))
		return
	}

	log.Info("query completed",
		"build_id", result.BuildID,
		"usable", result.Usable,
		"total_hits", result.TotalHits,
		"returned", len(result.Scores),
		"candidates", len(result.Candidates),
		"cache_hit", cacheHit,
		"took_ms", result.TookMS,
	)
	if h.queryLog != nil {
		h.queryLog.Track(queryEvent(ctx, req, result, cacheHit))
	}
	h.writeJSON(w, http.StatusOK, result)
}

func queryEvent(ctx context.Context, req executor.Request, result *executor.Result, cacheHit bool) kafka.QueryExecuted {
	ev := kafka.QueryExecuted{
		RequestID:   middleware.GetRequestID(ctx),
		BuildID:     result.BuildID,
		Corpus:      result.Corpus,
		Descriptors: len(req.Descriptors),
		Usable:      result.Usable,
		TotalHits:   result.TotalHits,
		Candidates:  len(result.Candidates),
		TookMS:      result.TookMS,
		CacheHit:    cacheHit,
		ExecutedAt:  time.Now().UTC(),
	}
	if req.DocumentID != nil {
		id := int64(*req.DocumentID)
		ev.DocumentID = &id
	}
	return ev
}

// IndexInfo describes the index currently served.
type IndexInfo struct {
	BuildID     string              `json:"build_id"`
	Corpus      string              `json:"corpus"`
	Fingerprint string              `json:"fingerprint,omitempty"`
	Keys        indexer.Keys        `json:"keys"`
	Vocabulary  string              `json:"vocabulary"`
	Params      string              `json:"params"`
	Stats       smk.Stats           `json:"stats"`
	Shards      []forest.ShardStats `json:"shards"`
	BuiltAt     string              `json:"built_at"`
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	ix := h.indexes.Current()
	if ix == nil {
		h.writeError(w, http.StatusServiceUnavailable, "no index loaded")
		return
	}
	info := IndexInfo{
		BuildID:    ix.BuildID,
		Corpus:     ix.Corpus,
		Keys:       ix.Keys,
		Vocabulary: ix.Vocabulary.ID(),
		Params:     ix.SMK.Params.String(),
		Stats:      ix.SMK.Stats(),
		Shards:     ix.Forest.Stats(),
		BuiltAt:    ix.BuiltAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if !ix.Fingerprint.IsZero() {
		info.Fingerprint = ix.Fingerprint.String()
	}
	h.writeJSON(w, http.StatusOK, info)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}

	buildID := r.URL.Query().Get("build")
	deleted, err := h.cache.Invalidate(r.Context(), buildID)
	if err != nil {
		h.logger.Error("cache invalidation failed", "build_id", buildID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "build_id": buildID, "deleted": deleted})
}

// publicMessage hides internal failure detail from clients.
func publicMessage(err error, status int) string {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr.Message
	case status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable:
		return "query failed"
	}
	return err.Error()
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
