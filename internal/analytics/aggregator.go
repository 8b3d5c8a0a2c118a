// Package analytics aggregates the query log published by searchers:
// query volume, latency percentiles, cache effectiveness, unusable and
// zero-hit queries, and the documents and builds queried most.
package analytics

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/kafka"
)

// latencyWindow bounds how many recent latencies feed the percentiles.
const latencyWindow = 10000

type AggregatedStats struct {
	TotalQueries     int64      `json:"total_queries"`
	DocumentQueries  int64      `json:"document_queries"`
	UnusableQueries  int64      `json:"unusable_queries"`
	ZeroHitQueries   int64      `json:"zero_hit_queries"`
	CacheHits        int64      `json:"cache_hits"`
	CacheMisses      int64      `json:"cache_misses"`
	AvgLatencyMs     float64    `json:"avg_latency_ms"`
	P50LatencyMs     float64    `json:"p50_latency_ms"`
	P95LatencyMs     float64    `json:"p95_latency_ms"`
	P99LatencyMs     float64    `json:"p99_latency_ms"`
	TopDocuments     []KeyCount `json:"top_documents"`
	ZeroHitDocuments []KeyCount `json:"zero_hit_documents"`
	Builds           []KeyCount `json:"builds"`
	QueriesPerMinute float64    `json:"queries_per_minute"`
	Since            time.Time  `json:"since"`
}

type KeyCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

type Aggregator struct {
	mu              sync.RWMutex
	totalQueries    atomic.Int64
	documentQueries atomic.Int64
	unusable        atomic.Int64
	zeroHits        atomic.Int64
	cacheHits       atomic.Int64
	cacheMisses     atomic.Int64
	latencies       []float64
	next            int
	documentCounts  map[string]int64
	zeroHitDocs     map[string]int64
	buildCounts     map[string]int64
	startTime       time.Time
	logger          *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:      make([]float64, 0, latencyWindow),
		documentCounts: make(map[string]int64),
		zeroHitDocs:    make(map[string]int64),
		buildCounts:    make(map[string]int64),
		startTime:      time.Now(),
		logger:         slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleEvent returns a Kafka handler feeding query-log messages into agg.
// Undecodable messages are logged and skipped.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[kafka.QueryExecuted](value)
		if err != nil {
			agg.logger.Error("failed to decode query event", "key", string(key), "error", err)
			return nil
		}
		agg.Record(event)
		return nil
	}
}

func (a *Aggregator) Record(event kafka.QueryExecuted) {
	a.totalQueries.Add(1)
	if event.CacheHit {
		a.cacheHits.Add(1)
	} else {
		a.cacheMisses.Add(1)
	}
	if !event.Usable {
		a.unusable.Add(1)
	}
	zeroHit := event.Usable && event.TotalHits == 0
	if zeroHit {
		a.zeroHits.Add(1)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.latencies) < latencyWindow {
		a.latencies = append(a.latencies, float64(event.TookMS))
	} else {
		a.latencies[a.next] = float64(event.TookMS)
		a.next = (a.next + 1) % latencyWindow
	}
	a.buildCounts[event.BuildID]++
	if event.DocumentID != nil {
		a.documentQueries.Add(1)
		doc := strconv.FormatInt(*event.DocumentID, 10)
		a.documentCounts[doc]++
		if zeroHit {
			a.zeroHitDocs[doc]++
		}
	}
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalQueries:    a.totalQueries.Load(),
		DocumentQueries: a.documentQueries.Load(),
		UnusableQueries: a.unusable.Load(),
		ZeroHitQueries:  a.zeroHits.Load(),
		CacheHits:       a.cacheHits.Load(),
		CacheMisses:     a.cacheMisses.Load(),
		Since:           a.startTime.UTC(),
	}
	if len(a.latencies) > 0 {
		sorted := slices.Clone(a.latencies)
		slices.Sort(sorted)
		stats.AvgLatencyMs = stat.Mean(sorted, nil)
		stats.P50LatencyMs = stat.Quantile(0.50, stat.Empirical, sorted, nil)
		stats.P95LatencyMs = stat.Quantile(0.95, stat.Empirical, sorted, nil)
		stats.P99LatencyMs = stat.Quantile(0.99, stat.Empirical, sorted, nil)
	}
	stats.TopDocuments = topN(a.documentCounts, 10)
	stats.ZeroHitDocuments = topN(a.zeroHitDocs, 10)
	stats.Builds = topN(a.buildCounts, 10)
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalQueries) / elapsed
	}
	return stats
}

// topN returns the n largest counts, ties broken by key.
func topN(counts map[string]int64, n int) []KeyCount {
	result := make([]KeyCount, 0, len(counts))
	for key, count := range counts {
		result = append(result, KeyCount{Key: key, Count: count})
	}
	slices.SortFunc(result, func(x, y KeyCount) int {
		if c := cmp.Compare(y.Count, x.Count); c != 0 {
			return c
		}
		return cmp.Compare(x.Key, y.Key)
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
