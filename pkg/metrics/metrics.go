// Package metrics defines the Prometheus collectors used by the indexer and
// searcher and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the platform.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	QueriesTotal         *prometheus.CounterVec
	QueryLatency         *prometheus.HistogramVec
	QueryCandidates      prometheus.Histogram
	BuildStageDuration   *prometheus.HistogramVec
	BuildsTotal          *prometheus.CounterVec
	DocsIndexed          prometheus.Gauge
	DescriptorsIndexed   prometheus.Gauge
	ArtifactCacheTotal   *prometheus.CounterVec
	ShardDocCount        *prometheus.GaugeVec
	ActiveShards         prometheus.Gauge
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. A nil reg uses
// the default Prometheus registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "visualsearch_queries_total",
				Help: "Total queries by outcome (ok, unusable, error, rate_limited).",
			},
			[]string{"outcome"},
		),
		QueryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "visualsearch_query_latency_seconds",
				Help:    "Query latency in seconds by stage (smk, forest).",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"stage"},
		),
		QueryCandidates: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "visualsearch_query_candidates",
				Help:    "Number of scored documents returned per query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		BuildStageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "visualsearch_build_stage_duration_seconds",
				Help:    "Index build duration in seconds per stage.",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
			[]string{"stage"},
		),
		BuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "visualsearch_builds_total",
				Help: "Corpus index builds by status.",
			},
			[]string{"status"},
		),
		DocsIndexed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "visualsearch_documents_indexed",
				Help: "Documents in the current corpus index.",
			},
		),
		DescriptorsIndexed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "visualsearch_descriptors_indexed",
				Help: "Descriptors in the current corpus index.",
			},
		),
		ArtifactCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "visualsearch_artifact_cache_total",
				Help: "Artifact cache lookups by result (hit, miss, build).",
			},
			[]string{"result"},
		),
		ShardDocCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "visualsearch_shard_document_count",
				Help: "Number of documents per multi-index shard.",
			},
			[]string{"shard_id", "kind"},
		),
		ActiveShards: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "visualsearch_active_shards",
				Help: "Number of shards in the current multi-index.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.QueriesTotal,
		m.QueryLatency,
		m.QueryCandidates,
		m.BuildStageDuration,
		m.BuildsTotal,
		m.DocsIndexed,
		m.DescriptorsIndexed,
		m.ArtifactCacheTotal,
		m.ShardDocCount,
		m.ActiveShards,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
