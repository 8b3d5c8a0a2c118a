// Package indexer builds the searchable index of a corpus: it loads
// documents from a store.Corpus, derives encounter labels when the corpus
// has none, and builds (or reloads from the artifact cache) the SMK
// inverted index and the sharded multi-index.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/artifact"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/forest"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/grouping"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/resource"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/smk"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/vocab"
	apperrors "github.com/Adithya-Monish-Kumar-K/visual-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/tracing"
)

// Options configures corpus builds.
type Options struct {
	SMK    smk.Params
	Forest forest.Options
	// GroupUnlabeled clusters documents by capture time when no document
	// of the corpus carries a label.
	GroupUnlabeled bool
	Grouping       grouping.Options
	Timeout        time.Duration
}

// Engine builds and holds the current index of one corpus.
type Engine struct {
	corpus   string
	source   store.Corpus
	cache    *artifact.Cache
	vocab    *vocab.Vocabulary
	assigner *vocab.Assigner
	budget   *resource.Budget
	opts     Options
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu      sync.RWMutex
	current *Index
}

// NewEngine prepares an engine for corpus. The vocabulary is quantized once
// here, the way opts.SMK.ExactAssign asks, and shared by every build.
func NewEngine(corpus string, src store.Corpus, cache *artifact.Cache, v *vocab.Vocabulary, budget *resource.Budget, opts Options) (*Engine, error) {
	q, err := vocab.NewQuantizer(v, opts.SMK.ExactAssign)
	if err != nil {
		return nil, fmt.Errorf("indexing vocabulary: %w", err)
	}
	opts.Forest.Budget = budget
	return &Engine{
		corpus:   corpus,
		source:   src,
		cache:    cache,
		vocab:    v,
		assigner: vocab.NewAssigner(q, v.Len()),
		budget:   budget,
		opts:     opts,
		logger:   slog.Default().With("component", "indexer", "corpus", corpus),
	}, nil
}

// WithMetrics records build metrics on m.
func (e *Engine) WithMetrics(m *metrics.Metrics) *Engine {
	e.metrics = m
	return e
}

func (e *Engine) Corpus() string { return e.corpus }

// Current returns the last successfully built index, or nil.
func (e *Engine) Current() *Index {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// Build loads the corpus and makes its index current. Artifacts already in
// the cache for the same documents, vocabulary and parameters are reused.
// The previous index stays current if the build fails.
func (e *Engine) Build(ctx context.Context) (*Index, error) {
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}
	if err := e.budget.AcquireBuild(ctx); err != nil {
		return nil, err
	}
	defer e.budget.ReleaseBuild()

	buildID := uuid.NewString()
	ctx, span := tracing.StartSpan(ctx, "corpus.build", buildID)
	logger := e.logger.With("build_id", buildID)
	start := time.Now()

	ix, err := e.build(ctx, buildID, logger)
	span.End()
	if err != nil {
		e.observe(span, nil)
		logger.Error("corpus build failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return nil, err
	}
	ix.Duration = time.Since(start)
	span.Log(logger)

	e.mu.Lock()
	e.current = ix
	e.mu.Unlock()
	e.observe(span, ix)

	if err := SaveManifest(ctx, e.cache, ix); err != nil {
		logger.Warn("manifest not stored", "error", err)
	}
	stats := ix.SMK.Stats()
	logger.Info("corpus index ready",
		"documents", stats.Documents,
		"descriptors", stats.Descriptors,
		"words", stats.Words,
		"shards", len(ix.Forest.Shards),
		"cache_hit", ix.CacheHit,
		"duration_ms", ix.Duration.Milliseconds(),
	)
	return ix, nil
}

func (e *Engine) build(ctx context.Context, buildID string, logger *slog.Logger) (*Index, error) {
	docs, err := e.loadDocuments(ctx, logger)
	if err != nil {
		return nil, err
	}
	fp := artifact.FingerprintOf(docs)
	keys := Keys{
		Vocabulary: "vocab" + artifact.VocabPart(e.vocab.ID()),
		SMK:        artifact.Key("smk", fp, artifact.VocabPart(e.vocab.ID()), e.opts.SMK.String()),
		Forest:     artifact.Key("forest", fp, e.opts.Forest.String()),
	}

	if err := e.cache.Save(ctx, keys.Vocabulary, vocabArtifact{Centroids: e.vocab.Centroids}); err != nil {
		logger.Warn("vocabulary not stored", "error", err)
	}

	inv, smkHit, err := artifact.GetOrBuild(ctx, e.cache, keys.SMK, func(ctx context.Context) (*smk.InvertedIndex, error) {
		return smk.NewBuilder(e.vocab, e.assigner, e.budget).Build(ctx, docs, e.opts.SMK)
	})
	if err != nil {
		return nil, fmt.Errorf("building inverted index: %w", err)
	}
	if err := inv.Attach(e.vocab, e.assigner); err != nil {
		return nil, fmt.Errorf("%w: cached inverted index: %v", apperrors.ErrInternal, err)
	}

	var built *forest.MultiIndex
	snap, forestHit, err := artifact.GetOrBuild(ctx, e.cache, keys.Forest, func(ctx context.Context) (*forest.Snapshot, error) {
		ctx, span := tracing.StartChildSpan(ctx, "forest.build")
		defer span.End()
		m, err := forest.Build(ctx, docs, e.opts.Forest)
		if err != nil {
			return nil, err
		}
		built = m
		return m.Snapshot(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("building multi-index: %w", err)
	}
	if built == nil {
		if built, err = forest.Restore(snap); err != nil {
			return nil, fmt.Errorf("%w: cached multi-index: %v", apperrors.ErrInternal, err)
		}
	}
	logger.Debug("artifacts resolved", "smk_key", keys.SMK, "forest_key", keys.Forest,
		"smk_hit", smkHit, "forest_hit", forestHit)

	return &Index{
		BuildID:     buildID,
		Corpus:      e.corpus,
		Fingerprint: fp,
		Keys:        keys,
		SMK:         inv,
		Forest:      built,
		Vocabulary:  e.vocab,
		CacheHit:    smkHit && forestHit,
		BuiltAt:     time.Now().UTC(),
	}, nil
}

// loadDocuments reads the corpus and, if configured and needed, labels its
// documents with encounter groups.
func (e *Engine) loadDocuments(ctx context.Context, logger *slog.Logger) ([]smk.Document, error) {
	ctx, span := tracing.StartChildSpan(ctx, "corpus.load")
	defer span.End()

	ids, err := e.source.DocumentIDs(ctx, e.corpus)
	if err != nil {
		return nil, fmt.Errorf("listing corpus: %w", err)
	}
	if len(ids) == 0 {
		return nil, apperrors.Construction("corpus", "corpus %q has no documents", e.corpus)
	}
	docs, err := store.Load(ctx, e.source, ids)
	if err != nil {
		return nil, err
	}
	span.SetAttr("documents", strconv.Itoa(len(docs)))

	if !e.opts.GroupUnlabeled {
		return docs, nil
	}
	for _, d := range docs {
		if d.Label != "" {
			return docs, nil
		}
	}
	times, err := e.source.TimesFor(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading capture times: %w", err)
	}
	items := make([]grouping.Item, 0, len(ids))
	for i, t := range times {
		if !t.IsZero() {
			items = append(items, grouping.Item{ID: ids[i], Unix: float64(t.UnixNano()) / 1e9})
		}
	}
	groups, err := grouping.Cluster(items, e.opts.Grouping)
	if err != nil {
		return nil, fmt.Errorf("grouping by capture time: %w", err)
	}
	labels := grouping.Labels(groups, "enc")
	for i := range docs {
		docs[i].Label = labels[docs[i].ID]
	}
	logger.Info("documents grouped by capture time",
		"algorithm", e.opts.Grouping.Algorithm,
		"groups", len(groups),
		"timed", len(items),
		"documents", len(docs),
	)
	return docs, nil
}

// observe records a finished build; ix is nil when it failed.
func (e *Engine) observe(span *tracing.Span, ix *Index) {
	if e.metrics == nil {
		return
	}
	for name, d := range span.Durations() {
		e.metrics.BuildStageDuration.WithLabelValues(name).Observe(d.Seconds())
	}
	if ix == nil {
		e.metrics.BuildsTotal.WithLabelValues("error").Inc()
		return
	}
	e.metrics.BuildsTotal.WithLabelValues("ok").Inc()
	ix.Observe(e.metrics)
}
