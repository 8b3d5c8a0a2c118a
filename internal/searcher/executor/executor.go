// Package executor answers image queries against the current index. The
// selective match kernel ranking and the descriptor-level candidate search
// run concurrently over the same descriptors.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/forest"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/smk"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/vocab"
	apperrors "github.com/Adithya-Monish-Kumar-K/visual-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/tracing"
)

// IndexProvider yields the index queries run against. Both the indexer
// engine and indexer.Holder satisfy it.
type IndexProvider interface {
	Current() *indexer.Index
}

// Request is one query. Exactly one of Descriptors and DocumentID is set;
// a document query excludes the document itself from its results.
type Request struct {
	Descriptors []vocab.Descriptor `json:"descriptors,omitempty"`
	DocumentID  *smk.DocumentID    `json:"document_id,omitempty"`
	Limit       int                `json:"limit,omitempty"`
	// K is the number of neighbours taken per query descriptor.
	K          int              `json:"k,omitempty"`
	ExcludeIDs []smk.DocumentID `json:"exclude_ids,omitempty"`
	// ExcludeSameLabel drops documents sharing the query document's label.
	ExcludeSameLabel bool `json:"exclude_same_label,omitempty"`
}

// Result is the answer to a Request. Usable is false when the query has
// no positive self-similarity; Scores and Candidates are then empty.
type Result struct {
	BuildID    string             `json:"build_id"`
	Corpus     string             `json:"corpus"`
	Usable     bool               `json:"usable"`
	TotalHits  int                `json:"total_hits"`
	Scores     []smk.ScoredDoc    `json:"scores"`
	Candidates []forest.Candidate `json:"candidates"`
	TookMS     int64              `json:"took_ms"`
}

// Options bounds query execution.
type Options struct {
	DefaultLimit   int
	MaxResults     int
	MaxDescriptors int
	K              int
	Timeout        time.Duration
}

type Executor struct {
	indexes IndexProvider
	source  store.Source
	opts    Options
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates an executor. src may be nil, in which case document queries
// are rejected.
func New(indexes IndexProvider, src store.Source, opts Options) *Executor {
	if opts.DefaultLimit < 1 {
		opts.DefaultLimit = 10
	}
	if opts.MaxResults < opts.DefaultLimit {
		opts.MaxResults = opts.DefaultLimit
	}
	if opts.K < 1 {
		opts.K = 1
	}
	return &Executor{
		indexes: indexes,
		source:  src,
		opts:    opts,
		logger:  slog.Default().With("component", "query-executor"),
	}
}

func (e *Executor) WithMetrics(m *metrics.Metrics) *Executor {
	e.metrics = m
	return e
}

// Execute runs req against the current index.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	// WithTimeout may return while execute still runs; the result is only
	// read once fn has finished.
	done := make(chan *Result, 1)
	err := resilience.WithTimeout(ctx, e.opts.Timeout, "query", func(ctx context.Context) error {
		res, err := e.execute(ctx, req)
		done <- res
		return err
	})
	if err != nil {
		e.count(nil, err)
		return nil, err
	}
	res := <-done
	e.count(res, nil)
	return res, nil
}

func (e *Executor) execute(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	ix := e.indexes.Current()
	if ix == nil {
		return nil, fmt.Errorf("%w: no index has been loaded", apperrors.ErrIndexNotReady)
	}
	descs, exclude, err := e.resolve(ctx, ix, req)
	if err != nil {
		return nil, err
	}
	limit := e.limit(req.Limit)
	k := req.K
	if k < 1 {
		k = e.opts.K
	}
	allow := func(id smk.DocumentID) bool {
		_, skip := exclude[id]
		return !skip
	}

	ctx, span := tracing.StartChildSpan(ctx, "query")
	defer span.End()

	res := &Result{BuildID: ix.BuildID, Corpus: ix.Corpus, Usable: true}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer e.observe("smk", time.Now())
		q, err := ix.SMK.BuildQuery(gctx, descs)
		if errors.Is(err, apperrors.ErrNoUsableQuery) {
			res.Usable = false
			return nil
		}
		if err != nil {
			return err
		}
		scores := ix.SMK.ScoreFiltered(q, allow)
		res.TotalHits = len(scores)
		res.Scores = scores[:min(limit, len(scores))]
		return nil
	})
	g.Go(func() error {
		defer e.observe("forest", time.Now())
		cands, err := ix.Forest.TopK(gctx, descs, k)
		if err != nil {
			return err
		}
		kept := cands[:0]
		for _, c := range cands {
			if allow(c.DocID) {
				kept = append(kept, c)
			}
		}
		res.Candidates = kept[:min(limit, len(kept))]
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if !res.Usable {
		res.TotalHits = 0
		res.Scores = []smk.ScoredDoc{}
		res.Candidates = []forest.Candidate{}
	}
	res.TookMS = time.Since(start).Milliseconds()
	return res, nil
}

// resolve returns the query descriptors and the documents excluded from
// the results.
func (e *Executor) resolve(ctx context.Context, ix *indexer.Index, req Request) ([]vocab.Descriptor, map[smk.DocumentID]struct{}, error) {
	exclude := make(map[smk.DocumentID]struct{}, len(req.ExcludeIDs))
	for _, id := range req.ExcludeIDs {
		exclude[id] = struct{}{}
	}
	descs := req.Descriptors
	switch {
	case req.DocumentID != nil && len(descs) > 0:
		return nil, nil, fmt.Errorf("%w: descriptors and document_id are mutually exclusive", apperrors.ErrInvalidInput)
	case req.DocumentID != nil:
		if e.source == nil {
			return nil, nil, fmt.Errorf("%w: document queries need a descriptor source", apperrors.ErrInvalidInput)
		}
		id := *req.DocumentID
		vecs, err := e.source.VectorsFor(ctx, []smk.DocumentID{id})
		if err != nil {
			return nil, nil, fmt.Errorf("loading query document %d: %w", id, err)
		}
		descs = vecs[0]
		exclude[id] = struct{}{}
		if req.ExcludeSameLabel {
			if label := ix.SMK.Labels[id]; label != "" {
				for doc, l := range ix.SMK.Labels {
					if l == label {
						exclude[doc] = struct{}{}
					}
				}
			}
		}
	case len(descs) == 0:
		return nil, nil, fmt.Errorf("%w: query has no descriptors", apperrors.ErrInvalidInput)
	}
	if e.opts.MaxDescriptors > 0 && len(descs) > e.opts.MaxDescriptors {
		return nil, nil, fmt.Errorf("%w: %d descriptors exceeds the limit of %d",
			apperrors.ErrInvalidInput, len(descs), e.opts.MaxDescriptors)
	}
	if dim := ix.Vocabulary.Dimension(); len(descs) > 0 {
		for i, d := range descs {
			if len(d) != dim {
				return nil, nil, fmt.Errorf("%w: descriptor %d has dimension %d, want %d",
					apperrors.ErrInvalidInput, i, len(d), dim)
			}
		}
	}
	return descs, exclude, nil
}

// BuildID names the index queries currently run against, or "" before
// one is loaded.
func (e *Executor) BuildID() string {
	if ix := e.indexes.Current(); ix != nil {
		return ix.BuildID
	}
	return ""
}

// Normalize resolves defaults so that equivalent requests compare equal.
func (e *Executor) Normalize(req Request) Request {
	req.Limit = e.limit(req.Limit)
	if req.K < 1 {
		req.K = e.opts.K
	}
	if len(req.ExcludeIDs) > 0 {
		ids := slices.Clone(req.ExcludeIDs)
		slices.Sort(ids)
		req.ExcludeIDs = slices.Compact(ids)
	}
	return req
}

func (e *Executor) limit(n int) int {
	switch {
	case n < 1:
		return e.opts.DefaultLimit
	case n > e.opts.MaxResults:
		return e.opts.MaxResults
	}
	return n
}

func (e *Executor) observe(stage string, start time.Time) {
	if e.metrics != nil {
		e.metrics.QueryLatency.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

func (e *Executor) count(res *Result, err error) {
	if e.metrics == nil {
		return
	}
	switch {
	case err != nil:
		e.metrics.QueriesTotal.WithLabelValues("error").Inc()
	case !res.Usable:
		e.metrics.QueriesTotal.WithLabelValues("unusable").Inc()
	default:
		e.metrics.QueriesTotal.WithLabelValues("ok").Inc()
		e.metrics.QueryCandidates.Observe(float64(len(res.Scores)))
	}
}
