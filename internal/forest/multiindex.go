// Package forest implements the sharded descriptor index. A corpus is split
// into independent shards by document label, every shard builds its own ANN
// structure, and queries are broadcast to all shards and merged into one
// globally ordered neighbour list per query descriptor.
package forest

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/ann"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/resource"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/smk"
	apperrors "github.com/Adithya-Monish-Kumar-K/visual-search/pkg/errors"
)

// Options configures a multi-index build.
type Options struct {
	NumForests int         `msgpack:"num_forests"`
	Exhaustive bool        `msgpack:"exhaustive"`
	HNSW       ann.Options `msgpack:"hnsw"`
	// Knorm extra neighbours are fetched after the k requested ones, for
	// distance normalisation by the caller.
	Knorm   int              `msgpack:"knorm"`
	Workers int              `msgpack:"-"`
	Budget  *resource.Budget `msgpack:"-"`
}

var DefaultOptions = Options{
	NumForests: 8,
	HNSW:       ann.DefaultOptions,
	Workers:    4,
}

// String renders the options that change the built shards.
func (o Options) String() string {
	if o.Exhaustive {
		return fmt.Sprintf("_FOREST(n=%d,flat,knorm=%d)", o.NumForests, o.Knorm)
	}
	return fmt.Sprintf("_FOREST(n=%d,M=%d,efc=%d,ef=%d,seed=%d,heur=%t,knorm=%d)",
		o.NumForests, o.HNSW.M, o.HNSW.EFConstruction, o.HNSW.EFSearch, o.HNSW.Seed, o.HNSW.Heuristic, o.Knorm)
}

// MultiIndex is a read-only set of shards. Queries need no locking.
type MultiIndex struct {
	Shards    []*Shard
	Dimension int
	Options   Options

	logger *slog.Logger
}

// ShardStats describes one shard for logs and the inspect endpoints.
type ShardStats struct {
	ID          int  `json:"id"`
	Kind        Kind `json:"kind"`
	Documents   int  `json:"documents"`
	Descriptors int  `json:"descriptors"`
}

func (m *MultiIndex) Stats() []ShardStats {
	out := make([]ShardStats, len(m.Shards))
	for i, s := range m.Shards {
		out[i] = ShardStats{ID: s.ID, Kind: s.Kind, Documents: len(s.Documents), Descriptors: s.Len()}
	}
	return out
}

// Build partitions docs and builds every non-empty shard in parallel. A
// cancelled ctx discards all shards.
func Build(ctx context.Context, docs []smk.Document, opts Options) (*MultiIndex, error) {
	start := time.Now()
	logger := slog.Default().With("component", "forest-builder")

	byID := make(map[smk.DocumentID]*smk.Document, len(docs))
	dim, total := 0, 0
	for i := range docs {
		d := &docs[i]
		if _, dup := byID[d.ID]; dup {
			return nil, apperrors.Construction("forest", "duplicate document").WithDocument(d.ID)
		}
		byID[d.ID] = d
		for fx, desc := range d.Descriptors {
			if dim == 0 {
				dim = len(desc)
			}
			if len(desc) != dim || dim == 0 {
				return nil, apperrors.Construction("forest",
					"descriptor %d has dimension %d, expected %d", fx, len(desc), dim).WithDocument(d.ID)
			}
		}
		total += len(d.Descriptors)
	}
	if total == 0 {
		return nil, apperrors.Construction("forest", "no descriptors in %d documents", len(docs))
	}

	need := int64(total) * (int64(dim)*4 + int64(opts.HNSW.M)*2*4 + 16)
	if err := opts.Budget.Reserve(need); err != nil {
		return nil, apperrors.Resource("forest", len(docs), total, "shards need %d bytes: %v", need, err)
	}
	defer opts.Budget.Release(need)

	plan := Partition(docs, opts.NumForests)
	built := make([]*Shard, len(plan.Shards))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Workers, 1))
	for i, p := range plan.Shards {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s, err := buildShard(i, p, byID, dim, opts)
			if err != nil {
				return err
			}
			built[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m := &MultiIndex{Dimension: dim, Options: opts, logger: logger}
	for _, s := range built {
		if s == nil {
			continue
		}
		s.ID = len(m.Shards)
		m.Shards = append(m.Shards, s)
	}
	for _, s := range m.Stats() {
		logger.Debug("shard built", "shard", s.ID, "kind", s.Kind, "documents", s.Documents, "descriptors", s.Descriptors)
	}
	logger.Info("multi-index built",
		"documents", len(docs),
		"descriptors", total,
		"shards", len(m.Shards),
		"exhaustive", opts.Exhaustive,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return m, nil
}

// Query broadcasts every query vector to all shards and returns, per query
// vector, the global top k+Knorm neighbours in ascending distance order.
func (m *MultiIndex) Query(ctx context.Context, vecs [][]float32, k int) ([][]Neighbor, error) {
	for i, v := range vecs {
		if len(v) != m.Dimension {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
				"query vector %d has dimension %d, expected %d", i, len(v), m.Dimension)
		}
	}
	n := k + m.Options.Knorm
	if n <= 0 || len(vecs) == 0 {
		return make([][]Neighbor, len(vecs)), nil
	}

	perShard, err := m.fanOut(ctx, vecs, n)
	if err != nil {
		return nil, err
	}
	out := make([][]Neighbor, len(vecs))
	lists := make([][]Neighbor, len(m.Shards))
	for q := range vecs {
		for s := range m.Shards {
			lists[s] = perShard[s][q]
		}
		out[q] = Merge(lists, n)
	}
	return out, nil
}

func (m *MultiIndex) fanOut(ctx context.Context, vecs [][]float32, n int) ([][][]Neighbor, error) {
	type result struct {
		hits [][]Neighbor
		err  error
	}
	results := make([]result, len(m.Shards))
	var wg sync.WaitGroup
	for i, s := range m.Shards {
		wg.Add(1)
		go func(idx int, shard *Shard) {
			defer wg.Done()
			hits := make([][]Neighbor, len(vecs))
			for q, v := range vecs {
				if err := ctx.Err(); err != nil {
					results[idx] = result{err: err}
					return
				}
				h, err := shard.Search(v, n)
				if err != nil {
					results[idx] = result{err: fmt.Errorf("shard %d, query %d: %w", shard.ID, q, err)}
					return
				}
				hits[q] = h
			}
			results[idx] = result{hits: hits}
		}(i, s)
	}
	wg.Wait()
	out := make([][][]Neighbor, len(m.Shards))
	for i, r := range results {
		if r.err != nil {
			return nil, r.err
		}
		out[i] = r.hits
	}
	return out, nil
}

// Candidate is a document proposed by the descriptor-level search.
type Candidate struct {
	DocID        smk.DocumentID `json:"doc_id"`
	Votes        int            `json:"votes"`
	BestDistance float32        `json:"best_distance"`
}

// TopK runs Query and folds the first k neighbours of every query vector
// into per-document candidates, ordered by votes then best distance then id.
func (m *MultiIndex) TopK(ctx context.Context, vecs [][]float32, k int) ([]Candidate, error) {
	hits, err := m.Query(ctx, vecs, k)
	if err != nil {
		return nil, err
	}
	byDoc := make(map[smk.DocumentID]*Candidate)
	var order []smk.DocumentID
	for _, list := range hits {
		if len(list) > k {
			list = list[:k]
		}
		for _, h := range list {
			c, ok := byDoc[h.DocID]
			if !ok {
				c = &Candidate{DocID: h.DocID, BestDistance: h.Distance}
				byDoc[h.DocID] = c
				order = append(order, h.DocID)
			}
			c.Votes++
			c.BestDistance = min(c.BestDistance, h.Distance)
		}
	}
	out := make([]Candidate, 0, len(order))
	for _, id := range order {
		out = append(out, *byDoc[id])
	}
	slices.SortFunc(out, func(a, b Candidate) int {
		if c := cmp.Compare(b.Votes, a.Votes); c != 0 {
			return c
		}
		if c := cmp.Compare(a.BestDistance, b.BestDistance); c != 0 {
			return c
		}
		return cmp.Compare(a.DocID, b.DocID)
	})
	return out, nil
}
