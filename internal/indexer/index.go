package indexer

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/artifact"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/forest"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/smk"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/vocab"
	apperrors "github.com/Adithya-Monish-Kumar-K/visual-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/metrics"
)

// Keys are the artifact keys an index was stored under.
type Keys struct {
	Vocabulary string `msgpack:"vocab" json:"vocabulary"`
	SMK        string `msgpack:"smk" json:"smk"`
	Forest     string `msgpack:"forest" json:"forest"`
}

// Index is one immutable, queryable build of a corpus.
type Index struct {
	BuildID     string
	Corpus      string
	Fingerprint artifact.Fingerprint
	Keys        Keys
	SMK         *smk.InvertedIndex
	Forest      *forest.MultiIndex
	Vocabulary  *vocab.Vocabulary
	CacheHit    bool
	BuiltAt     time.Time
	Duration    time.Duration
}

// Manifest points at the artifacts of the latest build of a corpus, so
// that readers can load the index without access to the descriptor source.
type Manifest struct {
	BuildID     string    `msgpack:"build_id"`
	Corpus      string    `msgpack:"corpus"`
	Fingerprint string    `msgpack:"fingerprint"`
	Keys        Keys      `msgpack:"keys"`
	BuiltAt     time.Time `msgpack:"built_at"`
}

type vocabArtifact struct {
	Centroids [][]float32 `msgpack:"centroids"`
}

// ManifestKey is the artifact key of a corpus manifest.
func ManifestKey(corpus string) string {
	return "manifest_corpus(" + corpus + ")"
}

// SaveManifest records ix as the latest build of its corpus.
func SaveManifest(ctx context.Context, cache *artifact.Cache, ix *Index) error {
	return cache.Save(ctx, ManifestKey(ix.Corpus), Manifest{
		BuildID:     ix.BuildID,
		Corpus:      ix.Corpus,
		Fingerprint: ix.Fingerprint.String(),
		Keys:        ix.Keys,
		BuiltAt:     ix.BuiltAt,
	})
}

// ReadManifest loads the manifest of the latest build of corpus.
func ReadManifest(ctx context.Context, cache *artifact.Cache, corpus string) (Manifest, error) {
	var man Manifest
	if !cache.Load(ctx, ManifestKey(corpus), &man) {
		return Manifest{}, fmt.Errorf("%w: no manifest for corpus %q", apperrors.ErrIndexNotReady, corpus)
	}
	return man, nil
}

// Open loads the latest index of corpus from the artifact cache. It fails
// with errors.ErrIndexNotReady when no complete build has been stored.
func Open(ctx context.Context, cache *artifact.Cache, corpus string) (*Index, error) {
	man, err := ReadManifest(ctx, cache, corpus)
	if err != nil {
		return nil, err
	}
	return OpenManifest(ctx, cache, man)
}

// OpenManifest loads the index man points at. Query words are assigned
// with the same quantizer kind the corpus was built with.
func OpenManifest(ctx context.Context, cache *artifact.Cache, man Manifest) (*Index, error) {
	var va vocabArtifact
	if !cache.Load(ctx, man.Keys.Vocabulary, &va) {
		return nil, fmt.Errorf("%w: vocabulary %s missing", apperrors.ErrIndexNotReady, man.Keys.Vocabulary)
	}
	v, err := vocab.New(va.Centroids)
	if err != nil {
		return nil, fmt.Errorf("%w: stored vocabulary: %v", apperrors.ErrInternal, err)
	}

	var inv *smk.InvertedIndex
	if !cache.Load(ctx, man.Keys.SMK, &inv) || inv == nil {
		return nil, fmt.Errorf("%w: inverted index %s missing", apperrors.ErrIndexNotReady, man.Keys.SMK)
	}
	q, err := vocab.NewQuantizer(v, inv.Params.ExactAssign)
	if err != nil {
		return nil, fmt.Errorf("indexing vocabulary: %w", err)
	}
	if err := inv.Attach(v, vocab.NewAssigner(q, v.Len())); err != nil {
		return nil, fmt.Errorf("%w: stored inverted index: %v", apperrors.ErrInternal, err)
	}
	var snap *forest.Snapshot
	if !cache.Load(ctx, man.Keys.Forest, &snap) || snap == nil {
		return nil, fmt.Errorf("%w: multi-index %s missing", apperrors.ErrIndexNotReady, man.Keys.Forest)
	}
	mi, err := forest.Restore(snap)
	if err != nil {
		return nil, fmt.Errorf("%w: stored multi-index: %v", apperrors.ErrInternal, err)
	}
	return &Index{
		BuildID:    man.BuildID,
		Corpus:     man.Corpus,
		Keys:       man.Keys,
		SMK:        inv,
		Forest:     mi,
		Vocabulary: v,
		CacheHit:   true,
		BuiltAt:    man.BuiltAt,
	}, nil
}

// Event describes ix for the index-built topic.
func (ix *Index) Event() kafka.IndexBuilt {
	stats := ix.SMK.Stats()
	return kafka.IndexBuilt{
		BuildID:     ix.BuildID,
		Corpus:      ix.Corpus,
		Fingerprint: ix.Fingerprint.String(),
		Documents:   stats.Documents,
		Descriptors: stats.Descriptors,
		Words:       stats.Words,
		Shards:      len(ix.Forest.Shards),
		CacheHit:    ix.CacheHit,
		DurationMS:  ix.Duration.Milliseconds(),
		BuiltAt:     ix.BuiltAt,
	}
}

// Observe publishes the size of ix on the corpus gauges.
func (ix *Index) Observe(m *metrics.Metrics) {
	stats := ix.SMK.Stats()
	m.DocsIndexed.Set(float64(stats.Documents))
	m.DescriptorsIndexed.Set(float64(stats.Descriptors))
	m.ActiveShards.Set(float64(len(ix.Forest.Shards)))
	m.ShardDocCount.Reset()
	for _, s := range ix.Forest.Stats() {
		m.ShardDocCount.WithLabelValues(strconv.Itoa(s.ID), string(s.Kind)).Set(float64(s.Documents))
	}
}

// Holder publishes the current index to concurrent readers. The zero value
// holds nothing.
type Holder struct {
	current atomic.Pointer[Index]
}

func (h *Holder) Current() *Index { return h.current.Load() }

// Swap installs ix and returns the index it replaced.
func (h *Holder) Swap(ix *Index) *Index { return h.current.Swap(ix) }
