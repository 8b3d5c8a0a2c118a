// Package store reads corpus documents, their descriptors and labels, and
// vocabularies from a backing store. Lookups are keyed by document id and
// return results in the order of the requested ids.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/smk"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/vocab"
)

// Keypoint locates a descriptor in its image.
type Keypoint struct {
	X           float32 `msgpack:"x" json:"x"`
	Y           float32 `msgpack:"y" json:"y"`
	Scale       float32 `msgpack:"s" json:"scale"`
	Orientation float32 `msgpack:"o" json:"orientation"`
}

// Source fetches per-document data. Unknown ids fail with an error wrapping
// errors.ErrNotFound.
type Source interface {
	VectorsFor(ctx context.Context, ids []smk.DocumentID) ([][]vocab.Descriptor, error)
	KeypointsFor(ctx context.Context, ids []smk.DocumentID) ([][]Keypoint, error)
	LabelsFor(ctx context.Context, ids []smk.DocumentID) ([]string, error)
}

// Corpus is a Source that can also enumerate a named corpus and provide
// capture times and vocabularies.
type Corpus interface {
	Source
	DocumentIDs(ctx context.Context, corpus string) ([]smk.DocumentID, error)
	// TimesFor returns the zero time for documents without a capture time.
	TimesFor(ctx context.Context, ids []smk.DocumentID) ([]time.Time, error)
	Vocabulary(ctx context.Context, name string) (*vocab.Vocabulary, error)
}

// Load assembles documents for ids from src.
func Load(ctx context.Context, src Source, ids []smk.DocumentID) ([]smk.Document, error) {
	vecs, err := src.VectorsFor(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading descriptors: %w", err)
	}
	labels, err := src.LabelsFor(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading labels: %w", err)
	}
	docs := make([]smk.Document, len(ids))
	for i, id := range ids {
		docs[i] = smk.Document{ID: id, Descriptors: vecs[i], Label: labels[i]}
	}
	return docs, nil
}
