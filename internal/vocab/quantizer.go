package vocab

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/ann"
)

// Quantizer finds the n nearest words of a descriptor, ordered by ascending
// squared distance.
type Quantizer interface {
	Nearest(d Descriptor, n int) ([]ann.Neighbor, error)
}

// IndexQuantizer answers word lookups from an ann.Index built over the
// vocabulary centroids. Neighbour IDs are word indexes.
type IndexQuantizer struct {
	index ann.Index
}

// NewQuantizer indexes the vocabulary. Exact lookups use a flat index;
// otherwise an HNSW graph is built with the given options.
func NewQuantizer(v *Vocabulary, exact bool, optFns ...func(o *ann.Options)) (*IndexQuantizer, error) {
	if exact {
		f := ann.NewFlat(v.Dimension())
		for w, c := range v.Centroids {
			if _, err := f.Add(c); err != nil {
				return nil, fmt.Errorf("indexing word %d: %w", w, err)
			}
		}
		return &IndexQuantizer{index: f}, nil
	}
	h := ann.NewHNSW(v.Dimension(), optFns...)
	for w, c := range v.Centroids {
		if _, err := h.Insert(c); err != nil {
			return nil, fmt.Errorf("indexing word %d: %w", w, err)
		}
	}
	return &IndexQuantizer{index: h}, nil
}

func (q *IndexQuantizer) Nearest(d Descriptor, n int) ([]ann.Neighbor, error) {
	return q.index.Search(d, n)
}
