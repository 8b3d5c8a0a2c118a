package forest

import (
	"cmp"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/ann"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/smk"
)

// Neighbor is one descriptor-level hit with its provenance. Rank is the
// position within the shard's own result list.
type Neighbor struct {
	DocID      smk.DocumentID `json:"doc_id" msgpack:"doc"`
	FeatureIdx int            `json:"fx" msgpack:"fx"`
	Distance   float32        `json:"distance" msgpack:"dist"`
	Rank       int            `json:"rank" msgpack:"rank"`
	ShardID    int            `json:"shard" msgpack:"shard"`
}

func compareNeighbors(a, b Neighbor) int {
	if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
		return c
	}
	if c := cmp.Compare(a.DocID, b.DocID); c != 0 {
		return c
	}
	if c := cmp.Compare(a.FeatureIdx, b.FeatureIdx); c != 0 {
		return c
	}
	return cmp.Compare(a.ShardID, b.ShardID)
}

// Shard is a self-contained ANN structure over the descriptors of a subset
// of documents. Row r of the index is descriptor FeatureIdx[r] of DocIDs[r];
// rows are ordered by document id, then feature index.
type Shard struct {
	ID         int
	Kind       Kind
	Documents  []smk.DocumentID
	DocIDs     []smk.DocumentID
	FeatureIdx []int

	index ann.Index
}

func (s *Shard) Len() int { return len(s.DocIDs) }

// buildShard indexes the descriptors of ids, which must be sorted. It
// returns nil when the documents have no descriptors.
func buildShard(id int, plan PlannedShard, byID map[smk.DocumentID]*smk.Document, dim int, opts Options) (*Shard, error) {
	s := &Shard{ID: id, Kind: plan.Kind, Documents: plan.Documents}
	var flat *ann.Flat
	var graph *ann.HNSW
	if opts.Exhaustive {
		flat = ann.NewFlat(dim)
		s.index = flat
	} else {
		graph = ann.NewHNSW(dim, func(o *ann.Options) { *o = opts.HNSW })
		s.index = graph
	}
	for _, docID := range plan.Documents {
		doc := byID[docID]
		for fx, desc := range doc.Descriptors {
			var err error
			if flat != nil {
				_, err = flat.Add(desc)
			} else {
				_, err = graph.Insert(desc)
			}
			if err != nil {
				return nil, fmt.Errorf("shard %d document %d descriptor %d: %w", id, docID, fx, err)
			}
			s.DocIDs = append(s.DocIDs, docID)
			s.FeatureIdx = append(s.FeatureIdx, fx)
		}
	}
	if len(s.DocIDs) == 0 {
		return nil, nil
	}
	return s, nil
}

// Search returns the n nearest rows to q with provenance.
func (s *Shard) Search(q []float32, n int) ([]Neighbor, error) {
	hits, err := s.index.Search(q, n)
	if err != nil {
		return nil, err
	}
	out := make([]Neighbor, len(hits))
	for rank, h := range hits {
		out[rank] = Neighbor{
			DocID:      s.DocIDs[h.ID],
			FeatureIdx: s.FeatureIdx[h.ID],
			Distance:   h.Distance,
			Rank:       rank,
			ShardID:    s.ID,
		}
	}
	return out, nil
}
