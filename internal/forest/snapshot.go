package forest

import (
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/ann"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/smk"
)

// Snapshot is the serialisable form of a MultiIndex.
type Snapshot struct {
	Dimension int             `msgpack:"dim"`
	Options   Options         `msgpack:"opts"`
	Shards    []ShardSnapshot `msgpack:"shards"`
}

// ShardSnapshot holds either the flat vectors or the HNSW graph of a shard.
type ShardSnapshot struct {
	ID         int              `msgpack:"id"`
	Kind       Kind             `msgpack:"kind"`
	Documents  []smk.DocumentID `msgpack:"daids"`
	DocIDs     []smk.DocumentID `msgpack:"dx2_aid"`
	FeatureIdx []int            `msgpack:"dx2_fx"`
	Vectors    [][]float32      `msgpack:"vecs,omitempty"`
	Graph      *ann.Graph       `msgpack:"graph,omitempty"`
}

// Snapshot exports m. The result shares vector storage with m.
func (m *MultiIndex) Snapshot() *Snapshot {
	snap := &Snapshot{Dimension: m.Dimension, Options: m.Options}
	for _, s := range m.Shards {
		ss := ShardSnapshot{
			ID:         s.ID,
			Kind:       s.Kind,
			Documents:  s.Documents,
			DocIDs:     s.DocIDs,
			FeatureIdx: s.FeatureIdx,
		}
		switch idx := s.index.(type) {
		case *ann.Flat:
			ss.Vectors = make([][]float32, idx.Len())
			for i := range ss.Vectors {
				ss.Vectors[i] = idx.Vector(uint32(i))
			}
		case *ann.HNSW:
			ss.Graph = idx.Export()
		}
		snap.Shards = append(snap.Shards, ss)
	}
	return snap
}

// Restore rebuilds a MultiIndex from a snapshot without re-running the ANN
// construction.
func Restore(snap *Snapshot) (*MultiIndex, error) {
	m := &MultiIndex{
		Dimension: snap.Dimension,
		Options:   snap.Options,
		logger:    slog.Default().With("component", "forest"),
	}
	for _, ss := range snap.Shards {
		if len(ss.DocIDs) != len(ss.FeatureIdx) {
			return nil, fmt.Errorf("shard %d: %d doc ids, %d feature indexes", ss.ID, len(ss.DocIDs), len(ss.FeatureIdx))
		}
		s := &Shard{
			ID:         ss.ID,
			Kind:       ss.Kind,
			Documents:  ss.Documents,
			DocIDs:     ss.DocIDs,
			FeatureIdx: ss.FeatureIdx,
		}
		switch {
		case ss.Graph != nil:
			g, err := ann.FromGraph(ss.Graph)
			if err != nil {
				return nil, fmt.Errorf("shard %d: %w", ss.ID, err)
			}
			s.index = g
		default:
			flat := ann.NewFlat(snap.Dimension)
			for _, v := range ss.Vectors {
				if _, err := flat.Add(v); err != nil {
					return nil, fmt.Errorf("shard %d: %w", ss.ID, err)
				}
			}
			s.index = flat
		}
		if s.index.Len() != len(s.DocIDs) {
			return nil, fmt.Errorf("shard %d: index has %d rows, provenance has %d", ss.ID, s.index.Len(), len(s.DocIDs))
		}
		m.Shards = append(m.Shards, s)
	}
	m.logger.Debug("multi-index restored", "shards", len(m.Shards), "dimension", m.Dimension)
	return m, nil
}
