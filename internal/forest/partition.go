package forest

import (
	"cmp"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/smk"
)

// Kind says how a shard's documents were chosen.
type Kind string

const (
	// KindForest shards hold at most one document of every label.
	KindForest Kind = "forest"
	// KindOverflow holds known-label documents that did not fit a forest.
	KindOverflow Kind = "overflow"
	// KindUnknown holds documents without a label.
	KindUnknown Kind = "unknown"
)

// Plan is the document layout of a multi-index before any ANN is built.
type Plan struct {
	Shards []PlannedShard
}

// PlannedShard lists the documents of one shard in ascending id order.
type PlannedShard struct {
	Kind      Kind
	Documents []smk.DocumentID
}

// Partition splits docs into forests by label. With F = min(numForests,
// largest group) forests, forest i gets the i-th document (by id) of every
// group that has one. Group members beyond F go to the overflow shard and
// unlabelled documents to the unknown shard. Empty shards are omitted.
func Partition(docs []smk.Document, numForests int) Plan {
	groups := make(map[string][]smk.DocumentID)
	var unknown []smk.DocumentID
	for _, d := range docs {
		if d.Label == "" {
			unknown = append(unknown, d.ID)
			continue
		}
		groups[d.Label] = append(groups[d.Label], d.ID)
	}

	labels := make([]string, 0, len(groups))
	largest := 0
	for label, ids := range groups {
		slices.Sort(ids)
		labels = append(labels, label)
		largest = max(largest, len(ids))
	}
	slices.Sort(labels)

	n := min(max(numForests, 1), largest)
	forests := make([][]smk.DocumentID, n)
	var overflow []smk.DocumentID
	for _, label := range labels {
		for i, id := range groups[label] {
			if i < n {
				forests[i] = append(forests[i], id)
			} else {
				overflow = append(overflow, id)
			}
		}
	}

	var plan Plan
	add := func(kind Kind, ids []smk.DocumentID) {
		if len(ids) == 0 {
			return
		}
		slices.SortFunc(ids, cmp.Compare[smk.DocumentID])
		plan.Shards = append(plan.Shards, PlannedShard{Kind: kind, Documents: ids})
	}
	for _, ids := range forests {
		add(KindForest, ids)
	}
	add(KindOverflow, overflow)
	add(KindUnknown, unknown)
	return plan
}
