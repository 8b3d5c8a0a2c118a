package smk

import (
	"context"
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
)

// IDFTable holds one weight per word.
type IDFTable []float64

// wordDocuments returns, for every word, the set of document ordinals that
// have at least one row assigned to it.
func wordDocuments(ctx context.Context, inv *Inverted, stack *Stack, workers int) ([]*roaring.Bitmap, error) {
	sets := make([]*roaring.Bitmap, inv.Words())
	err := forEachWord(ctx, inv.Words(), workers, func(w int) error {
		bm := roaring.New()
		for _, row := range inv.Rows[w] {
			bm.Add(stack.Ordinals[row])
		}
		sets[w] = bm
		return nil
	})
	return sets, err
}

// ComputeIDF returns ln(N / (df(w) + 1)) for every word, where N counts all
// corpus documents and df(w) the distinct documents containing w. A word is
// only weighted positively when df(w) <= N-2, so a corpus of fewer than
// three documents has no positive weight at all.
func ComputeIDF(ctx context.Context, inv *Inverted, stack *Stack, workers int) (IDFTable, error) {
	sets, err := wordDocuments(ctx, inv, stack, workers)
	if err != nil {
		return nil, err
	}
	n := float64(len(stack.Documents))
	idf := make(IDFTable, len(sets))
	for w, bm := range sets {
		idf[w] = math.Log(n / (float64(bm.GetCardinality()) + 1))
	}
	return idf, nil
}

// ComputeLabelIDF weighs words by how evenly they spread over labels:
// ln(L / (p(w) + 1)) with p(w) = sum over labels l of
// 1 - |docs of l containing w| / |docs of l|. A document counts once per
// word however many of its rows the word holds. Documents absent from
// labels share the empty label.
func ComputeLabelIDF(ctx context.Context, inv *Inverted, stack *Stack, labels map[DocumentID]string, workers int) (IDFTable, error) {
	sets, err := wordDocuments(ctx, inv, stack, workers)
	if err != nil {
		return nil, err
	}
	members := make(map[string]*roaring.Bitmap)
	for ord, id := range stack.Documents {
		lbl := labels[id]
		bm, ok := members[lbl]
		if !ok {
			bm = roaring.New()
			members[lbl] = bm
		}
		bm.Add(uint32(ord))
	}
	names := make([]string, 0, len(members))
	for lbl := range members {
		names = append(names, lbl)
	}
	sort.Strings(names)

	nLabels := float64(len(names))
	idf := make(IDFTable, len(sets))
	for w, bm := range sets {
		var pcnt float64
		for _, lbl := range names {
			m := members[lbl]
			pcnt += 1 - float64(bm.AndCardinality(m))/float64(m.GetCardinality())
		}
		idf[w] = math.Log(nLabels / (pcnt + 1))
	}
	return idf, nil
}
