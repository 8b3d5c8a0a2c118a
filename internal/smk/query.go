package smk

import (
	"context"
	"fmt"
	"math"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/vocab"
	apperrors "github.com/Adithya-Monish-Kumar-K/visual-search/pkg/errors"
)

// QueryRepresentation is the per-word residual form of one query. Words is
// ascending; the other slices are indexed like Words. It is never stored in
// the corpus index.
type QueryRepresentation struct {
	Words      []int
	Residuals  [][][]float32
	Weights    [][]float64
	FeatureIdx [][][]int
	SCCW       float64
}

// BuildQuery represents descs with the same assignment, residual and SCCW
// code as the corpus, using the index's query parameters. A query whose
// self-consistency sum is not positive yields ErrNoUsableQuery.
func (ix *InvertedIndex) BuildQuery(ctx context.Context, descs []vocab.Descriptor) (*QueryRepresentation, error) {
	if ix.assigner == nil {
		return nil, fmt.Errorf("index is not attached to a vocabulary")
	}
	if len(descs) == 0 {
		return nil, fmt.Errorf("%w: no descriptors", apperrors.ErrNoUsableQuery)
	}
	stack, err := singleDocumentStack(descs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	if stack.Dimension != ix.vocab.Dimension() {
		return nil, fmt.Errorf("%w: descriptor dimension %d, vocabulary dimension %d",
			apperrors.ErrInvalidInput, stack.Dimension, ix.vocab.Dimension())
	}
	assigns, err := ix.assigner.Assign(stack.Vectors, ix.Params.queryAssign())
	if err != nil {
		return nil, err
	}
	inv, err := BuildInverted(assigns, ix.vocab.Len())
	if err != nil {
		return nil, err
	}
	postings, err := ComputeResiduals(ctx, ix.vocab, inv, stack, ix.Params.Aggregate, 1)
	if err != nil {
		return nil, err
	}

	q := &QueryRepresentation{}
	for w := range postings {
		p := &postings[w]
		if p.Len() == 0 {
			continue
		}
		q.Words = append(q.Words, w)
		q.Residuals = append(q.Residuals, p.Residuals)
		q.Weights = append(q.Weights, p.Weights)
		q.FeatureIdx = append(q.FeatureIdx, p.FeatureIdx)
	}
	s := selfSum(q.Words, q.Residuals, q.Weights, ix.IDF, ix.Params.Alpha, ix.Params.Thresh)
	if !(s > 0) {
		return nil, fmt.Errorf("%w: self-consistency sum %v", apperrors.ErrNoUsableQuery, s)
	}
	q.SCCW = 1 / math.Sqrt(s)
	return q, nil
}
