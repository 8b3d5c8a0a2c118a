package smk

import (
	"context"

	"gonum.org/v1/gonum/blas/blas32"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/vocab"
	apperrors "github.com/Adithya-Monish-Kumar-K/visual-search/pkg/errors"
)

// PostingsList holds the residual entries of one word. The four slices are
// parallel. Without aggregation every entry is one descriptor and its
// FeatureIdx has a single element; with aggregation every entry is one
// document.
type PostingsList struct {
	DocIDs     []DocumentID `msgpack:"aids"`
	FeatureIdx [][]int      `msgpack:"fxs"`
	Residuals  [][]float32  `msgpack:"rvecs"`
	Weights    []float64    `msgpack:"maws"`
}

func (p *PostingsList) Len() int { return len(p.DocIDs) }

// Validate checks that the parallel slices agree in length.
func (p *PostingsList) Validate(word int) error {
	n := len(p.DocIDs)
	if len(p.FeatureIdx) != n || len(p.Residuals) != n || len(p.Weights) != n {
		return apperrors.Construction("postings",
			"mismatched lengths: aids=%d fxs=%d rvecs=%d maws=%d",
			n, len(p.FeatureIdx), len(p.Residuals), len(p.Weights)).WithWord(word)
	}
	return nil
}

func vec32(x []float32) blas32.Vector {
	return blas32.Vector{N: len(x), Inc: 1, Data: x}
}

// normalize scales x to unit L2 norm in place. A zero vector stays zero.
func normalize(x []float32) {
	v := vec32(x)
	if n := blas32.Nrm2(v); n > 0 {
		blas32.Scal(1/n, v)
	}
}

func dot(a, b []float32) float32 {
	return blas32.Dot(vec32(a), vec32(b))
}

// residual returns the normalised difference between desc and centroid.
func residual(desc, centroid []float32) []float32 {
	r := make([]float32, len(desc))
	copy(r, desc)
	blas32.Axpy(-1, vec32(centroid), vec32(r))
	normalize(r)
	return r
}

// ComputeResiduals builds one PostingsList per word.
func ComputeResiduals(ctx context.Context, v *vocab.Vocabulary, inv *Inverted, stack *Stack, aggregate bool, workers int) ([]PostingsList, error) {
	out := make([]PostingsList, inv.Words())
	err := forEachWord(ctx, inv.Words(), workers, func(w int) error {
		if aggregate {
			out[w] = aggregateWord(v.Word(w), inv.Rows[w], inv.Weights[w], stack)
		} else {
			out[w] = residualWord(v.Word(w), inv.Rows[w], inv.Weights[w], stack)
		}
		return out[w].Validate(w)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func residualWord(centroid []float32, rows []int, maws []float64, stack *Stack) PostingsList {
	if len(rows) == 0 {
		return PostingsList{}
	}
	p := PostingsList{
		DocIDs:     make([]DocumentID, len(rows)),
		FeatureIdx: make([][]int, len(rows)),
		Residuals:  make([][]float32, len(rows)),
		Weights:    make([]float64, len(rows)),
	}
	for i, row := range rows {
		p.DocIDs[i] = stack.DocIDs[row]
		p.FeatureIdx[i] = []int{stack.FeatureIdx[row]}
		p.Residuals[i] = residual(stack.Vectors[row], centroid)
		p.Weights[i] = maws[i]
	}
	return p
}

// aggregateWord sums the weighted residuals of each document, renormalises
// the sum and concatenates the contributing feature indexes in row order.
// Rows of one document are contiguous because the stack is grouped by
// document.
func aggregateWord(centroid []float32, rows []int, maws []float64, stack *Stack) PostingsList {
	var p PostingsList
	for i, row := range rows {
		r := residual(stack.Vectors[row], centroid)
		doc := stack.DocIDs[row]
		last := len(p.DocIDs) - 1
		if last < 0 || p.DocIDs[last] != doc {
			agg := make([]float32, len(r))
			p.DocIDs = append(p.DocIDs, doc)
			p.FeatureIdx = append(p.FeatureIdx, nil)
			p.Residuals = append(p.Residuals, agg)
			p.Weights = append(p.Weights, 0)
			last++
		}
		blas32.Axpy(float32(maws[i]), vec32(r), vec32(p.Residuals[last]))
		p.FeatureIdx[last] = append(p.FeatureIdx[last], stack.FeatureIdx[row])
		p.Weights[last] += maws[i]
	}
	for _, agg := range p.Residuals {
		normalize(agg)
	}
	return p
}
