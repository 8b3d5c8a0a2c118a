package smk

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/Adithya-Monish-Kumar-K/visual-search/pkg/errors"
)

// DocumentStats maps each document with at least one residual to its
// self-consistency weight.
type DocumentStats map[DocumentID]float64

// Selectivity is sign(u)*|u|^alpha for u > thresh and 0 otherwise.
func Selectivity(u, alpha, thresh float64) float64 {
	if u <= thresh {
		return 0
	}
	if u < 0 {
		return -math.Pow(-u, alpha)
	}
	return math.Pow(u, alpha)
}

// kernel sums a_i*b_j*Selectivity(x_i . y_j) over all residual pairs of one
// word.
func kernel(xs [][]float32, xw []float64, ys [][]float32, yw []float64, alpha, thresh float64) float64 {
	var sum float64
	for i, x := range xs {
		for j, y := range ys {
			s := Selectivity(float64(dot(x, y)), alpha, thresh)
			if s != 0 {
				sum += xw[i] * yw[j] * s
			}
		}
	}
	return sum
}

// docTerms gathers, for one document, the entries it owns in each word it
// appears in. Words are in ascending order.
type docTerms struct {
	id        DocumentID
	words     []int
	residuals [][][]float32
	weights   [][]float64
}

func groupByDocument(postings []PostingsList, order []DocumentID) []*docTerms {
	byID := make(map[DocumentID]*docTerms, len(order))
	for w := range postings {
		p := &postings[w]
		for j, id := range p.DocIDs {
			dt, ok := byID[id]
			if !ok {
				dt = &docTerms{id: id}
				byID[id] = dt
			}
			last := len(dt.words) - 1
			if last < 0 || dt.words[last] != w {
				dt.words = append(dt.words, w)
				dt.residuals = append(dt.residuals, nil)
				dt.weights = append(dt.weights, nil)
				last++
			}
			dt.residuals[last] = append(dt.residuals[last], p.Residuals[j])
			dt.weights[last] = append(dt.weights[last], p.Weights[j])
		}
	}
	out := make([]*docTerms, 0, len(byID))
	for _, id := range order {
		if dt, ok := byID[id]; ok {
			out = append(out, dt)
		}
	}
	return out
}

// selfSum is the kernel of a document against itself, weighted by IDF.
func selfSum(words []int, residuals [][][]float32, weights [][]float64, idf IDFTable, alpha, thresh float64) float64 {
	var sum float64
	for k, w := range words {
		sum += idf[w] * kernel(residuals[k], weights[k], residuals[k], weights[k], alpha, thresh)
	}
	return sum
}

// ComputeSCCW returns 1/sqrt(S) per document, where S is the IDF-weighted
// self kernel. A non-positive or NaN S is a construction error naming the
// document. order fixes the iteration order of documents.
func ComputeSCCW(ctx context.Context, postings []PostingsList, idf IDFTable, order []DocumentID, alpha, thresh float64, workers int) (DocumentStats, error) {
	docs := groupByDocument(postings, order)
	values := make([]float64, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, dt := range docs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s := selfSum(dt.words, dt.residuals, dt.weights, idf, alpha, thresh)
			if !(s > 0) {
				return apperrors.Construction("sccw", "self-consistency sum %v is not positive", s).WithDocument(dt.id)
			}
			values[i] = 1 / math.Sqrt(s)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stats := make(DocumentStats, len(docs))
	for i, dt := range docs {
		stats[dt.id] = values[i]
	}
	return stats, nil
}
