package smk

import (
	"cmp"
	"slices"
)

// ScoredDoc is a document and its kernel score against a query.
type ScoredDoc struct {
	DocID DocumentID `json:"doc_id"`
	Score float64    `json:"score"`
}

// Score evaluates the selective match kernel of q against every document
// sharing at least one word with it:
//
//	score(q, d) = sccw(q) * sccw(d) * sum_w idf(w) * sum_ij qm_i * dm_j * sel(q_i . d_j)
//
// Documents scoring exactly zero are omitted. Results are ordered by
// descending score, ties by ascending document id.
func (ix *InvertedIndex) Score(q *QueryRepresentation) []ScoredDoc {
	return ix.ScoreFiltered(q, nil)
}

// ScoreFiltered is Score restricted to documents accepted by allow. A nil
// allow accepts every document.
func (ix *InvertedIndex) ScoreFiltered(q *QueryRepresentation, allow func(DocumentID) bool) []ScoredDoc {
	alpha, thresh := ix.Params.Alpha, ix.Params.Thresh
	sums := make(map[DocumentID]float64)
	order := make([]DocumentID, 0)
	for k, w := range q.Words {
		p := &ix.Postings[w]
		idf := ix.IDF[w]
		for j, doc := range p.DocIDs {
			if allow != nil && !allow(doc) {
				continue
			}
			s := kernel(q.Residuals[k], q.Weights[k], p.Residuals[j:j+1], p.Weights[j:j+1], alpha, thresh)
			if s == 0 {
				continue
			}
			if _, seen := sums[doc]; !seen {
				order = append(order, doc)
			}
			sums[doc] += idf * s
		}
	}
	out := make([]ScoredDoc, 0, len(order))
	for _, doc := range order {
		score := q.SCCW * ix.SCCW[doc] * sums[doc]
		if score == 0 {
			continue
		}
		out = append(out, ScoredDoc{DocID: doc, Score: score})
	}
	slices.SortFunc(out, func(a, b ScoredDoc) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.DocID, b.DocID)
	})
	return out
}
