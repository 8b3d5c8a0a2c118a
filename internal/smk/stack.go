package smk

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/resource"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/vocab"
	apperrors "github.com/Adithya-Monish-Kumar-K/visual-search/pkg/errors"
)

// Stack is the flattened corpus: row i is descriptor FeatureIdx[i] of
// document DocIDs[i]. Rows of one document are contiguous and in document
// order. Ordinals[i] is the position of DocIDs[i] in Documents.
type Stack struct {
	Vectors    [][]float32
	DocIDs     []DocumentID
	FeatureIdx []int
	Ordinals   []uint32
	Documents  []DocumentID
	Dimension  int

	budget   *resource.Budget
	reserved int64
}

func (s *Stack) Len() int { return len(s.Vectors) }

// Release returns the stack's memory reservation to its budget.
func (s *Stack) Release() {
	if s == nil {
		return
	}
	s.budget.Release(s.reserved)
	s.reserved = 0
}

// stackBytes estimates the heap needed for n rows of dimension dim.
func stackBytes(n, dim int) int64 {
	return int64(n) * (int64(dim)*4 + 24 + 8 + 8 + 4)
}

// BuildStack flattens per-document descriptors into a single stack.
// Documents without descriptors appear in Documents but contribute no rows.
// The reservation taken from budget is held until Release.
func BuildStack(docs []Document, budget *resource.Budget) (s *Stack, err error) {
	if len(docs) == 0 {
		return nil, apperrors.Construction("stack", "no documents")
	}
	total, dim := 0, 0
	seen := make(map[DocumentID]struct{}, len(docs))
	for _, d := range docs {
		if _, dup := seen[d.ID]; dup {
			return nil, apperrors.Construction("stack", "duplicate document").WithDocument(d.ID)
		}
		seen[d.ID] = struct{}{}
		for fx, desc := range d.Descriptors {
			if dim == 0 {
				dim = len(desc)
			}
			if len(desc) != dim || dim == 0 {
				return nil, apperrors.Construction("stack",
					"descriptor %d has dimension %d, expected %d", fx, len(desc), dim).WithDocument(d.ID)
			}
		}
		total += len(d.Descriptors)
	}
	if total == 0 {
		return nil, apperrors.Construction("stack", "documents have no descriptors")
	}

	need := stackBytes(total, dim)
	if err := budget.Reserve(need); err != nil {
		return nil, apperrors.Resource("stack", len(docs), total,
			"stacking needs %d bytes, limit %d: %v", need, budget.Limit(), err)
	}
	defer func() {
		if r := recover(); r != nil {
			budget.Release(need)
			s = nil
			err = apperrors.Resource("stack", len(docs), total, "allocation failed: %v", r)
		}
	}()

	backing := make([]float32, total*dim)
	s = &Stack{
		Vectors:    make([][]float32, total),
		DocIDs:     make([]DocumentID, total),
		FeatureIdx: make([]int, total),
		Ordinals:   make([]uint32, total),
		Documents:  make([]DocumentID, len(docs)),
		Dimension:  dim,
		budget:     budget,
		reserved:   need,
	}
	row := 0
	for ord, d := range docs {
		s.Documents[ord] = d.ID
		for fx, desc := range d.Descriptors {
			v := backing[row*dim : (row+1)*dim : (row+1)*dim]
			copy(v, desc)
			s.Vectors[row] = v
			s.DocIDs[row] = d.ID
			s.FeatureIdx[row] = fx
			s.Ordinals[row] = uint32(ord)
			row++
		}
	}
	return s, nil
}

// singleDocumentStack wraps one query's descriptors without a budget.
func singleDocumentStack(descs []vocab.Descriptor) (*Stack, error) {
	if len(descs) == 0 {
		return nil, fmt.Errorf("query has no descriptors")
	}
	return BuildStack([]Document{{ID: 0, Descriptors: descs}}, nil)
}
