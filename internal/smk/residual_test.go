package smk

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/vocab"
	apperrors "github.com/Adithya-Monish-Kumar-K/visual-search/pkg/errors"
)

func norm(x []float32) float64 {
	var s float64
	for _, v := range x {
		s += float64(v) * float64(v)
	}
	return math.Sqrt(s)
}

func TestResidualIsNormalisedDifference(t *testing.T) {
	r := residual([]float32{3, 4, 0, 0}, []float32{0, 0, 0, 0})
	assert.InDeltaSlice(t, []float32{0.6, 0.8, 0, 0}, r, 1e-6)

	zero := residual([]float32{1, 1, 1, 1}, []float32{1, 1, 1, 1})
	assert.Equal(t, []float32{0, 0, 0, 0}, zero)
}

func residualFixture(t *testing.T) (*vocab.Vocabulary, *Inverted, *Stack) {
	t.Helper()
	v := lineVocabulary(t, 3)
	r := rand.New(rand.NewSource(5))
	docs := []Document{
		{ID: 1, Descriptors: append(near(r, 0, 3), near(r, 1, 1)...)},
		{ID: 2, Descriptors: near(r, 1, 2)},
		{ID: 3, Descriptors: near(r, 0, 1)},
	}
	stack, err := BuildStack(docs, nil)
	require.NoError(t, err)
	q, err := vocab.NewQuantizer(v, true)
	require.NoError(t, err)
	assigns, err := vocab.NewAssigner(q, v.Len()).Assign(stack.Vectors, vocab.DefaultAssignParams)
	require.NoError(t, err)
	inv, err := BuildInverted(assigns, v.Len())
	require.NoError(t, err)
	return v, inv, stack
}

func TestComputeResidualsWithoutAggregation(t *testing.T) {
	v, inv, stack := residualFixture(t)
	postings, err := ComputeResiduals(context.Background(), v, inv, stack, false, 2)
	require.NoError(t, err)
	require.Len(t, postings, 3)

	p0 := postings[0]
	assert.Equal(t, len(inv.Rows[0]), p0.Len())
	assert.Equal(t, []DocumentID{1, 1, 1, 3}, p0.DocIDs)
	assert.Equal(t, [][]int{{0}, {1}, {2}, {0}}, p0.FeatureIdx)
	for _, rv := range p0.Residuals {
		assert.InDelta(t, 1.0, norm(rv), 1e-5)
	}
	assert.Equal(t, []DocumentID{1, 2, 2}, postings[1].DocIDs)
	assert.Zero(t, postings[2].Len())
}

func TestComputeResidualsWithAggregation(t *testing.T) {
	v, inv, stack := residualFixture(t)
	postings, err := ComputeResiduals(context.Background(), v, inv, stack, true, 2)
	require.NoError(t, err)

	p0 := postings[0]
	assert.Equal(t, []DocumentID{1, 3}, p0.DocIDs)
	assert.Equal(t, [][]int{{0, 1, 2}, {0}}, p0.FeatureIdx)
	assert.Equal(t, []float64{3, 1}, p0.Weights)
	for _, rv := range p0.Residuals {
		assert.InDelta(t, 1.0, norm(rv), 1e-5)
	}

	p1 := postings[1]
	assert.Equal(t, []DocumentID{1, 2}, p1.DocIDs)
	assert.Equal(t, [][]int{{3}, {0, 1}}, p1.FeatureIdx)
	for w := range postings {
		distinct := make(map[DocumentID]struct{})
		for _, id := range postings[w].DocIDs {
			distinct[id] = struct{}{}
		}
		assert.Equal(t, len(distinct), postings[w].Len())
	}
}

func TestPostingsValidate(t *testing.T) {
	p := PostingsList{
		DocIDs:     []DocumentID{1, 2},
		FeatureIdx: [][]int{{0}},
		Residuals:  [][]float32{{1}, {1}},
		Weights:    []float64{1, 1},
	}
	err := p.Validate(7)
	require.ErrorIs(t, err, apperrors.ErrConstruction)
	var be *apperrors.BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 7, be.Word)
}
