package smk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/resource"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/vocab"
	apperrors "github.com/Adithya-Monish-Kumar-K/visual-search/pkg/errors"
)

func TestBuildStackFlattensInDocumentOrder(t *testing.T) {
	s, err := BuildStack(withDescriptorCount([]int{2, 3, 0, 3, 3}), nil)
	require.NoError(t, err)
	defer s.Release()

	assert.Equal(t, 11, s.Len())
	assert.Equal(t, []DocumentID{1, 1, 2, 2, 2, 4, 4, 4, 5, 5, 5}, s.DocIDs)
	assert.Equal(t, []int{0, 1, 0, 1, 2, 0, 1, 2, 0, 1, 2}, s.FeatureIdx)
	assert.Equal(t, []uint32{0, 0, 1, 1, 1, 3, 3, 3, 4, 4, 4}, s.Ordinals)
	assert.Equal(t, []DocumentID{1, 2, 3, 4, 5}, s.Documents)
	assert.Equal(t, []float32{3, 2, 0, 0}, s.Vectors[7])
}

func TestBuildStackRejectsEmptyInput(t *testing.T) {
	_, err := BuildStack(nil, nil)
	require.ErrorIs(t, err, apperrors.ErrConstruction)

	_, err = BuildStack(withDescriptorCount([]int{0, 0}), nil)
	require.ErrorIs(t, err, apperrors.ErrConstruction)
}

func TestBuildStackRejectsDuplicatesAndRaggedDescriptors(t *testing.T) {
	docs := withDescriptorCount([]int{1, 1})
	docs[1].ID = docs[0].ID
	_, err := BuildStack(docs, nil)
	require.ErrorIs(t, err, apperrors.ErrConstruction)

	docs = withDescriptorCount([]int{2})
	docs[0].Descriptors[1] = vocab.Descriptor{1, 2}
	_, err = BuildStack(docs, nil)
	require.ErrorIs(t, err, apperrors.ErrConstruction)
}

func TestBuildStackOverBudget(t *testing.T) {
	budget := resource.NewBudget(64, 1)
	_, err := BuildStack(withDescriptorCount([]int{2, 3, 0, 3, 3}), budget)
	require.ErrorIs(t, err, apperrors.ErrResource)

	var be *apperrors.BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 5, be.Documents)
	assert.Equal(t, 11, be.Descriptors)
	assert.Zero(t, budget.Used())
}

func TestStackReleaseReturnsReservation(t *testing.T) {
	budget := resource.NewBudget(1<<20, 1)
	s, err := BuildStack(withDescriptorCount([]int{4, 4}), budget)
	require.NoError(t, err)
	assert.Positive(t, budget.Used())
	s.Release()
	assert.Zero(t, budget.Used())
}

func TestBuildInvertedCoversEveryWord(t *testing.T) {
	assigns := []vocab.Assignment{
		{{Word: 2, Weight: 1}},
		{{Word: 0, Weight: 0.75}, {Word: 2, Weight: 0.25}},
		{{Word: 2, Weight: 1}},
	}
	inv, err := BuildInverted(assigns, 4)
	require.NoError(t, err)

	assert.Equal(t, 4, inv.Words())
	assert.Equal(t, []int{1}, inv.Rows[0])
	assert.Empty(t, inv.Rows[1])
	assert.Equal(t, []int{0, 1, 2}, inv.Rows[2])
	assert.Equal(t, []float64{1, 0.25, 1}, inv.Weights[2])
	assert.Empty(t, inv.Rows[3])

	_, err = BuildInverted([]vocab.Assignment{{{Word: 9, Weight: 1}}}, 4)
	require.ErrorIs(t, err, apperrors.ErrConstruction)
}
