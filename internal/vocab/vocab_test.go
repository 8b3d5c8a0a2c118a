package vocab

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gridVocabulary(t *testing.T) *Vocabulary {
	t.Helper()
	v, err := New([][]float32{
		{0, 0},
		{10, 0},
		{0, 10},
		{10, 10},
		{5, 5},
	})
	require.NoError(t, err)
	return v
}

func newAssigner(t *testing.T, v *Vocabulary) *Assigner {
	t.Helper()
	q, err := NewQuantizer(v, true)
	require.NoError(t, err)
	return NewAssigner(q, v.Len())
}

func TestNewRejectsRaggedCentroids(t *testing.T) {
	_, err := New([][]float32{{1, 2}, {3}})
	require.Error(t, err)

	_, err = New(nil)
	require.Error(t, err)
}

func TestVocabularyIDIsContentDerived(t *testing.T) {
	a := gridVocabulary(t)
	b := gridVocabulary(t)
	assert.Equal(t, a.ID(), b.ID())

	c, err := New([][]float32{{0, 0}, {10, 0}, {0, 10}, {10, 10}, {5, 6}})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), c.ID())

	// Same values, different shape.
	wide, err := New([][]float32{{1, 2, 3, 4}, {5, 6, 7, 8}})
	require.NoError(t, err)
	tall, err := New([][]float32{{1, 2}, {3, 4}, {5, 6}, {7, 8}})
	require.NoError(t, err)
	assert.NotEqual(t, wide.ID(), tall.ID())
}

func TestAssignSingleWord(t *testing.T) {
	v := gridVocabulary(t)
	a := newAssigner(t, v)

	got, err := a.Assign([]Descriptor{{1, 1}, {9, 9.5}, {5, 4}}, AssignParams{NAssign: 1, Alpha: 1.2, Sigma: 80})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, Assignment{{Word: 0, Weight: 1}}, got[0])
	assert.Equal(t, Assignment{{Word: 3, Weight: 1}}, got[1])
	assert.Equal(t, Assignment{{Word: 4, Weight: 1}}, got[2])
}

func TestAssignRejectsZeroNAssign(t *testing.T) {
	a := newAssigner(t, gridVocabulary(t))
	_, err := a.Assign([]Descriptor{{0, 0}}, AssignParams{NAssign: 0})
	require.Error(t, err)
}

func TestMultiAssignWeightsSumToOne(t *testing.T) {
	v := gridVocabulary(t)
	a := newAssigner(t, v)
	r := rand.New(rand.NewSource(11))
	descs := make([]Descriptor, 500)
	for i := range descs {
		descs[i] = Descriptor{r.Float32() * 10, r.Float32() * 10}
	}

	for _, sigma := range []float64{0.5, 3, 80} {
		got, err := a.Assign(descs, AssignParams{NAssign: 4, Alpha: 1.2, Sigma: sigma})
		require.NoError(t, err)
		for i, as := range got {
			require.NotEmpty(t, as)
			require.LessOrEqual(t, len(as), 4)
			var sum float64
			for _, ww := range as {
				assert.GreaterOrEqual(t, ww.Weight, 0.0)
				sum += ww.Weight
			}
			assert.InDelta(t, 1.0, sum, 1e-6, "descriptor %d sigma %v", i, sigma)
		}
	}
}

func TestMultiAssignKeepsNearestAndFilters(t *testing.T) {
	a := newAssigner(t, gridVocabulary(t))

	// (5,5) is exactly on word 4, every other word is far away.
	got, err := a.Assign([]Descriptor{{5, 5}}, AssignParams{NAssign: 3, Alpha: 1.2, Sigma: 80})
	require.NoError(t, err)
	assert.Equal(t, Assignment{{Word: 4, Weight: 1}}, got[0])

	// Midway between words 0 and 1 both survive with equal weight.
	got, err = a.Assign([]Descriptor{{5, 0}}, AssignParams{NAssign: 2, Alpha: 1.2, Sigma: 80})
	require.NoError(t, err)
	require.Len(t, got[0], 2)
	assert.InDelta(t, 0.5, got[0][0].Weight, 1e-9)
	assert.InDelta(t, 0.5, got[0][1].Weight, 1e-9)
}

func TestMultiAssignUniformWhenWeightsUnderflow(t *testing.T) {
	v, err := New([][]float32{{1000, 0}, {-1000, 0}})
	require.NoError(t, err)
	a := newAssigner(t, v)

	got, err := a.Assign([]Descriptor{{0, 0}}, AssignParams{NAssign: 2, Alpha: 1.2, Sigma: 0.01})
	require.NoError(t, err)
	require.Len(t, got[0], 2)
	for _, ww := range got[0] {
		assert.Equal(t, 0.5, ww.Weight)
		assert.False(t, math.IsNaN(ww.Weight))
	}
}

func TestAssignClampsNAssignToVocabularySize(t *testing.T) {
	v, err := New([][]float32{{0}, {1}})
	require.NoError(t, err)
	a := newAssigner(t, v)
	got, err := a.Assign([]Descriptor{{0.5}}, AssignParams{NAssign: 10, Alpha: 1.2, Sigma: 80})
	require.NoError(t, err)
	assert.Len(t, got[0], 2)
}

func TestHNSWQuantizerMatchesExact(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	centroids := make([][]float32, 64)
	for i := range centroids {
		centroids[i] = []float32{r.Float32(), r.Float32(), r.Float32()}
	}
	v, err := New(centroids)
	require.NoError(t, err)
	exact, err := NewQuantizer(v, true)
	require.NoError(t, err)
	approx, err := NewQuantizer(v, false)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		d := Descriptor{r.Float32(), r.Float32(), r.Float32()}
		want, err := exact.Nearest(d, 1)
		require.NoError(t, err)
		got, err := approx.Nearest(d, 1)
		require.NoError(t, err)
		assert.Equal(t, want[0].ID, got[0].ID)
	}
}
