package grouping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func items(times ...float64) []Item {
	out := make([]Item, len(times))
	for i, t := range times {
		out[i] = Item{ID: int64(i + 1), Unix: t}
	}
	return out
}

func TestAgglomerative(t *testing.T) {
	in := items(20000, 0, 5100, 100, 5000, 5200)

	groups, err := Cluster(in, Options{Algorithm: Agglomerative, SecondsThresh: 1600, MinPerGroup: 1})
	require.NoError(t, err)
	assert.Equal(t, []Group{
		{ID: 0, Members: []int64{5, 3, 6}},
		{ID: 1, Members: []int64{2, 4}},
		{ID: 2, Members: []int64{1}},
	}, groups)

	groups, err = Cluster(in, Options{Algorithm: Agglomerative, SecondsThresh: 1600, MinPerGroup: 2})
	require.NoError(t, err)
	assert.Len(t, groups, 2)
}

func TestAgglomerativeGapEqualToThresholdJoins(t *testing.T) {
	groups, err := Cluster(items(0, 10, 25), Options{Algorithm: Agglomerative, SecondsThresh: 10})
	require.NoError(t, err)
	assert.Equal(t, []Group{{ID: 0, Members: []int64{1, 2}}, {ID: 1, Members: []int64{3}}}, groups)
}

func TestMeanShift(t *testing.T) {
	var times []float64
	for i := 0; i < 10; i++ {
		times = append(times, float64(i))
	}
	for i := 0; i < 5; i++ {
		times = append(times, 10000+float64(i))
	}
	groups, err := Cluster(items(times...), Options{Algorithm: MeanShift, Quantile: 0.5, MinPerGroup: 1})
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Len(t, groups[0].Members, 10)
	assert.Len(t, groups[1].Members, 5)
	assert.Contains(t, groups[1].Members, int64(11))
}

func TestMeanShiftZeroBandwidthFallsBackToOneGroup(t *testing.T) {
	groups, err := Cluster(items(50, 50, 50, 50), Options{Algorithm: MeanShift, Quantile: 0.5})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Members, 4)

	// one neighbour counts only the point itself
	groups, err = Cluster(items(0, 1000, 90000), Options{Algorithm: MeanShift, Quantile: 0.01})
	require.NoError(t, err)
	require.Len(t, groups, 1)
}

func TestClusterEdgeCases(t *testing.T) {
	groups, err := Cluster(nil, DefaultOptions)
	require.NoError(t, err)
	assert.Empty(t, groups)

	_, err = Cluster(items(1, 2), Options{Algorithm: "kmeans"})
	assert.Error(t, err)
}

func TestLabels(t *testing.T) {
	labels := Labels([]Group{{ID: 0, Members: []int64{4, 9}}, {ID: 1, Members: []int64{2}}}, "enc_")
	assert.Equal(t, map[int64]string{4: "enc_0", 9: "enc_0", 2: "enc_1"}, labels)
}
