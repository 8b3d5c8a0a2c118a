// Package grouping clusters documents into encounters by capture time. The
// resulting group ids serve as document labels when a corpus has no identity
// labels of its own, so that sharding can still spread related documents
// across forests.
package grouping

import (
	"cmp"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Algorithm names a clustering method.
type Algorithm string

const (
	Agglomerative Algorithm = "agglomerative"
	MeanShift     Algorithm = "meanshift"
)

// Options configures Cluster.
type Options struct {
	Algorithm Algorithm
	// SecondsThresh is the largest gap inside one agglomerative group.
	SecondsThresh float64
	// Quantile selects the neighbour used for the meanshift bandwidth
	// estimate, as a fraction of the item count.
	Quantile    float64
	MinPerGroup int
}

var DefaultOptions = Options{
	Algorithm:     Agglomerative,
	SecondsThresh: 1600,
	Quantile:      0.01,
	MinPerGroup:   1,
}

// Item is a document with its capture time in unix seconds.
type Item struct {
	ID   int64
	Unix float64
}

// Group is one encounter. Group 0 is the largest.
type Group struct {
	ID      int
	Members []int64
}

// Cluster groups items by time. Groups smaller than MinPerGroup are
// dropped and the rest are numbered by descending size.
func Cluster(items []Item, opts Options) ([]Group, error) {
	logger := slog.Default().With("component", "grouping")
	if len(items) == 0 {
		logger.Warn("no timestamps to group")
		return nil, nil
	}
	sorted := slices.Clone(items)
	slices.SortFunc(sorted, func(a, b Item) int {
		if c := cmp.Compare(a.Unix, b.Unix); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	var labels []int
	switch opts.Algorithm {
	case Agglomerative, "":
		labels = agglomerative(sorted, opts.SecondsThresh)
	case MeanShift:
		labels = meanShift(sorted, opts.Quantile, logger)
	default:
		return nil, fmt.Errorf("unknown grouping algorithm %q", opts.Algorithm)
	}

	byLabel := make(map[int][]int64)
	var order []int
	for i, it := range sorted {
		l := labels[i]
		if _, ok := byLabel[l]; !ok {
			order = append(order, l)
		}
		byLabel[l] = append(byLabel[l], it.ID)
	}
	// order follows first appearance in time, which keeps equal-size groups
	// in chronological order after the stable sort.
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(len(byLabel[b]), len(byLabel[a]))
	})

	var groups []Group
	for _, l := range order {
		members := byLabel[l]
		if len(members) < opts.MinPerGroup {
			continue
		}
		groups = append(groups, Group{ID: len(groups), Members: members})
	}
	logger.Info("encounters grouped",
		"algorithm", opts.Algorithm,
		"items", len(items),
		"groups", len(groups),
		"dropped", len(order)-len(groups),
	)
	return groups, nil
}

// Labels maps every grouped member to prefix followed by its group id.
func Labels(groups []Group, prefix string) map[int64]string {
	out := make(map[int64]string)
	for _, g := range groups {
		label := fmt.Sprintf("%s%d", prefix, g.ID)
		for _, id := range g.Members {
			out[id] = label
		}
	}
	return out
}

// agglomerative is single-linkage clustering on one axis: sorted items split
// wherever consecutive times differ by more than thresh.
func agglomerative(sorted []Item, thresh float64) []int {
	labels := make([]int, len(sorted))
	for i := 1; i < len(sorted); i++ {
		labels[i] = labels[i-1]
		if sorted[i].Unix-sorted[i-1].Unix > thresh {
			labels[i]++
		}
	}
	return labels
}

const (
	maxBandwidthSamples = 500
	maxShiftIterations  = 300
)

// meanShift runs flat-kernel mean shift from binned seeds and assigns every
// item to its nearest surviving centre. A zero bandwidth puts everything in
// one group.
func meanShift(sorted []Item, quantile float64, logger *slog.Logger) []int {
	xs := make([]float64, len(sorted))
	for i, it := range sorted {
		xs[i] = it.Unix
	}
	labels := make([]int, len(xs))

	bw := estimateBandwidth(xs, quantile)
	if bw == 0 || math.IsNaN(bw) {
		logger.Warn("bandwidth is zero, using a single group", "items", len(xs), "quantile", quantile)
		return labels
	}

	type centre struct {
		at    float64
		count int
	}
	var centres []centre
	seen := make(map[float64]bool)
	for _, x := range xs {
		seed := math.Round(x/bw) * bw
		if seen[seed] {
			continue
		}
		seen[seed] = true

		c := seed
		count := 0
		for iter := 0; iter < maxShiftIterations; iter++ {
			lo := sort.SearchFloat64s(xs, c-bw)
			hi := sort.SearchFloat64s(xs, math.Nextafter(c+bw, math.Inf(1)))
			if lo >= hi {
				break
			}
			count = hi - lo
			next := stat.Mean(xs[lo:hi], nil)
			done := math.Abs(next-c) < 1e-3*bw
			c = next
			if done {
				break
			}
		}
		if count > 0 {
			centres = append(centres, centre{at: c, count: count})
		}
	}

	slices.SortFunc(centres, func(a, b centre) int {
		if c := cmp.Compare(b.count, a.count); c != 0 {
			return c
		}
		return cmp.Compare(a.at, b.at)
	})
	var kept []float64
	for _, c := range centres {
		near := false
		for _, k := range kept {
			if math.Abs(k-c.at) < bw {
				near = true
				break
			}
		}
		if !near {
			kept = append(kept, c.at)
		}
	}

	for i, x := range xs {
		best := 0
		for j, k := range kept {
			if math.Abs(x-k) < math.Abs(x-kept[best]) {
				best = j
			}
		}
		labels[i] = best
	}
	return labels
}

// estimateBandwidth averages, over a sample of points, the distance to the
// n-th nearest point counting the point itself, with n = quantile * len.
func estimateBandwidth(xs []float64, quantile float64) float64 {
	n := max(int(float64(len(xs))*quantile), 1)
	step := max(len(xs)/maxBandwidthSamples, 1)
	var dists []float64
	for i := 0; i < len(xs); i += step {
		dists = append(dists, nthNeighbor(xs, i, n))
	}
	return stat.Mean(dists, nil)
}

// nthNeighbor walks outwards from i in the sorted xs.
func nthNeighbor(xs []float64, i, n int) float64 {
	l, r := i-1, i+1
	d := 0.0
	for taken := 1; taken < n; taken++ {
		switch {
		case l < 0 && r >= len(xs):
			return d
		case l < 0:
			d = xs[r] - xs[i]
			r++
		case r >= len(xs):
			d = xs[i] - xs[l]
			l--
		case xs[i]-xs[l] <= xs[r]-xs[i]:
			d = xs[i] - xs[l]
			l--
		default:
			d = xs[r] - xs[i]
			r++
		}
	}
	return d
}
