package vocab

import (
	"fmt"
	"math"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/ann"
)

// WordWeight is one word a descriptor was assigned to together with its
// multi-assignment weight.
type WordWeight struct {
	Word   int     `msgpack:"w"`
	Weight float64 `msgpack:"m"`
}

// Assignment lists the words of one descriptor, nearest first. It holds
// between 1 and nAssign entries and the weights sum to 1.
type Assignment []WordWeight

// AssignParams controls multi-assignment.
type AssignParams struct {
	NAssign int
	Alpha   float64
	Sigma   float64
}

var DefaultAssignParams = AssignParams{
	NAssign: 1,
	Alpha:   1.2,
	Sigma:   80,
}

// Assigner maps descriptors to visual words. It holds no mutable state and
// is safe for concurrent use.
type Assigner struct {
	quantizer Quantizer
	words     int
}

func NewAssigner(q Quantizer, words int) *Assigner {
	return &Assigner{quantizer: q, words: words}
}

// Assign returns one Assignment per descriptor.
//
// With NAssign == 1 every descriptor gets its nearest word with weight 1.
// Otherwise the NAssign nearest words are retrieved, words at squared
// distance >= Alpha*(d0+0.001) are dropped (d0 is the nearest distance, whose
// word is always kept) and the survivors are weighted by exp(-d/(2*Sigma^2))
// and normalised. When every kept weight underflows to zero the weights are
// uniform.
func (a *Assigner) Assign(descs []Descriptor, p AssignParams) ([]Assignment, error) {
	if p.NAssign < 1 {
		return nil, fmt.Errorf("nAssign must be >= 1, got %d", p.NAssign)
	}
	n := min(p.NAssign, a.words)
	out := make([]Assignment, len(descs))
	for i, d := range descs {
		nn, err := a.quantizer.Nearest(d, n)
		if err != nil {
			return nil, fmt.Errorf("assigning descriptor %d: %w", i, err)
		}
		if len(nn) == 0 {
			return nil, fmt.Errorf("assigning descriptor %d: quantizer returned no words", i)
		}
		if n == 1 {
			out[i] = Assignment{{Word: int(nn[0].ID), Weight: 1}}
			continue
		}
		out[i] = multiAssign(nn, p.Alpha, p.Sigma)
	}
	return out, nil
}

func multiAssign(nn []ann.Neighbor, alpha, sigma float64) Assignment {
	thresh := alpha * (float64(nn[0].Distance) + 0.001)
	denom := 2 * sigma * sigma
	kept := make(Assignment, 0, len(nn))
	var sum float64
	for j, nb := range nn {
		d := float64(nb.Distance)
		if j > 0 && d >= thresh {
			continue
		}
		w := math.Exp(-d / denom)
		kept = append(kept, WordWeight{Word: int(nb.ID), Weight: w})
		sum += w
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		u := 1 / float64(len(kept))
		for j := range kept {
			kept[j].Weight = u
		}
		return kept
	}
	for j := range kept {
		kept[j].Weight /= sum
	}
	return kept
}
