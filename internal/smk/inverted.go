package smk

import (
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/vocab"
	apperrors "github.com/Adithya-Monish-Kumar-K/visual-search/pkg/errors"
)

// Inverted maps every word to the stack rows assigned to it, in ascending
// row order, with the multi-assignment weight of each row.
type Inverted struct {
	Rows    [][]int
	Weights [][]float64
}

func (inv *Inverted) Words() int { return len(inv.Rows) }

// BuildInverted groups assignments by word. Every word in [0, words) gets an
// entry, possibly empty.
func BuildInverted(assigns []vocab.Assignment, words int) (*Inverted, error) {
	inv := &Inverted{
		Rows:    make([][]int, words),
		Weights: make([][]float64, words),
	}
	for row, as := range assigns {
		for _, ww := range as {
			if ww.Word < 0 || ww.Word >= words {
				return nil, apperrors.Construction("invert", "row %d assigned to word outside vocabulary", row).WithWord(ww.Word)
			}
			inv.Rows[ww.Word] = append(inv.Rows[ww.Word], row)
			inv.Weights[ww.Word] = append(inv.Weights[ww.Word], ww.Weight)
		}
	}
	return inv, nil
}
