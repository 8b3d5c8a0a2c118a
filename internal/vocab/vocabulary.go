// Package vocab holds the visual vocabulary (a fixed set of centroid
// vectors) and assigns descriptors to their nearest visual words.
package vocab

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/ann"
)

// Descriptor is a local feature vector of fixed dimension.
type Descriptor = []float32

// Vocabulary is an immutable, ordered set of K centroids. Word w is
// Centroids[w].
type Vocabulary struct {
	Centroids [][]float32
	dimension int
	id        string
}

// New validates the centroids and derives the vocabulary identity from
// their content.
func New(centroids [][]float32) (*Vocabulary, error) {
	if len(centroids) == 0 {
		return nil, fmt.Errorf("vocabulary has no words")
	}
	dim := len(centroids[0])
	if dim == 0 {
		return nil, fmt.Errorf("vocabulary words have zero dimension")
	}
	h := sha256.New()
	var shape [16]byte
	binary.LittleEndian.PutUint64(shape[0:8], uint64(len(centroids)))
	binary.LittleEndian.PutUint64(shape[8:16], uint64(dim))
	h.Write(shape[:])
	var buf [4]byte
	for w, c := range centroids {
		if len(c) != dim {
			return nil, fmt.Errorf("word %d: %w", w, &ann.ErrDimensionMismatch{Expected: dim, Actual: len(c)})
		}
		for _, x := range c {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(x))
			h.Write(buf[:])
		}
	}
	return &Vocabulary{
		Centroids: centroids,
		dimension: dim,
		id:        hex.EncodeToString(h.Sum(nil)[:16]),
	}, nil
}

// Len returns K, the number of words.
func (v *Vocabulary) Len() int { return len(v.Centroids) }

func (v *Vocabulary) Dimension() int { return v.dimension }

// ID is a stable content hash used in artifact keys.
func (v *Vocabulary) ID() string { return v.id }

func (v *Vocabulary) Word(w int) []float32 { return v.Centroids[w] }
