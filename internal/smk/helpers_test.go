package smk

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/vocab"
)

const testDim = 4

// lineVocabulary places word w at (10w, 0, 0, 0).
func lineVocabulary(t testing.TB, k int) *vocab.Vocabulary {
	t.Helper()
	centroids := make([][]float32, k)
	for w := range centroids {
		centroids[w] = make([]float32, testDim)
		centroids[w][0] = float32(10 * w)
	}
	v, err := vocab.New(centroids)
	require.NoError(t, err)
	return v
}

func newBuilder(t testing.TB, v *vocab.Vocabulary) *Builder {
	t.Helper()
	q, err := vocab.NewQuantizer(v, true)
	require.NoError(t, err)
	return NewBuilder(v, vocab.NewAssigner(q, v.Len()), nil)
}

// near returns n descriptors within 1 of word w.
func near(r *rand.Rand, w, n int) []vocab.Descriptor {
	out := make([]vocab.Descriptor, n)
	for i := range out {
		d := make([]float32, testDim)
		for j := range d {
			d[j] = r.Float32()*2 - 1
		}
		d[0] += float32(10 * w)
		out[i] = d
	}
	return out
}

// ringCorpus gives document i descriptors on words i and i+1 (mod k), so
// every word is used by exactly two documents.
func ringCorpus(seed int64, docs, k, perWord int) []Document {
	r := rand.New(rand.NewSource(seed))
	out := make([]Document, docs)
	for i := range out {
		var descs []vocab.Descriptor
		descs = append(descs, near(r, i%k, perWord)...)
		descs = append(descs, near(r, (i+1)%k, perWord)...)
		out[i] = Document{ID: DocumentID(100 + i), Descriptors: descs}
	}
	return out
}

func withDescriptorCount(counts []int) []Document {
	docs := make([]Document, len(counts))
	for i, c := range counts {
		descs := make([]vocab.Descriptor, c)
		for j := range descs {
			descs[j] = vocab.Descriptor{float32(i), float32(j), 0, 0}
		}
		docs[i] = Document{ID: DocumentID(i + 1), Descriptors: descs}
	}
	return docs
}
