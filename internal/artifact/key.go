// Package artifact persists built indexes under content-derived keys. A key
// combines the identity of the indexed documents (ids and descriptor
// content), the vocabulary and the build parameters, so equal keys always
// denote equal artifacts.
package artifact

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/smk"
)

// Fingerprint identifies a document set.
type Fingerprint struct {
	Documents int
	IDs       string
	Content   string
}

// FingerprintOf hashes the sorted document ids, and separately the ids
// together with labels and descriptor values.
func FingerprintOf(docs []smk.Document) Fingerprint {
	order := make([]int, len(docs))
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int {
		switch {
		case docs[a].ID < docs[b].ID:
			return -1
		case docs[a].ID > docs[b].ID:
			return 1
		}
		return 0
	})

	ids := sha256.New()
	content := sha256.New()
	var buf [8]byte
	for _, i := range order {
		d := docs[i]
		binary.LittleEndian.PutUint64(buf[:], uint64(d.ID))
		ids.Write(buf[:])
		content.Write(buf[:])
		binary.LittleEndian.PutUint64(buf[:], uint64(len(d.Label)))
		content.Write(buf[:])
		content.Write([]byte(d.Label))
		binary.LittleEndian.PutUint64(buf[:], uint64(len(d.Descriptors)))
		content.Write(buf[:])
		for _, desc := range d.Descriptors {
			binary.LittleEndian.PutUint64(buf[:], uint64(len(desc)))
			content.Write(buf[:])
			for _, x := range desc {
				binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(x))
				content.Write(buf[:4])
			}
		}
	}
	return Fingerprint{
		Documents: len(docs),
		IDs:       hex.EncodeToString(ids.Sum(nil)[:8]),
		Content:   hex.EncodeToString(content.Sum(nil)[:16]),
	}
}

// IsZero reports whether f was never computed, as for indexes loaded
// through a manifest.
func (f Fingerprint) IsZero() bool { return f == Fingerprint{} }

func (f Fingerprint) String() string {
	return fmt.Sprintf("_daids((%d)%s)_desc(%s)", f.Documents, f.IDs, f.Content)
}

// Key joins an artifact kind, the document fingerprint and any number of
// parameter strings, e.g.
//
//	smk_daids((120)9f..)_desc(1a..)_vocab(77..)_SMK(nA=1,...)
func Key(kind string, fp Fingerprint, parts ...string) string {
	var b strings.Builder
	b.WriteString(kind)
	b.WriteString(fp.String())
	for _, p := range parts {
		b.WriteString(p)
	}
	return b.String()
}

// VocabPart renders a vocabulary id as a key part.
func VocabPart(id string) string {
	return "_vocab(" + id + ")"
}
