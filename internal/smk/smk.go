// Package smk builds and queries the selective match kernel inverted index.
//
// Corpus descriptors are stacked, assigned to visual words, and grouped into
// one postings list per word holding L2-normalised residual vectors. Each
// word carries an IDF weight and each document a self-consistency weight
// (SCCW) so that a document scored against itself yields exactly 1.
package smk

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/vocab"
)

// DocumentID identifies an indexed document (an annotation).
type DocumentID = int64

// Document is one unit of indexing: a set of local descriptors and an
// optional group label. An empty Label means the group is unknown.
type Document struct {
	ID          DocumentID
	Descriptors []vocab.Descriptor
	Label       string
}

// IDFMeasure selects how word weights are computed.
type IDFMeasure string

const (
	IDFOrig  IDFMeasure = "orig"
	IDFLabel IDFMeasure = "label"
)

// Params are the build and query knobs. CorpusNAssign applies to corpus
// descriptors and NAssign to query descriptors. ExactAssign records whether
// words were assigned with a flat index or HNSW; queries must be assigned
// the same way as the corpus.
type Params struct {
	NAssign       int        `msgpack:"nassign"`
	CorpusNAssign int        `msgpack:"corpus_nassign"`
	MassignAlpha  float64    `msgpack:"massign_alpha"`
	MassignSigma  float64    `msgpack:"massign_sigma"`
	Aggregate     bool       `msgpack:"aggregate"`
	Alpha         float64    `msgpack:"alpha"`
	Thresh        float64    `msgpack:"thresh"`
	IDF           IDFMeasure `msgpack:"idf"`
	ExactAssign   bool       `msgpack:"exact_assign"`
	Workers       int        `msgpack:"-"`
}

var DefaultParams = Params{
	NAssign:       1,
	CorpusNAssign: 1,
	MassignAlpha:  1.2,
	MassignSigma:  80,
	Aggregate:     false,
	Alpha:         3,
	Thresh:        0,
	IDF:           IDFOrig,
	Workers:       4,
}

// String renders the parameters that change the built index, for use in
// artifact keys.
func (p Params) String() string {
	return fmt.Sprintf("_SMK(agg=%t,t=%g,a=%g,nA=%d,cnA=%d,ma=%g,ms=%g,idf=%s,exact=%t)",
		p.Aggregate, p.Thresh, p.Alpha, p.NAssign, p.CorpusNAssign, p.MassignAlpha, p.MassignSigma, p.IDF, p.ExactAssign)
}

func (p Params) corpusAssign() vocab.AssignParams {
	return vocab.AssignParams{NAssign: p.CorpusNAssign, Alpha: p.MassignAlpha, Sigma: p.MassignSigma}
}

func (p Params) queryAssign() vocab.AssignParams {
	return vocab.AssignParams{NAssign: p.NAssign, Alpha: p.MassignAlpha, Sigma: p.MassignSigma}
}

func (p Params) workers() int {
	if p.Workers < 1 {
		return 1
	}
	return p.Workers
}
