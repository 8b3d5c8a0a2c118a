package smk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/resource"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/vocab"
	apperrors "github.com/Adithya-Monish-Kumar-K/visual-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/tracing"
)

// InvertedIndex is the built, read-only corpus index. It is safe for
// concurrent queries once built or loaded and attached to its vocabulary.
type InvertedIndex struct {
	VocabularyID string                `msgpack:"vocab"`
	Params       Params                `msgpack:"params"`
	Documents    []DocumentID          `msgpack:"daids"`
	Labels       map[DocumentID]string `msgpack:"labels"`
	Postings     []PostingsList        `msgpack:"postings"`
	IDF          IDFTable              `msgpack:"idf"`
	SCCW         DocumentStats         `msgpack:"sccw"`
	RowWords     []vocab.Assignment    `msgpack:"row_words"`
	Descriptors  int                   `msgpack:"ndesc"`

	vocab    *vocab.Vocabulary
	assigner *vocab.Assigner
}

// Stats summarises an index for logs and the inspect endpoints.
type Stats struct {
	Documents     int `json:"documents"`
	Descriptors   int `json:"descriptors"`
	Words         int `json:"words"`
	NonEmptyWords int `json:"non_empty_words"`
	Entries       int `json:"entries"`
}

func (ix *InvertedIndex) Stats() Stats {
	s := Stats{
		Documents:   len(ix.Documents),
		Descriptors: ix.Descriptors,
		Words:       len(ix.Postings),
	}
	for i := range ix.Postings {
		if n := ix.Postings[i].Len(); n > 0 {
			s.NonEmptyWords++
			s.Entries += n
		}
	}
	return s
}

// Attach binds a loaded index to the vocabulary it was built with.
func (ix *InvertedIndex) Attach(v *vocab.Vocabulary, a *vocab.Assigner) error {
	if v.ID() != ix.VocabularyID {
		return fmt.Errorf("index built with vocabulary %s, got %s", ix.VocabularyID, v.ID())
	}
	if v.Len() != len(ix.Postings) || v.Len() != len(ix.IDF) {
		return fmt.Errorf("index has %d words, vocabulary has %d", len(ix.Postings), v.Len())
	}
	for w := range ix.Postings {
		if err := ix.Postings[w].Validate(w); err != nil {
			return err
		}
	}
	ix.vocab = v
	ix.assigner = a
	return nil
}

// Builder builds inverted indexes over one vocabulary.
type Builder struct {
	vocab    *vocab.Vocabulary
	assigner *vocab.Assigner
	budget   *resource.Budget
	logger   *slog.Logger
}

func NewBuilder(v *vocab.Vocabulary, a *vocab.Assigner, budget *resource.Budget) *Builder {
	return &Builder{
		vocab:    v,
		assigner: a,
		budget:   budget,
		logger:   slog.Default().With("component", "smk-builder"),
	}
}

// Build runs the full corpus pipeline: stack, assign, invert, IDF,
// residuals and SCCW. On any error, including cancellation, nothing is
// returned. Every document needs at least one word with positive IDF, or
// its self-consistency sum is not positive and the build fails naming it;
// with the orig measure that rules out corpora of one or two documents.
func (b *Builder) Build(ctx context.Context, docs []Document, p Params) (*InvertedIndex, error) {
	start := time.Now()

	stack, err := stage(ctx, "smk.stack", func(context.Context) (*Stack, error) {
		return BuildStack(docs, b.budget)
	})
	if err != nil {
		return nil, err
	}
	defer stack.Release()
	b.logger.Info("corpus stacked",
		"documents", len(stack.Documents),
		"descriptors", stack.Len(),
		"dimension", stack.Dimension,
	)
	if stack.Dimension != b.vocab.Dimension() {
		return nil, apperrors.Construction("stack", "descriptor dimension %d does not match vocabulary dimension %d",
			stack.Dimension, b.vocab.Dimension())
	}

	assigns, err := stage(ctx, "smk.assign", func(ctx context.Context) ([]vocab.Assignment, error) {
		return assignParallel(ctx, b.assigner, stack.Vectors, p.corpusAssign(), p.workers())
	})
	if err != nil {
		return nil, err
	}

	inv, err := BuildInverted(assigns, b.vocab.Len())
	if err != nil {
		return nil, err
	}

	labels := make(map[DocumentID]string)
	for _, d := range docs {
		if d.Label != "" {
			labels[d.ID] = d.Label
		}
	}
	idf, err := stage(ctx, "smk.idf", func(ctx context.Context) (IDFTable, error) {
		if p.IDF == IDFLabel {
			return ComputeLabelIDF(ctx, inv, stack, labels, p.workers())
		}
		return ComputeIDF(ctx, inv, stack, p.workers())
	})
	if err != nil {
		return nil, err
	}

	postings, err := stage(ctx, "smk.residuals", func(ctx context.Context) ([]PostingsList, error) {
		return ComputeResiduals(ctx, b.vocab, inv, stack, p.Aggregate, p.workers())
	})
	if err != nil {
		return nil, err
	}

	sccw, err := stage(ctx, "smk.sccw", func(ctx context.Context) (DocumentStats, error) {
		return ComputeSCCW(ctx, postings, idf, stack.Documents, p.Alpha, p.Thresh, p.workers())
	})
	if err != nil {
		return nil, err
	}

	ix := &InvertedIndex{
		VocabularyID: b.vocab.ID(),
		Params:       p,
		Documents:    stack.Documents,
		Labels:       labels,
		Postings:     postings,
		IDF:          idf,
		SCCW:         sccw,
		RowWords:     assigns,
		Descriptors:  stack.Len(),
		vocab:        b.vocab,
		assigner:     b.assigner,
	}
	stats := ix.Stats()
	b.logger.Info("inverted index built",
		"documents", stats.Documents,
		"descriptors", stats.Descriptors,
		"words", stats.Words,
		"non_empty_words", stats.NonEmptyWords,
		"aggregate", p.Aggregate,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return ix, nil
}

// stage runs fn inside a child span of ctx.
func stage[T any](ctx context.Context, name string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := tracing.StartChildSpan(ctx, name)
	defer span.End()
	v, err := fn(ctx)
	if err != nil {
		span.SetAttr("error", err.Error())
		var zero T
		return zero, err
	}
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

const assignChunk = 4096

// assignParallel assigns descriptors in fixed chunks so that the result
// order matches the input.
func assignParallel(ctx context.Context, a *vocab.Assigner, vecs []vocab.Descriptor, p vocab.AssignParams, workers int) ([]vocab.Assignment, error) {
	out := make([]vocab.Assignment, len(vecs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for lo := 0; lo < len(vecs); lo += assignChunk {
		hi := min(lo+assignChunk, len(vecs))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			part, err := a.Assign(vecs[lo:hi], p)
			if err != nil {
				return fmt.Errorf("rows %d-%d: %w", lo, hi, err)
			}
			copy(out[lo:hi], part)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
