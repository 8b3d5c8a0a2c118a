package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/forest"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/smk"
	apperrors "github.com/Adithya-Monish-Kumar-K/visual-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/kafka"
)

type fakeBuilder struct {
	builds int
	err    error
}

func (b *fakeBuilder) Corpus() string { return "zebra" }

func (b *fakeBuilder) Build(context.Context) (*indexer.Index, error) {
	b.builds++
	if b.err != nil {
		return nil, b.err
	}
	return &indexer.Index{
		BuildID: "b1",
		Corpus:  "zebra",
		SMK:     &smk.InvertedIndex{Documents: []smk.DocumentID{1, 2}},
		Forest:  &forest.MultiIndex{},
	}, nil
}

type recordingPublisher struct {
	keys   []string
	events []kafka.IndexBuilt
}

func (p *recordingPublisher) Publish(_ context.Context, key string, value any) error {
	p.keys = append(p.keys, key)
	p.events = append(p.events, value.(kafka.IndexBuilt))
	return nil
}

func encode(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestHandleCorpusChanged(t *testing.T) {
	b := &fakeBuilder{}
	pub := &recordingPublisher{}
	h := HandleCorpusChanged(b, pub)
	ctx := context.Background()

	require.NoError(t, h(ctx, nil, encode(t, kafka.CorpusChanged{Corpus: "zebra", DocumentIDs: []int64{3}})))
	assert.Equal(t, 1, b.builds)
	require.Len(t, pub.events, 1)
	assert.Equal(t, "zebra", pub.keys[0])
	assert.Equal(t, "b1", pub.events[0].BuildID)
	assert.Equal(t, 2, pub.events[0].Documents)

	require.NoError(t, h(ctx, nil, encode(t, kafka.CorpusChanged{Corpus: "giraffe"})))
	require.NoError(t, h(ctx, nil, []byte("{broken")))
	assert.Equal(t, 1, b.builds)
}

func TestHandleCorpusChangedErrors(t *testing.T) {
	ctx := context.Background()
	msg := encode(t, kafka.CorpusChanged{Corpus: "zebra"})

	transient := &fakeBuilder{err: errors.New("postgres down")}
	assert.Error(t, HandleCorpusChanged(transient, nil)(ctx, nil, msg))

	fatal := &fakeBuilder{err: apperrors.Construction("corpus", "corpus %q has no documents", "zebra")}
	assert.NoError(t, HandleCorpusChanged(fatal, nil)(ctx, nil, msg))
}

func TestHandleIndexBuilt(t *testing.T) {
	var reloaded []string
	h := HandleIndexBuilt("zebra", func(_ context.Context, ev kafka.IndexBuilt) error {
		reloaded = append(reloaded, ev.BuildID)
		return nil
	})
	ctx := context.Background()
	require.NoError(t, h(ctx, nil, encode(t, kafka.IndexBuilt{BuildID: "b2", Corpus: "zebra"})))
	require.NoError(t, h(ctx, nil, encode(t, kafka.IndexBuilt{BuildID: "b3", Corpus: "giraffe"})))
	assert.Equal(t, []string{"b2"}, reloaded)
}
