package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/resilience"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func TestProducerPublish(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "index.built")

	err := p.Publish(context.Background(), "default", IndexBuilt{BuildID: "b1", Corpus: "default", Shards: 3})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "default", string(w.msgs[0].Key))

	got, err := DecodeJSON[IndexBuilt](w.msgs[0].Value)
	require.NoError(t, err)
	assert.Equal(t, "b1", got.BuildID)
	assert.Equal(t, 3, got.Shards)

	w.err = errors.New("broker down")
	assert.Error(t, p.Publish(context.Background(), "default", IndexBuilt{}))
}

func TestProducerPublishBatch(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "query.log")

	err := p.PublishBatch(context.Background(), []Event{
		{Key: "a", Value: QueryExecuted{BuildID: "b1", Usable: true}},
		{Key: "b", Value: QueryExecuted{BuildID: "b1", TotalHits: 4}},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 2)
	assert.Equal(t, "b", string(w.msgs[1].Key))

	got, err := DecodeJSON[QueryExecuted](w.msgs[1].Value)
	require.NoError(t, err)
	assert.Equal(t, 4, got.TotalHits)

	w.err = errors.New("broker down")
	assert.Error(t, p.PublishBatch(context.Background(), []Event{{Key: "c", Value: 1}}))
}

func TestConsumerCommitsHandledMessages(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{
		{Offset: 1, Value: []byte(`{"corpus":"a"}`)},
		{Offset: 2, Value: []byte(`not json`)},
		{Offset: 3, Value: []byte(`{"corpus":"b"}`)},
	}}
	var mu sync.Mutex
	var corpora []string
	ctx, cancel := context.WithCancel(context.Background())
	c := newConsumer(r, "corpus.changed", func(_ context.Context, _, value []byte) error {
		ev, err := DecodeJSON[CorpusChanged](value)
		if err != nil {
			return err
		}
		mu.Lock()
		corpora = append(corpora, ev.Corpus)
		if len(corpora) == 2 {
			cancel()
		}
		mu.Unlock()
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}

	assert.Equal(t, []string{"a", "b"}, corpora)
	assert.Equal(t, []int64{1, 2, 3}, r.committed, "undecodable message is skipped, not retried")
	assert.Equal(t, ConsumerStats{Handled: 2, Skipped: 1}, c.Stats())
	assert.True(t, r.closed)
}

func TestConsumerRetriesTransientErrors(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{{Offset: 7, Value: []byte(`{}`)}}}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	c := newConsumer(r, "index.built", func(context.Context, []byte, []byte) error {
		calls++
		if calls < 3 {
			return errors.New("reload failed")
		}
		cancel()
		return nil
	})
	c.retry = resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

	require.NoError(t, c.Start(ctx))
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int64{7}, r.committed)
	assert.Equal(t, int64(1), c.Stats().Handled)
}
