package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/kafka"
)

type fakePublisher struct {
	mu      sync.Mutex
	batches [][]kafka.Event
	err     error
}

func (p *fakePublisher) PublishBatch(_ context.Context, events []kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.batches = append(p.batches, events)
	return nil
}

func (p *fakePublisher) published() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.batches {
		n += len(b)
	}
	return n
}

func TestFlushPublishesBufferedEvents(t *testing.T) {
	p := &fakePublisher{}
	c := NewBatchCollector(p, 10, time.Hour)

	c.Track(kafka.QueryExecuted{BuildID: "b1", TotalHits: 3})
	c.Track(kafka.QueryExecuted{BuildID: "b1", Usable: true})
	assert.Equal(t, 2, c.Len())

	c.Flush(context.Background())
	assert.Equal(t, 0, c.Len())
	require.Len(t, p.batches, 1)
	require.Len(t, p.batches[0], 2)
	assert.Equal(t, "b1", p.batches[0][0].Key)
	assert.Equal(t, 3, p.batches[0][0].Value.(kafka.QueryExecuted).TotalHits)

	c.Flush(context.Background())
	assert.Len(t, p.batches, 1, "empty buffer is not published")
}

func TestFullBatchFlushesInBackground(t *testing.T) {
	p := &fakePublisher{}
	c := NewBatchCollector(p, 3, time.Hour)
	for i := 0; i < 3; i++ {
		c.Track(kafka.QueryExecuted{BuildID: "b"})
	}
	assert.Eventually(t, func() bool { return p.published() == 3 }, time.Second, 5*time.Millisecond)
}

func TestFailedFlushRequeuesAndCaps(t *testing.T) {
	p := &fakePublisher{err: errors.New("broker down")}
	c := NewBatchCollector(p, 2, time.Hour)

	c.mu.Lock()
	for i := 0; i < 8; i++ {
		c.buffer = append(c.buffer, kafka.Event{Key: "b", Value: kafka.QueryExecuted{TotalHits: i}})
	}
	c.mu.Unlock()

	c.Flush(context.Background())
	require.Equal(t, 6, c.Len())
	c.mu.Lock()
	oldest := c.buffer[0].Value.(kafka.QueryExecuted).TotalHits
	c.mu.Unlock()
	assert.Equal(t, 2, oldest)

	p.mu.Lock()
	p.err = nil
	p.mu.Unlock()
	c.Flush(context.Background())
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 6, p.published())
}

func TestStartFlushesOnShutdown(t *testing.T) {
	p := &fakePublisher{}
	c := NewBatchCollector(p, 100, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	c.Track(kafka.QueryExecuted{BuildID: "b"})
	cancel()
	c.Close()
	assert.Equal(t, 1, p.published())
}
