// Package collector accumulates answered-query events in memory and
// flushes them to Kafka in bulk.
package collector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/kafka"
)

// BatchCollector buffers query events and flushes them either when the
// batch reaches its size or after the flush interval.
type BatchCollector struct {
	publisher     kafka.BatchPublisher
	mu            sync.Mutex
	buffer        []kafka.Event
	batchSize     int
	flushInterval time.Duration
	flushing      sync.Mutex
	logger        *slog.Logger
	done          chan struct{}
}

// NewBatchCollector creates a BatchCollector. Non-positive arguments fall
// back to 100 events and 5 seconds.
func NewBatchCollector(publisher kafka.BatchPublisher, batchSize int, flushInterval time.Duration) *BatchCollector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &BatchCollector{
		publisher:     publisher,
		buffer:        make([]kafka.Event, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "query-log"),
		done:          make(chan struct{}),
	}
}

// Start launches the background flush loop, which stops when ctx is
// cancelled after a final flush.
func (c *BatchCollector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.Flush(ctx)
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				c.Flush(flushCtx)
				cancel()
				return
			}
		}
	}()
	c.logger.Info("query log started",
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
	)
}

// Track buffers ev keyed by its build. A full buffer triggers a flush in
// the background.
func (c *BatchCollector) Track(ev kafka.QueryExecuted) {
	c.mu.Lock()
	c.buffer = append(c.buffer, kafka.Event{Key: ev.BuildID, Value: ev})
	full := len(c.buffer) >= c.batchSize
	c.mu.Unlock()

	if full {
		go c.Flush(context.Background())
	}
}

// Close waits for the flush loop started by Start to finish.
func (c *BatchCollector) Close() {
	<-c.done
}

// Len returns the number of buffered events.
func (c *BatchCollector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// Flush publishes the buffered events. Events of a failed batch are put
// back ahead of newer ones; beyond three batches the oldest are dropped.
func (c *BatchCollector) Flush(ctx context.Context) {
	c.flushing.Lock()
	defer c.flushing.Unlock()

	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = make([]kafka.Event, 0, c.batchSize)
	c.mu.Unlock()

	if err := c.publisher.PublishBatch(ctx, batch); err != nil {
		c.logger.Error("query log flush failed", "events", len(batch), "error", err)
		c.mu.Lock()
		c.buffer = append(batch, c.buffer...)
		if limit := c.batchSize * 3; len(c.buffer) > limit {
			dropped := len(c.buffer) - limit
			c.buffer = c.buffer[dropped:]
			c.logger.Warn("query log buffer overflow, events dropped", "dropped", dropped)
		}
		c.mu.Unlock()
		return
	}
	c.logger.Debug("query log flushed", "events", len(batch))
}
