// Package kafka provides Kafka producer and consumer clients backed by
// segmentio/kafka-go, and the event types exchanged between the indexer,
// the searchers and the analytics service. Events travel as JSON.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/resilience"
)

// MessageHandler processes one message. Errors are retried unless marked
// with resilience.Permanent.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerStats counts messages since Start.
type ConsumerStats struct {
	Handled int64
	Skipped int64
}

// Consumer feeds a topic to a MessageHandler. A message whose handler
// still fails after retrying is logged, counted as skipped and committed,
// so one bad event cannot stall its partition.
type Consumer struct {
	reader       messageReader
	handler      MessageHandler
	retry        resilience.RetryConfig
	fetchBackoff time.Duration
	logger       *slog.Logger

	handled atomic.Int64
	skipped atomic.Int64
}

// NewConsumer joins cfg.ConsumerGroup on topic, starting from the newest
// offset when the group has none committed.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})
	return newConsumer(r, topic, handler)
}

func newConsumer(r messageReader, topic string, handler MessageHandler) *Consumer {
	return &Consumer{
		reader:       r,
		handler:      handler,
		retry:        resilience.RetryConfig{MaxAttempts: 3, InitialDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second},
		fetchBackoff: time.Second,
		logger:       slog.Default().With("component", "kafka-consumer", "topic", topic),
	}
}

// Start consumes until ctx is cancelled, then closes the reader.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if ctx.Err() != nil {
			c.logger.Info("consumer stopping", "handled", c.handled.Load(), "skipped", c.skipped.Load())
			return c.reader.Close()
		}
		if err != nil {
			c.logger.Error("fetch failed", "error", err)
			select {
			case <-time.After(c.fetchBackoff):
			case <-ctx.Done():
			}
			continue
		}
		c.process(ctx, msg)
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	where := strconv.Itoa(msg.Partition) + "/" + strconv.FormatInt(msg.Offset, 10)
	err := resilience.Retry(ctx, "handle "+where, c.retry, func() error {
		return c.handler(ctx, msg.Key, msg.Value)
	})
	switch {
	case err == nil:
		c.handled.Add(1)
	case ctx.Err() != nil:
		// Left uncommitted; the group redelivers it after a restart.
		return
	default:
		c.skipped.Add(1)
		c.logger.Error("skipping message",
			"at", where,
			"key", string(msg.Key),
			"permanent", resilience.IsPermanent(err),
			"error", err,
		)
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.Error("commit failed", "at", where, "error", err)
	}
}

func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{Handled: c.handled.Load(), Skipped: c.skipped.Load()}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON unmarshals a message value into T. Decode errors are
// permanent: retrying the same bytes cannot succeed.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, resilience.Permanent(fmt.Errorf("decoding kafka message: %w", err))
	}
	return result, nil
}
