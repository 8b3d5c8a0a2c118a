// Package consumer rebuilds corpus indexes in response to corpus-changed
// events and announces each finished build on the index-built topic.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/indexer"
	apperrors "github.com/Adithya-Monish-Kumar-K/visual-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/kafka"
)

// Builder is the part of indexer.Engine the consumer drives.
type Builder interface {
	Corpus() string
	Build(ctx context.Context) (*indexer.Index, error)
}

// IndexConsumer wraps a Kafka consumer to drive corpus rebuilds.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New creates an IndexConsumer backed by the given Kafka consumer.
func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleCorpusChanged returns a MessageHandler that rebuilds b's corpus for
// every CorpusChanged event naming it and publishes the result through pub,
// which may be nil. Undecodable events and events for other corpora are
// acknowledged and skipped. Construction failures are acknowledged too,
// since retrying the same corpus would fail the same way.
func HandleCorpusChanged(b Builder, pub kafka.Publisher) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer", "corpus", b.Corpus())
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[kafka.CorpusChanged](value)
		if err != nil {
			logger.Error("failed to decode corpus event", "error", err, "key", string(key))
			return nil
		}
		if event.Corpus != b.Corpus() {
			logger.Debug("ignoring event for other corpus", "event_corpus", event.Corpus)
			return nil
		}
		logger.Info("corpus changed, rebuilding",
			"documents_changed", len(event.DocumentIDs),
			"reason", event.Reason,
		)
		ix, err := b.Build(ctx)
		if err != nil {
			if errors.Is(err, apperrors.ErrConstruction) {
				logger.Error("corpus cannot be indexed", "error", err)
				return nil
			}
			return fmt.Errorf("rebuilding corpus %s: %w", event.Corpus, err)
		}
		if pub == nil {
			return nil
		}
		if err := pub.Publish(ctx, ix.Corpus, ix.Event()); err != nil {
			logger.Warn("index built but not announced", "build_id", ix.BuildID, "error", err)
		}
		return nil
	}
}

// HandleIndexBuilt returns a MessageHandler that calls reload whenever an
// index of corpus is announced. Searchers use it to swap in new builds.
func HandleIndexBuilt(corpus string, reload func(ctx context.Context, event kafka.IndexBuilt) error) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-watcher", "corpus", corpus)
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[kafka.IndexBuilt](value)
		if err != nil {
			logger.Error("failed to decode index event", "error", err, "key", string(key))
			return nil
		}
		if event.Corpus != corpus {
			return nil
		}
		logger.Info("index built elsewhere, reloading", "build_id", event.BuildID, "fingerprint", event.Fingerprint)
		return reload(ctx, event)
	}
}
