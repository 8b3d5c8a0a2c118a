package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/Adithya-Monish-Kumar-K/visual-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/metrics"
)

// Cache reuses built artifacts by key. Concurrent requests for the same key
// within one process share a single build.
type Cache struct {
	store   Store
	codec   *Codec
	group   singleflight.Group
	logger  *slog.Logger
	metrics *metrics.Metrics
	hits    atomic.Int64
	misses  atomic.Int64
	builds  atomic.Int64
}

func NewCache(store Store, codec *Codec) *Cache {
	return &Cache{
		store:  store,
		codec:  codec,
		logger: slog.Default().With("component", "artifact-cache", "backend", store.Name()),
	}
}

// WithMetrics records cache outcomes on m.
func (c *Cache) WithMetrics(m *metrics.Metrics) *Cache {
	c.metrics = m
	return c
}

func (c *Cache) Store() Store { return c.store }

func (c *Cache) record(result string) {
	switch result {
	case "hit":
		c.hits.Add(1)
	case "miss":
		c.misses.Add(1)
	case "build":
		c.builds.Add(1)
	}
	if c.metrics != nil {
		c.metrics.ArtifactCacheTotal.WithLabelValues(result).Inc()
	}
}

// Load decodes the artifact at key into v. It reports false on a miss.
// Unreadable or corrupt blobs are logged and treated as misses.
func (c *Cache) Load(ctx context.Context, key string, v any) bool {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			c.logger.Warn("artifact get failed", "key", key, "error", err)
		}
		c.record("miss")
		return false
	}
	if err := c.codec.Decode(data, v); err != nil {
		c.logger.Warn("discarding unreadable artifact", "key", key, "error", err)
		c.record("miss")
		return false
	}
	c.record("hit")
	c.logger.Debug("artifact hit", "key", key, "bytes", len(data))
	return true
}

// Save encodes v and writes it under key.
func (c *Cache) Save(ctx context.Context, key string, v any) error {
	data, err := c.codec.Encode(v)
	if err != nil {
		return err
	}
	if err := c.store.Put(ctx, key, data); err != nil {
		return fmt.Errorf("storing artifact %s: %w", key, err)
	}
	c.logger.Debug("artifact stored", "key", key, "bytes", len(data))
	return nil
}

// Stats returns hit, miss and build counts since creation.
func (c *Cache) Stats() (hits, misses, builds int64) {
	return c.hits.Load(), c.misses.Load(), c.builds.Load()
}

// GetOrBuild returns the artifact stored under key, or runs build, stores
// the result and returns it. The boolean reports a cache hit. A failed
// write is logged; the built value is still returned.
func GetOrBuild[T any](ctx context.Context, c *Cache, key string, build func(context.Context) (T, error)) (T, bool, error) {
	var cached T
	if c.Load(ctx, key, &cached) {
		return cached, true, nil
	}
	hit := false
	val, err, _ := c.group.Do(key, func() (any, error) {
		var again T
		if c.Load(ctx, key, &again) {
			hit = true
			return again, nil
		}
		built, err := build(ctx)
		if err != nil {
			return built, err
		}
		c.record("build")
		if err := c.Save(ctx, key, built); err != nil {
			c.logger.Warn("artifact put failed", "key", key, "error", err)
		}
		return built, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return val.(T), hit, nil
}
