// Package cache memoises query results in Redis. Entries are keyed by the
// build they were computed against, so a new build never serves stale
// results and old entries simply expire.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/searcher/executor"
	pkgredis "github.com/Adithya-Monish-Kumar-K/visual-search/pkg/redis"
)

const keyPrefix = "query:"

type QueryCache struct {
	client *pkgredis.Client
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

func New(client *pkgredis.Client, ttl time.Duration) *QueryCache {
	return &QueryCache{
		client: client,
		ttl:    ttl,
		logger: slog.Default().With("component", "query-cache"),
	}
}

func (c *QueryCache) Get(ctx context.Context, buildID string, req executor.Request) (*executor.Result, bool) {
	key, err := buildKey(buildID, req)
	if err != nil {
		c.misses.Add(1)
		return nil, false
	}
	data, found, err := c.client.Lookup(ctx, key)
	if err != nil {
		c.logger.Error("cache get failed", "key", key, "error", err)
	}
	if !found {
		c.misses.Add(1)
		return nil, false
	}
	var result executor.Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.logger.Debug("cache hit", "key", key)
	return &result, true
}

func (c *QueryCache) Set(ctx context.Context, buildID string, req executor.Request, result *executor.Result) {
	key, err := buildKey(buildID, req)
	if err != nil {
		c.logger.Error("cache key failed", "error", err)
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result for req or computes it once per
// process, however many callers ask concurrently. Results of a query that
// ran against a different build than buildID are not stored.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	buildID string,
	req executor.Request,
	computeFn func() (*executor.Result, error),
) (*executor.Result, bool, error) {
	if result, ok := c.Get(ctx, buildID, req); ok {
		return result, true, nil
	}
	key, err := buildKey(buildID, req)
	if err != nil {
		return nil, false, err
	}
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if result, ok := c.Get(ctx, buildID, req); ok {
			return result, nil
		}
		result, err := computeFn()
		if err != nil {
			return nil, err
		}
		if result.BuildID == buildID {
			c.Set(ctx, buildID, req, result)
		}
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*executor.Result), false, nil
}

// Invalidate drops the cached results of buildID, or of every build when
// buildID is empty.
func (c *QueryCache) Invalidate(ctx context.Context, buildID string) (int64, error) {
	prefix := keyPrefix
	if buildID != "" {
		prefix += buildID + ":"
	}
	deleted, err := c.client.DeletePrefix(ctx, prefix)
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "build_id", buildID, "keys_deleted", deleted)
	return deleted, nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// buildKey hashes a normalised request.
func buildKey(buildID string, req executor.Request) (string, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encoding query: %w", err)
	}
	hash := sha256.Sum256(raw)
	return fmt.Sprintf("%s%s:%x", keyPrefix, buildID, hash[:16]), nil
}
