package artifact

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/config"
	pkgredis "github.com/Adithya-Monish-Kumar-K/visual-search/pkg/redis"
)

const redisKeyPrefix = "artifact:"

// Redis keeps artifacts as plain values without expiry.
type Redis struct {
	client *pkgredis.Client
	prefix string
}

func NewRedis(client *pkgredis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: redisKeyPrefix + prefix}
}

func NewRedisFromConfig(cfg config.RedisConfig, prefix string) (*Redis, error) {
	client, err := pkgredis.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewRedis(client, prefix), nil
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, found, err := r.client.Lookup(ctx, r.prefix+key)
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	if !found {
		return nil, notFound(key)
	}
	return data, nil
}

func (r *Redis) Put(ctx context.Context, key string, data []byte) error {
	if err := r.client.Set(ctx, r.prefix+key, data, 0); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
