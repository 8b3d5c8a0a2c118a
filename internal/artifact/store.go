package artifact

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/visual-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/resilience"
)

// Store is a blob store for framed artifacts. Get on a missing key returns
// an error wrapping errors.ErrNotFound.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Name() string
}

func notFound(key string) error {
	return fmt.Errorf("artifact %s: %w", key, apperrors.ErrNotFound)
}

// Open builds the Store selected by cfg.Backend, wrapped with retries and a
// circuit breaker for remote backends. Breaker transitions are exported on
// m when it is not nil.
func Open(ctx context.Context, cfg config.Config, m *metrics.Metrics) (Store, error) {
	sc := cfg.Storage
	var rc ResilientConfig
	if m != nil {
		rc.OnStateChange = func(name string, _, to resilience.State) {
			m.SetCircuitState(name, int(to))
		}
	}
	switch sc.Backend {
	case "disk":
		return NewDisk(sc.DataDir)
	case "redis":
		s, err := NewRedisFromConfig(cfg.Redis, sc.Prefix)
		if err != nil {
			return nil, err
		}
		return NewResilient(s, rc), nil
	case "s3":
		s, err := NewS3FromConfig(ctx, sc.S3, sc.Prefix)
		if err != nil {
			return nil, err
		}
		return NewResilient(s, rc), nil
	case "minio":
		s, err := NewMinioFromConfig(sc.Minio, sc.Prefix)
		if err != nil {
			return nil, err
		}
		return NewResilient(s, rc), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
}

// OpenCache opens the configured store behind a Cache using the configured
// compression.
func OpenCache(ctx context.Context, cfg config.Config, m *metrics.Metrics) (*Cache, error) {
	comp, err := ParseCompression(cfg.Storage.Compression)
	if err != nil {
		return nil, err
	}
	st, err := Open(ctx, cfg, m)
	if err != nil {
		return nil, fmt.Errorf("opening %s artifact store: %w", cfg.Storage.Backend, err)
	}
	c := NewCache(st, NewCodec(comp))
	if m != nil {
		c.WithMetrics(m)
	}
	return c, nil
}
