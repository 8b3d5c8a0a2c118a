package artifact

import (
	"context"
	"errors"

	apperrors "github.com/Adithya-Monish-Kumar-K/visual-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/resilience"
)

// ResilientConfig tunes the retry and breaker wrapped around a remote Store.
type ResilientConfig struct {
	Retry         resilience.RetryConfig
	Breaker       resilience.CircuitBreakerConfig
	OnStateChange func(name string, from, to resilience.State)
}

// Resilient retries transient failures of the wrapped Store and stops
// calling it while its circuit is open. Misses are passed through without
// retrying or counting against the breaker.
type Resilient struct {
	inner   Store
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

func NewResilient(inner Store, cfg ResilientConfig) *Resilient {
	bc := cfg.Breaker
	if bc.OnStateChange == nil {
		bc.OnStateChange = cfg.OnStateChange
	}
	return &Resilient{
		inner:   inner,
		retry:   cfg.Retry,
		breaker: resilience.NewCircuitBreaker("artifact-"+inner.Name(), bc),
	}
}

func (r *Resilient) Name() string { return r.inner.Name() }

// State reports the breaker state.
func (r *Resilient) State() resilience.State { return r.breaker.State() }

func (r *Resilient) do(ctx context.Context, op string, fn func() error) error {
	err := r.breaker.Execute(func() error {
		return resilience.Retry(ctx, r.inner.Name()+"."+op, r.retry, func() error {
			err := fn()
			if errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, context.Canceled) {
				return resilience.Permanent(err)
			}
			return err
		})
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return errors.Join(apperrors.ErrStoreUnavailable, err)
	}
	return err
}

func (r *Resilient) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := r.do(ctx, "get", func() error {
		var err error
		data, err = r.inner.Get(ctx, key)
		return err
	})
	return data, err
}

func (r *Resilient) Put(ctx context.Context, key string, data []byte) error {
	return r.do(ctx, "put", func() error { return r.inner.Put(ctx, key, data) })
}

func (r *Resilient) Delete(ctx context.Context, key string) error {
	return r.do(ctx, "delete", func() error { return r.inner.Delete(ctx, key) })
}
