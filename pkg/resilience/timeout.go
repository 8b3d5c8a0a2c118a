package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/visual-search/pkg/errors"
)

// WithTimeout runs fn under a deadline of timeout and returns as soon as
// the deadline passes, even if fn has not. A deadline error wraps both
// errors.ErrTimeout and context.DeadlineExceeded; cancellation of ctx
// itself is reported as ctx's error. timeout <= 0 runs fn unbounded.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	cause := fmt.Errorf("%s exceeded %v: %w: %w", name, timeout, apperrors.ErrTimeout, context.DeadlineExceeded)
	bounded, cancel := context.WithTimeoutCause(ctx, timeout, cause)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- fn(bounded) }()

	select {
	case err := <-result:
		if err != nil && ctx.Err() == nil && bounded.Err() != nil {
			return context.Cause(bounded)
		}
		return err
	case <-bounded.Done():
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return context.Cause(bounded)
	}
}
