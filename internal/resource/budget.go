// Package resource bounds the memory reserved by index builds and the number
// of builds that run at once.
package resource

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrMemoryLimitExceeded is returned when a reservation would exceed the
// configured limit.
var ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

// Budget tracks reserved memory against an optional hard limit. A nil Budget
// accepts every reservation.
type Budget struct {
	limit  int64
	memSem *semaphore.Weighted
	used   atomic.Int64
	builds *semaphore.Weighted
}

// NewBudget creates a Budget. limitBytes <= 0 disables the memory limit;
// maxBuilds <= 0 allows a single concurrent build.
func NewBudget(limitBytes int64, maxBuilds int64) *Budget {
	if maxBuilds <= 0 {
		maxBuilds = 1
	}
	b := &Budget{
		limit:  limitBytes,
		builds: semaphore.NewWeighted(maxBuilds),
	}
	if limitBytes > 0 {
		b.memSem = semaphore.NewWeighted(limitBytes)
	}
	return b
}

// Reserve claims bytes without blocking.
func (b *Budget) Reserve(bytes int64) error {
	if b == nil || bytes <= 0 {
		return nil
	}
	if b.memSem != nil && !b.memSem.TryAcquire(bytes) {
		return ErrMemoryLimitExceeded
	}
	b.used.Add(bytes)
	return nil
}

// Release returns bytes claimed with Reserve.
func (b *Budget) Release(bytes int64) {
	if b == nil || bytes <= 0 {
		return
	}
	if b.memSem != nil {
		b.memSem.Release(bytes)
	}
	b.used.Add(-bytes)
}

func (b *Budget) Used() int64 {
	if b == nil {
		return 0
	}
	return b.used.Load()
}

func (b *Budget) Limit() int64 {
	if b == nil {
		return 0
	}
	return b.limit
}

// AcquireBuild blocks until a build slot is free or ctx is done.
func (b *Budget) AcquireBuild(ctx context.Context) error {
	if b == nil {
		return nil
	}
	return b.builds.Acquire(ctx, 1)
}

func (b *Budget) ReleaseBuild() {
	if b == nil {
		return
	}
	b.builds.Release(1)
}
