// Package ratelimit keeps one token bucket per API key.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	limiter   *rate.Limiter
	perMinute int
	lastSeen  time.Time
}

// Limiter allows each key perMinute requests per minute with bursts of up
// to perMinute. Keys idle for longer than the idle period are forgotten by
// Run.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	idle    time.Duration
	now     func() time.Time
}

func New(idle time.Duration) *Limiter {
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	return &Limiter{
		entries: make(map[string]*entry),
		idle:    idle,
		now:     time.Now,
	}
}

// Allow consumes one token of key. A non-positive perMinute never limits.
// A changed perMinute takes effect on the existing bucket.
func (l *Limiter) Allow(key string, perMinute int) bool {
	if perMinute <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(perSecond(perMinute), perMinute), perMinute: perMinute}
		l.entries[key] = e
	} else if e.perMinute != perMinute {
		e.limiter.SetLimitAt(now, perSecond(perMinute))
		e.limiter.SetBurstAt(now, perMinute)
		e.perMinute = perMinute
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

func perSecond(perMinute int) rate.Limit {
	return rate.Limit(float64(perMinute) / 60)
}

// Reset forgets the bucket of key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Sweep removes the buckets of keys idle for longer than the idle period.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.idle)
	removed := 0
	for key, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// Run sweeps idle buckets every idle period until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.idle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
