package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newLimiter(idle time.Duration) (*Limiter, *clock) {
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(idle)
	l.now = c.now
	return l, c
}

func TestAllowBurstThenRefill(t *testing.T) {
	l, c := newLimiter(time.Minute)
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("k", 3), "request %d", i)
	}
	assert.False(t, l.Allow("k", 3))

	c.advance(20 * time.Second)
	assert.True(t, l.Allow("k", 3))
	assert.False(t, l.Allow("k", 3))
}

func TestAllowUnlimited(t *testing.T) {
	l, _ := newLimiter(time.Minute)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("k", 0))
	}
	assert.Equal(t, 0, l.Len())
}

func TestKeysAreIndependent(t *testing.T) {
	l, _ := newLimiter(time.Minute)
	assert.True(t, l.Allow("a", 1))
	assert.False(t, l.Allow("a", 1))
	assert.True(t, l.Allow("b", 1))

	l.Reset("a")
	assert.True(t, l.Allow("a", 1))
}

func TestLimitChangeApplies(t *testing.T) {
	l, _ := newLimiter(time.Minute)
	assert.True(t, l.Allow("k", 1))
	assert.False(t, l.Allow("k", 1))

	// Raising the limit raises the burst; the bucket refills from there.
	assert.False(t, l.Allow("k", 60))
	assert.Equal(t, 1, l.Len())
}

func TestSweepForgetsIdleKeys(t *testing.T) {
	l, c := newLimiter(time.Minute)
	l.Allow("old", 5)
	c.advance(50 * time.Second)
	l.Allow("new", 5)
	c.advance(20 * time.Second)

	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 1, l.Len())
}
