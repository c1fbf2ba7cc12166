package sim

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// ManualClock is a core.Clock whose time only moves when told to. Sleep
// advances the clock by the requested duration instead of waiting, which makes
// single-goroutine control loops run deterministically and instantly.
type ManualClock struct {
	mu  sync.Mutex
	now time.Duration
}

// NewManualClock starts at t
func NewManualClock(t time.Duration) *ManualClock {
	return &ManualClock{now: t}
}

func (c *ManualClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep advances the clock by d unless ctx is already done
func (c *ManualClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d > 0 {
		c.Advance(d)
	}
	runtime.Gosched()
	return ctx.Err()
}

// Advance moves the clock forward
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}

// Set jumps the clock to t
func (c *ManualClock) Set(t time.Duration) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}
