package core

import (
	"context"
	"runtime"
	"time"
)

// Clock is the monotonic time source shared by the control loops.
// Now is measured from boot. Sleep is the only suspension point a control
// loop uses, so cancellation is observed at every wait.
type Clock interface {
	Now() time.Duration
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock reads the runtime monotonic clock
type SystemClock struct {
	boot time.Time
}

// NewSystemClock returns a clock whose zero is the moment of the call
func NewSystemClock() *SystemClock {
	return &SystemClock{boot: time.Now()}
}

// Now returns time elapsed since boot
func (c *SystemClock) Now() time.Duration {
	return time.Since(c.boot)
}

// Sleep waits for d or until ctx is done. A non-positive d yields the
// processor once so other goroutines get to run.
func (c *SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		runtime.Gosched()
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Micros converts a clock reading to whole microseconds
func Micros(d time.Duration) int64 {
	return int64(d / time.Microsecond)
}
