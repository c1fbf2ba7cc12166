package core

import (
	"context"
	"sync/atomic"
	"time"
)

// SchedulerDepth is the number of deferred callbacks that can be pending
const SchedulerDepth = 16

// Scheduler moves work out of interrupt context. Post is safe to call from a
// pin handler: it never blocks and never allocates. When the ring is full the
// callback is dropped and counted, so consumers must poll the state they care
// about instead of relying on every callback arriving.
//
// One producer context (interrupts) and one consumer goroutine.
type Scheduler struct {
	ring    [SchedulerDepth]func()
	head    atomic.Uint32 // next slot to write
	tail    atomic.Uint32 // next slot to run
	dropped atomic.Uint32
}

// NewScheduler returns an empty scheduler
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Post queues fn to run on the consumer goroutine. Returns false if the ring
// was saturated and fn was dropped.
func (s *Scheduler) Post(fn func()) bool {
	head := s.head.Load()
	if head-s.tail.Load() >= SchedulerDepth {
		s.dropped.Add(1)
		return false
	}
	s.ring[head%SchedulerDepth] = fn
	s.head.Store(head + 1)
	return true
}

// RunPending runs every queued callback and returns how many ran
func (s *Scheduler) RunPending() int {
	n := 0
	for {
		tail := s.tail.Load()
		if tail == s.head.Load() {
			return n
		}
		fn := s.ring[tail%SchedulerDepth]
		s.ring[tail%SchedulerDepth] = nil
		s.tail.Store(tail + 1)
		if fn != nil {
			fn()
		}
		n++
	}
}

// Run drains the ring every poll interval until ctx is done
func (s *Scheduler) Run(ctx context.Context, clk Clock, poll time.Duration) error {
	for {
		s.RunPending()
		if err := clk.Sleep(ctx, poll); err != nil {
			return err
		}
	}
}

// Pending reports the number of callbacks waiting to run
func (s *Scheduler) Pending() int {
	return int(s.head.Load() - s.tail.Load())
}

// Dropped reports how many callbacks were discarded because the ring was full
func (s *Scheduler) Dropped() uint32 {
	return s.dropped.Load()
}
