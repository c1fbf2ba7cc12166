// Package encoder counts spindle slots from a single photo-interrupter.
//
// HandleEdge runs in interrupt context. It touches only atomics and the
// handler-private edge state, and defers wake-ups through core.Scheduler.
// Readers take a Snapshot and must tolerate skew between its fields.
package encoder

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"coilwinder/core"
)

// DefaultDebounce rejects edges closer than this to the last accepted edge
const DefaultDebounce = 3 * time.Millisecond

var log = core.NewLogger("encoder")

// Config describes the sensor wiring
type Config struct {
	Pin       core.GPIOPin
	ActiveLow bool // a blocked slot pulls the pulled-up input low
	Debounce  time.Duration
}

// DefaultConfig is the slotted-disc sensor on a pulled-up input
func DefaultConfig(pin core.GPIOPin) Config {
	return Config{Pin: pin, ActiveLow: true, Debounce: DefaultDebounce}
}

// Snapshot is a point-in-time view of the counters
type Snapshot struct {
	Slots    uint64
	LastSlot time.Duration // clock reading of the latest slot
	HaveSlot bool
	Filtered time.Duration // smoothed slot interval; zero until seeded
}

// Monitor counts slots and keeps a filtered inter-slot interval
type Monitor struct {
	cfg   Config
	gpio  core.GPIODriver
	clk   core.Clock
	sched *core.Scheduler

	// handler-private
	lastEdge int64
	inGap    bool

	slots    atomic.Uint64
	lastSlot atomic.Int64  // µs, -1 before the first slot
	filtered atomic.Uint64 // float64 bits, ms
	target   atomic.Uint64
	stop     atomic.Bool
	bounces  atomic.Uint32

	wake   chan struct{}
	notify func()
}

// New configures the sensor input. sched may be nil, in which case Wait
// falls back to polling only.
func New(gpio core.GPIODriver, clk core.Clock, sched *core.Scheduler, cfg Config) (*Monitor, error) {
	if cfg.Debounce < 0 {
		cfg.Debounce = 0
	}
	var err error
	if cfg.ActiveLow {
		err = gpio.ConfigureInputPullUp(cfg.Pin)
	} else {
		err = gpio.ConfigureInputPullDown(cfg.Pin)
	}
	if err != nil {
		return nil, err
	}
	m := &Monitor{cfg: cfg, gpio: gpio, clk: clk, sched: sched, wake: make(chan struct{}, 1)}
	m.notify = m.signal
	m.lastSlot.Store(-1)
	return m, nil
}

// Arm resets the counters for a new pass. targetSlots of zero never raises
// the stop request.
func (m *Monitor) Arm(targetSlots uint64) {
	state := core.DisableInterrupts()
	// first edge after arming always passes the debounce
	m.lastEdge = core.Micros(m.clk.Now()) - core.Micros(m.cfg.Debounce)
	m.inGap = m.active(m.gpio.ReadPin(m.cfg.Pin))
	m.slots.Store(0)
	m.lastSlot.Store(-1)
	m.filtered.Store(0)
	m.target.Store(targetSlots)
	m.stop.Store(false)
	m.bounces.Store(0)
	core.RestoreInterrupts(state)

	select {
	case <-m.wake:
	default:
	}
}

// Start arms the monitor and attaches the edge handler
func (m *Monitor) Start(targetSlots uint64) error {
	m.Arm(targetSlots)
	log.Debugf("armed for %d slots on pin %d", targetSlots, m.cfg.Pin)
	return m.gpio.SetInterrupt(m.cfg.Pin, core.PinToggle, m.HandleEdge)
}

// Stop detaches the edge handler. Counters keep their values.
func (m *Monitor) Stop() error {
	return m.gpio.SetInterrupt(m.cfg.Pin, core.PinToggle, nil)
}

func (m *Monitor) active(level bool) bool {
	return level != m.cfg.ActiveLow
}

// HandleEdge is the pin interrupt handler. A slot is counted only on the
// transition into the active level.
func (m *Monitor) HandleEdge(pin core.GPIOPin) {
	now := core.Micros(m.clk.Now())
	if now-m.lastEdge < core.Micros(m.cfg.Debounce) {
		m.bounces.Add(1)
		return
	}
	m.lastEdge = now

	if !m.active(m.gpio.ReadPin(pin)) {
		m.inGap = false
		return
	}
	if m.inGap {
		return
	}
	m.inGap = true

	if last := m.lastSlot.Load(); last >= 0 && now > last {
		interval := float64(now-last) / 1000
		f := math.Float64frombits(m.filtered.Load())
		if f == 0 {
			f = interval
		} else {
			f = (f*3 + interval) / 4
		}
		m.filtered.Store(math.Float64bits(f))
	}
	m.lastSlot.Store(now)

	n := m.slots.Add(1)
	if t := m.target.Load(); t > 0 && n >= t {
		m.stop.Store(true)
	}
	if m.sched != nil {
		m.sched.Post(m.notify)
	}
}

// signal runs on the scheduler goroutine
func (m *Monitor) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Slots returns the slot count
func (m *Monitor) Slots() uint64 {
	return m.slots.Load()
}

// Target returns the armed slot target
func (m *Monitor) Target() uint64 {
	return m.target.Load()
}

// StopRequested reports whether the slot target was reached
func (m *Monitor) StopRequested() bool {
	return m.stop.Load()
}

// Bounces counts edges rejected by the debounce window
func (m *Monitor) Bounces() uint32 {
	return m.bounces.Load()
}

// Dropped counts wake-ups lost to a saturated scheduler
func (m *Monitor) Dropped() uint32 {
	if m.sched == nil {
		return 0
	}
	return m.sched.Dropped()
}

func (m *Monitor) Snapshot() Snapshot {
	s := Snapshot{Slots: m.slots.Load()}
	if last := m.lastSlot.Load(); last >= 0 {
		s.HaveSlot = true
		s.LastSlot = time.Duration(last) * time.Microsecond
	}
	if f := math.Float64frombits(m.filtered.Load()); f > 0 {
		s.Filtered = time.Duration(f * float64(time.Millisecond))
	}
	return s
}

// Wait returns after a slot notification or after poll, whichever comes
// first. A dropped notification only delays the caller by one poll period.
func (m *Monitor) Wait(ctx context.Context, poll time.Duration) error {
	select {
	case <-m.wake:
		return nil
	default:
	}

	sleepCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	slept := make(chan error, 1)
	go func() { slept <- m.clk.Sleep(sleepCtx, poll) }()

	select {
	case <-m.wake:
		cancel()
		<-slept
		return nil
	case err := <-slept:
		if err != nil && ctx.Err() != nil {
			return core.Cancelled(ctx.Err())
		}
		return nil
	}
}

// WaitForStop blocks until the slot target is reached or ctx ends
func (m *Monitor) WaitForStop(ctx context.Context, poll time.Duration) error {
	for !m.StopRequested() {
		if err := m.Wait(ctx, poll); err != nil {
			return err
		}
	}
	return nil
}
