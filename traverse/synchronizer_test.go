package traverse

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coilwinder/core"
	"coilwinder/encoder"
	"coilwinder/sim"
	"coilwinder/stepper"
)

// clockedSlots is a spindle turning at a fixed slot period from t=0 until
// it reaches target
type clockedSlots struct {
	clk    *sim.ManualClock
	period time.Duration
	target uint64
}

func (c *clockedSlots) slots() uint64 {
	n := uint64(c.clk.Now() / c.period)
	if n > c.target {
		n = c.target
	}
	return n
}

func (c *clockedSlots) Snapshot() encoder.Snapshot {
	n := c.slots()
	s := encoder.Snapshot{Slots: n}
	if n > 0 {
		s.HaveSlot = true
		s.LastSlot = time.Duration(n) * c.period
	}
	if n > 1 {
		s.Filtered = c.period
	}
	return s
}

func (c *clockedSlots) done() bool {
	return c.slots() >= c.target
}

// recordingMotor checks every pulse against the encoder-derived ceiling
type recordingMotor struct {
	src      *clockedSlots
	steps    int
	slots    uint64
	pulses   int
	enabled  bool
	dir      stepper.Direction
	overrun  int
	disabled int
	onPulse  func()
}

func (m *recordingMotor) Enable() error { m.enabled = true; return nil }

func (m *recordingMotor) Disable() error {
	m.enabled = false
	m.disabled++
	return nil
}

func (m *recordingMotor) SetDirection(d stepper.Direction) error {
	m.dir = d
	return nil
}

func (m *recordingMotor) Pulse() error {
	if !m.enabled {
		return core.ErrMotorDisabled
	}
	m.pulses++
	if m.onPulse != nil {
		m.onPulse()
	}
	progress := float64(m.src.slots()) + 0.98
	ceiling := int(math.Floor(progress * float64(m.steps) / float64(m.slots)))
	if ceiling > m.steps {
		ceiling = m.steps
	}
	if m.pulses > ceiling {
		m.overrun++
	}
	return nil
}

func newSyncFixture(t *testing.T, steps int, slots uint64, period time.Duration, cfg Config) (*Synchronizer, *recordingMotor, *clockedSlots) {
	t.Helper()
	clk := sim.NewManualClock(0)
	src := &clockedSlots{clk: clk, period: period, target: slots}
	m := &recordingMotor{src: src, steps: steps, slots: slots}
	s, err := New(m, src, clk, cfg, steps, slots, stepper.Forward)
	require.NoError(t, err)
	return s, m, src
}

func TestStepsTrackEncoderAndReachTarget(t *testing.T) {
	s, m, src := newSyncFixture(t, 136, 40, 10*time.Millisecond, DefaultConfig())

	last := 0
	monotonic := true
	prev := src.done
	err := s.Run(context.Background(), func() bool {
		p := s.Progress().StepsMoved
		if p < last {
			monotonic = false
		}
		last = p
		return prev()
	})
	require.NoError(t, err)

	p := s.Progress()
	assert.True(t, monotonic)
	assert.Equal(t, 136, p.StepsMoved)
	assert.Equal(t, 136, m.pulses)
	assert.Zero(t, p.FallbackSteps)
	assert.Zero(t, m.overrun, "guide ran ahead of the spindle")
	assert.Equal(t, stepper.Forward, m.dir)
	assert.False(t, m.enabled)
}

func TestFallbackFinishesOwedSteps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CatchUp = 100 * time.Millisecond
	// 200 steps per slot at 1 ms slots cannot be kept up with
	s, m, src := newSyncFixture(t, 2000, 10, time.Millisecond, cfg)

	require.NoError(t, s.Run(context.Background(), src.done))

	p := s.Progress()
	assert.Equal(t, 2000, p.StepsMoved)
	assert.Equal(t, 2000, m.pulses)
	assert.Positive(t, p.FallbackSteps)
	assert.Less(t, p.FallbackSteps, 2000)
	assert.False(t, m.enabled)
}

func TestCancelDuringFallbackMove(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CatchUp = 100 * time.Millisecond
	s, m, src := newSyncFixture(t, 2000, 10, time.Millisecond, cfg)
	ctx, cancel := context.WithCancel(context.Background())

	// slots end at 10 ms, so anything past the catch-up window is the
	// direct move of the owed steps
	fallbackFrom := 10*time.Millisecond + cfg.CatchUp + 10*time.Millisecond
	fallbackPulses := 0
	m.onPulse = func() {
		if src.clk.Now() > fallbackFrom {
			if fallbackPulses++; fallbackPulses == 5 {
				cancel()
			}
		}
	}

	err := s.Run(ctx, src.done)
	require.ErrorIs(t, err, core.ErrCancelled)
	p := s.Progress()
	assert.Positive(t, p.FallbackSteps)
	assert.Less(t, p.StepsMoved, 2000)
	assert.Equal(t, m.pulses, p.StepsMoved)
	assert.False(t, m.enabled)
}

func TestNoStepsWithoutSlots(t *testing.T) {
	s, m, _ := newSyncFixture(t, 100, 10, time.Hour, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())

	polls := 0
	err := s.Run(ctx, func() bool {
		polls++
		if polls == 50 {
			cancel()
		}
		return false
	})
	assert.ErrorIs(t, err, core.ErrCancelled)
	assert.Zero(t, m.pulses)
	assert.Zero(t, s.Progress().StepsMoved)
	assert.Equal(t, 1, m.disabled)
}

func TestCancelMidPassDisablesMotor(t *testing.T) {
	s, m, src := newSyncFixture(t, 136, 40, 10*time.Millisecond, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())

	err := s.Run(ctx, func() bool {
		if src.slots() >= 20 {
			cancel()
		}
		return src.done()
	})
	require.ErrorIs(t, err, core.ErrCancelled)
	moved := s.Progress().StepsMoved
	assert.Greater(t, moved, 0)
	assert.Less(t, moved, 136)
	assert.False(t, m.enabled)
}

func TestNewRejectsBadTargets(t *testing.T) {
	clk := sim.NewManualClock(0)
	src := &clockedSlots{clk: clk, period: time.Millisecond}
	_, err := New(&recordingMotor{}, src, clk, DefaultConfig(), 10, 0, stepper.Forward)
	assert.ErrorIs(t, err, core.ErrInvalidGeometry)
	_, err = New(&recordingMotor{}, src, clk, DefaultConfig(), 10, 5, stepper.Direction(0))
	assert.Error(t, err)
}

func TestIntervalClamp(t *testing.T) {
	clk := sim.NewManualClock(0)
	src := &clockedSlots{clk: clk, period: time.Millisecond}
	s, err := New(&recordingMotor{}, src, clk, DefaultConfig(), 40, 10, stepper.Forward)
	require.NoError(t, err)

	assert.Equal(t, time.Millisecond, s.interval(encoder.Snapshot{}), "unseeded filter uses the minimum")
	assert.Equal(t, 5*time.Millisecond, s.interval(encoder.Snapshot{Filtered: 20 * time.Millisecond}))
	assert.Equal(t, time.Millisecond, s.interval(encoder.Snapshot{Filtered: time.Millisecond}))
	assert.Equal(t, 50*time.Millisecond, s.interval(encoder.Snapshot{Filtered: time.Second}))
}
