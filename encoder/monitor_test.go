package encoder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coilwinder/core"
	"coilwinder/sim"
)

const encoderPin core.GPIOPin = 17

func newTestMonitor(t *testing.T, sched *core.Scheduler) (*Monitor, *sim.GPIO, *sim.ManualClock) {
	t.Helper()
	gpio := sim.NewGPIO()
	clk := sim.NewManualClock(0)
	m, err := New(gpio, clk, sched, DefaultConfig(encoderPin))
	require.NoError(t, err)
	require.Equal(t, sim.InputPullUp, gpio.Mode(encoderPin))
	return m, gpio, clk
}

// slotAt blocks the sensor at t and clears it 5 ms later
func slotAt(gpio *sim.GPIO, clk *sim.ManualClock, t time.Duration) {
	clk.Set(t)
	gpio.Drive(encoderPin, false)
	clk.Set(t + 5*time.Millisecond)
	gpio.Drive(encoderPin, true)
}

func TestDebounceRejectsCloseEdges(t *testing.T) {
	m, gpio, clk := newTestMonitor(t, nil)
	require.NoError(t, m.Start(0))
	require.True(t, gpio.HasInterrupt(encoderPin))

	clk.Set(10 * time.Millisecond)
	gpio.Drive(encoderPin, false)
	clk.Set(11 * time.Millisecond)
	gpio.Drive(encoderPin, true)
	clk.Set(12 * time.Millisecond)
	gpio.Drive(encoderPin, false)

	assert.Equal(t, uint64(1), m.Slots())
	assert.Equal(t, uint32(2), m.Bounces())
}

func TestFirstEdgeAfterStartCounts(t *testing.T) {
	m, gpio, clk := newTestMonitor(t, nil)

	clk.Set(100 * time.Millisecond)
	require.NoError(t, m.Start(0))
	gpio.Drive(encoderPin, false)
	assert.Equal(t, uint64(1), m.Slots())
	assert.Zero(t, m.Bounces())

	// re-armed for the next pass with the sensor clear
	gpio.Drive(encoderPin, true)
	clk.Set(200 * time.Millisecond)
	require.NoError(t, m.Start(0))
	clk.Set(200*time.Millisecond + 100*time.Microsecond)
	gpio.Drive(encoderPin, false)
	assert.Equal(t, uint64(1), m.Slots())
	assert.Zero(t, m.Bounces())
}

func TestCountsOnlyEntryIntoActiveLevel(t *testing.T) {
	m, gpio, clk := newTestMonitor(t, nil)
	require.NoError(t, m.Start(0))

	slotAt(gpio, clk, 10*time.Millisecond)
	slotAt(gpio, clk, 30*time.Millisecond)
	slotAt(gpio, clk, 50*time.Millisecond)

	assert.Equal(t, uint64(3), m.Slots())
	assert.Equal(t, uint32(0), m.Bounces())
}

func TestFilteredIntervalSeedsThenSmooths(t *testing.T) {
	m, gpio, clk := newTestMonitor(t, nil)
	require.NoError(t, m.Start(0))

	slotAt(gpio, clk, 10*time.Millisecond)
	s := m.Snapshot()
	assert.True(t, s.HaveSlot)
	assert.Equal(t, 10*time.Millisecond, s.LastSlot)
	assert.Zero(t, s.Filtered, "first slot only stamps the time")

	slotAt(gpio, clk, 20*time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, m.Snapshot().Filtered)

	slotAt(gpio, clk, 30*time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, m.Snapshot().Filtered)

	slotAt(gpio, clk, 50*time.Millisecond)
	// (10*3 + 20) / 4
	assert.Equal(t, 12500*time.Microsecond, m.Snapshot().Filtered)
}

func TestStopRequestedAtTarget(t *testing.T) {
	sched := core.NewScheduler()
	m, gpio, clk := newTestMonitor(t, sched)
	require.NoError(t, m.Start(3))

	slotAt(gpio, clk, 10*time.Millisecond)
	slotAt(gpio, clk, 20*time.Millisecond)
	assert.False(t, m.StopRequested())
	slotAt(gpio, clk, 30*time.Millisecond)
	assert.True(t, m.StopRequested())
	assert.Equal(t, 3, sched.Pending())

	assert.Equal(t, 3, sched.RunPending())
	require.NoError(t, m.WaitForStop(context.Background(), time.Millisecond))

	// Rearming clears the request and the counters
	m.Arm(3)
	assert.False(t, m.StopRequested())
	assert.Equal(t, uint64(0), m.Slots())
	assert.False(t, m.Snapshot().HaveSlot)
}

func TestSaturatedSchedulerDropsWakeups(t *testing.T) {
	sched := core.NewScheduler()
	m, gpio, clk := newTestMonitor(t, sched)
	require.NoError(t, m.Start(0))

	for i := 0; i < core.SchedulerDepth+2; i++ {
		slotAt(gpio, clk, time.Duration(10+10*i)*time.Millisecond)
	}
	assert.Equal(t, uint64(core.SchedulerDepth+2), m.Slots(), "counting never depends on the scheduler")
	assert.Equal(t, uint32(2), m.Dropped())
}

func TestArmWhileBlockedWaitsForRelease(t *testing.T) {
	m, gpio, clk := newTestMonitor(t, nil)
	gpio.Drive(encoderPin, false)
	require.NoError(t, m.Start(0))

	// Still inside the slot that was blocked at arm time
	clk.Set(10 * time.Millisecond)
	gpio.Drive(encoderPin, true)
	assert.Equal(t, uint64(0), m.Slots())

	clk.Set(20 * time.Millisecond)
	gpio.Drive(encoderPin, false)
	assert.Equal(t, uint64(1), m.Slots())
}

func TestStopDetachesHandler(t *testing.T) {
	m, gpio, clk := newTestMonitor(t, nil)
	require.NoError(t, m.Start(0))
	slotAt(gpio, clk, 10*time.Millisecond)
	require.NoError(t, m.Stop())
	assert.False(t, gpio.HasInterrupt(encoderPin))

	slotAt(gpio, clk, 30*time.Millisecond)
	assert.Equal(t, uint64(1), m.Slots())
}

func TestWaitCancelled(t *testing.T) {
	m, _, _ := newTestMonitor(t, core.NewScheduler())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.WaitForStop(ctx, time.Millisecond)
	assert.ErrorIs(t, err, core.ErrCancelled)
}
