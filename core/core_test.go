package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockGPIODriver records every pin write
type MockGPIODriver struct {
	pins   map[GPIOPin]bool
	writes []string
}

func NewMockGPIODriver() *MockGPIODriver {
	return &MockGPIODriver{pins: make(map[GPIOPin]bool)}
}

func (m *MockGPIODriver) ConfigureOutput(pin GPIOPin) error {
	m.pins[pin] = false
	return nil
}

func (m *MockGPIODriver) ConfigureInputPullUp(pin GPIOPin) error   { return nil }
func (m *MockGPIODriver) ConfigureInputPullDown(pin GPIOPin) error { return nil }

func (m *MockGPIODriver) SetPin(pin GPIOPin, value bool) error {
	m.pins[pin] = value
	m.writes = append(m.writes, fmt.Sprintf("%d=%t", pin, value))
	return nil
}

func (m *MockGPIODriver) GetPin(pin GPIOPin) (bool, error) {
	return m.pins[pin], nil
}

func (m *MockGPIODriver) ReadPin(pin GPIOPin) bool {
	return m.pins[pin]
}

func (m *MockGPIODriver) SetInterrupt(GPIOPin, PinChange, PinHandler) error {
	return nil
}

func TestSchedulerRunsInOrderAndDropsWhenFull(t *testing.T) {
	s := NewScheduler()
	var ran []int
	for i := 0; i < SchedulerDepth; i++ {
		i := i
		require.True(t, s.Post(func() { ran = append(ran, i) }))
	}
	assert.False(t, s.Post(func() { t.Fatal("dropped callback ran") }))
	assert.Equal(t, uint32(1), s.Dropped())
	assert.Equal(t, SchedulerDepth, s.Pending())

	assert.Equal(t, SchedulerDepth, s.RunPending())
	assert.Equal(t, 0, s.Pending())
	for i, v := range ran {
		assert.Equal(t, i, v)
	}

	// the ring is reusable after it wraps
	require.True(t, s.Post(func() { ran = append(ran, 99) }))
	assert.Equal(t, 1, s.RunPending())
	assert.Equal(t, 99, ran[len(ran)-1])
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	s := NewScheduler()
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	count := 0
	s.Post(func() {
		mu.Lock()
		count++
		mu.Unlock()
	})

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, NewSystemClock(), time.Millisecond) }()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSystemClockSleep(t *testing.T) {
	clk := NewSystemClock()
	start := clk.Now()
	require.NoError(t, clk.Sleep(context.Background(), 2*time.Millisecond))
	assert.GreaterOrEqual(t, clk.Now()-start, 2*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, clk.Sleep(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, clk.Sleep(ctx, 0), context.Canceled)

	assert.Equal(t, int64(1500), Micros(1500*time.Microsecond+300))
}

func TestCancelledWrapsContextErrors(t *testing.T) {
	assert.NoError(t, Cancelled(nil))

	err := Cancelled(context.Canceled)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, Cancelled(context.DeadlineExceeded), ErrCancelled)

	assert.Same(t, ErrQueueFull, Cancelled(ErrQueueFull))
	assert.Equal(t, ErrCancelled, Cancelled(ErrCancelled))
}

func TestLoggerRingAndLevels(t *testing.T) {
	ClearLogs()
	defer SetDebugEnabled(false)

	var mu sync.Mutex
	var written []string
	SetDebugWriter(func(s string) {
		mu.Lock()
		written = append(written, s)
		mu.Unlock()
	})
	defer SetDebugWriter(func(string) {})

	log := NewLogger("test")
	log.Debugf("hidden %d", 1)
	log.Infof("shown %d", 2)
	log.Errorf("bad %s", "thing")

	assert.Equal(t, []string{"[INFO] [test] shown 2", "[ERROR] [test] bad thing"}, RecentLogs())
	mu.Lock()
	assert.Len(t, written, 2)
	mu.Unlock()

	SetDebugEnabled(true)
	assert.True(t, IsDebugEnabled())
	log.Debugf("now visible")
	assert.Contains(t, RecentLogs(), "[DEBUG] [test] now visible")

	ClearLogs()
	for i := 0; i < LogRingSize+5; i++ {
		log.Infof("line %d", i)
	}
	lines := RecentLogs()
	require.Len(t, lines, LogRingSize)
	assert.Equal(t, "[INFO] [test] line 5", lines[0])
	assert.Equal(t, fmt.Sprintf("[INFO] [test] line %d", LogRingSize+4), lines[len(lines)-1])
}

func TestGPIOStepperPulsesAndInverts(t *testing.T) {
	gpio := NewMockGPIODriver()
	s := NewGPIOStepper(gpio)
	require.NoError(t, s.Init(1, 0, false, true))
	assert.Equal(t, "GPIO", s.GetName())

	// direction inverted: logical false drives the pin high
	assert.True(t, gpio.pins[0])
	gpio.writes = nil

	s.SetDirection(true)
	s.Step()
	assert.Equal(t, []string{"0=false", "1=true", "1=false"}, gpio.writes)

	gpio.writes = nil
	s.Stop()
	assert.Equal(t, []string{"1=false"}, gpio.writes)
}

func TestGPIOStepperInvertedStepIdlesHigh(t *testing.T) {
	gpio := NewMockGPIODriver()
	s := NewGPIOStepper(gpio)
	require.NoError(t, s.Init(1, 0, true, false))
	assert.True(t, gpio.pins[1])

	gpio.writes = nil
	s.Step()
	assert.Equal(t, []string{"1=false", "1=true"}, gpio.writes)
}
