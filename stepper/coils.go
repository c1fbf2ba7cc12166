package stepper

import (
	"sync/atomic"

	"coilwinder/core"
)

// halfStepSequence energizes one then two adjacent coils in turn
var halfStepSequence = [8][4]bool{
	{true, false, false, false},
	{true, true, false, false},
	{false, true, false, false},
	{false, true, true, false},
	{false, false, true, false},
	{false, false, true, true},
	{false, false, false, true},
	{true, false, false, true},
}

// Coils drives a 4-coil unipolar stepper (28BYJ-48 through a ULN2003)
type Coils struct {
	gpio  core.GPIODriver
	pins  [4]core.GPIOPin
	dir   Direction
	phase atomic.Int32 // index of the energized entry
}

// NewCoils configures the four coil outputs and leaves them released
func NewCoils(gpio core.GPIODriver, pins [4]core.GPIOPin) (*Coils, error) {
	c := &Coils{gpio: gpio, pins: pins, dir: Forward}
	for _, p := range pins {
		if err := gpio.ConfigureOutput(p); err != nil {
			return nil, err
		}
	}
	if err := c.Disable(); err != nil {
		return nil, err
	}
	return c, nil
}

// Enable is a no-op; coils are energized by the first pulse
func (c *Coils) Enable() error {
	return nil
}

// Disable releases all coils
func (c *Coils) Disable() error {
	for _, p := range c.pins {
		if err := c.gpio.SetPin(p, false); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coils) SetDirection(dir Direction) error {
	c.dir = dir
	return nil
}

// Pulse advances the phase index by the direction and energizes that entry
func (c *Coils) Pulse() error {
	n := len(halfStepSequence)
	phase := (int(c.phase.Load()) + int(c.dir) + n) % n
	for i, on := range halfStepSequence[phase] {
		if err := c.gpio.SetPin(c.pins[i], on); err != nil {
			return err
		}
	}
	c.phase.Store(int32(phase))
	return nil
}

// Phase returns the position within the 8-entry sequence
func (c *Coils) Phase() int {
	return int(c.phase.Load())
}

// Energized reports whether any coil is on
func (c *Coils) Energized() bool {
	for _, p := range c.pins {
		if c.gpio.ReadPin(p) {
			return true
		}
	}
	return false
}
