// Package sim provides simulated HAL drivers and a spindle model so the
// control packages can run off-target.
package sim

import (
	"fmt"
	"sync"

	"coilwinder/core"
)

// PinMode records how a simulated pin was configured
type PinMode uint8

const (
	Unconfigured PinMode = iota
	Output
	InputPullUp
	InputPullDown
)

type pinIRQ struct {
	change  core.PinChange
	handler core.PinHandler
}

// GPIO is an in-memory core.GPIODriver. Outputs are latched; inputs are
// driven by Drive or computed by an input function.
type GPIO struct {
	mu       sync.Mutex
	modes    map[core.GPIOPin]PinMode
	levels   map[core.GPIOPin]bool
	inputs   map[core.GPIOPin]func() bool
	irqs     map[core.GPIOPin]pinIRQ
	writes   map[core.GPIOPin]int
	onChange func(pin core.GPIOPin, value bool)
}

// NewGPIO returns a driver with every pin unconfigured and low
func NewGPIO() *GPIO {
	return &GPIO{
		modes:  make(map[core.GPIOPin]PinMode),
		levels: make(map[core.GPIOPin]bool),
		inputs: make(map[core.GPIOPin]func() bool),
		irqs:   make(map[core.GPIOPin]pinIRQ),
		writes: make(map[core.GPIOPin]int),
	}
}

func (g *GPIO) configure(pin core.GPIOPin, mode PinMode, level bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.modes[pin] = mode
	if mode != Output {
		if _, driven := g.levels[pin]; !driven {
			g.levels[pin] = level
		}
	}
	return nil
}

func (g *GPIO) ConfigureOutput(pin core.GPIOPin) error {
	return g.configure(pin, Output, false)
}

func (g *GPIO) ConfigureInputPullUp(pin core.GPIOPin) error {
	return g.configure(pin, InputPullUp, true)
}

func (g *GPIO) ConfigureInputPullDown(pin core.GPIOPin) error {
	return g.configure(pin, InputPullDown, false)
}

func (g *GPIO) SetPin(pin core.GPIOPin, value bool) error {
	g.mu.Lock()
	if g.modes[pin] != Output {
		g.mu.Unlock()
		return fmt.Errorf("sim: pin %d is not an output", pin)
	}
	g.levels[pin] = value
	g.writes[pin]++
	hook := g.onChange
	g.mu.Unlock()
	if hook != nil {
		hook(pin, value)
	}
	return nil
}

func (g *GPIO) GetPin(pin core.GPIOPin) (bool, error) {
	g.mu.Lock()
	fn := g.inputs[pin]
	level := g.levels[pin]
	g.mu.Unlock()
	if fn != nil {
		return fn(), nil
	}
	return level, nil
}

func (g *GPIO) ReadPin(pin core.GPIOPin) bool {
	v, _ := g.GetPin(pin)
	return v
}

func (g *GPIO) SetInterrupt(pin core.GPIOPin, change core.PinChange, handler core.PinHandler) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if handler == nil {
		delete(g.irqs, pin)
		return nil
	}
	g.irqs[pin] = pinIRQ{change: change, handler: handler}
	return nil
}

// Drive sets an input level from outside, firing the pin interrupt if the
// edge matches. The handler runs inside core.DisableInterrupts, as it would
// on hardware.
func (g *GPIO) Drive(pin core.GPIOPin, level bool) {
	g.mu.Lock()
	prev := g.levels[pin]
	g.levels[pin] = level
	irq, ok := g.irqs[pin]
	g.mu.Unlock()

	if !ok || prev == level {
		return
	}
	if level && irq.change&core.PinRising == 0 {
		return
	}
	if !level && irq.change&core.PinFalling == 0 {
		return
	}
	state := core.DisableInterrupts()
	irq.handler(pin)
	core.RestoreInterrupts(state)
}

// SetInputFunc makes reads of pin return fn() instead of the driven level
func (g *GPIO) SetInputFunc(pin core.GPIOPin, fn func() bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if fn == nil {
		delete(g.inputs, pin)
		return
	}
	g.inputs[pin] = fn
}

// OnChange registers a hook called after every output write
func (g *GPIO) OnChange(fn func(pin core.GPIOPin, value bool)) {
	g.mu.Lock()
	g.onChange = fn
	g.mu.Unlock()
}

// Level returns the latched level of a pin
func (g *GPIO) Level(pin core.GPIOPin) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.levels[pin]
}

// Mode returns how a pin was configured
func (g *GPIO) Mode(pin core.GPIOPin) PinMode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.modes[pin]
}

// Writes counts SetPin calls on a pin
func (g *GPIO) Writes(pin core.GPIOPin) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.writes[pin]
}

// HasInterrupt reports whether a handler is attached to pin
func (g *GPIO) HasInterrupt(pin core.GPIOPin) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.irqs[pin]
	return ok
}
