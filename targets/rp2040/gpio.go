//go:build rp2040

package main

import (
	"machine"

	"coilwinder/core"
)

// RPGPIODriver implements core.GPIODriver on the RP2040 pins. GPIO numbers
// map directly to machine.Pin.
type RPGPIODriver struct {
	configured map[core.GPIOPin]machine.Pin
}

func NewRPGPIODriver() *RPGPIODriver {
	return &RPGPIODriver{configured: make(map[core.GPIOPin]machine.Pin)}
}

func (d *RPGPIODriver) configure(pin core.GPIOPin, mode machine.PinMode) error {
	p := machine.Pin(pin)
	p.Configure(machine.PinConfig{Mode: mode})
	d.configured[pin] = p
	return nil
}

func (d *RPGPIODriver) ConfigureOutput(pin core.GPIOPin) error {
	return d.configure(pin, machine.PinOutput)
}

func (d *RPGPIODriver) ConfigureInputPullUp(pin core.GPIOPin) error {
	return d.configure(pin, machine.PinInputPullup)
}

func (d *RPGPIODriver) ConfigureInputPullDown(pin core.GPIOPin) error {
	return d.configure(pin, machine.PinInputPulldown)
}

// SetPin configures unknown pins as outputs first
func (d *RPGPIODriver) SetPin(pin core.GPIOPin, value bool) error {
	p, ok := d.configured[pin]
	if !ok {
		d.ConfigureOutput(pin)
		p = d.configured[pin]
	}
	p.Set(value)
	return nil
}

func (d *RPGPIODriver) GetPin(pin core.GPIOPin) (bool, error) {
	p, ok := d.configured[pin]
	if !ok {
		return false, nil
	}
	return p.Get(), nil
}

func (d *RPGPIODriver) ReadPin(pin core.GPIOPin) bool {
	v, _ := d.GetPin(pin)
	return v
}

// SetInterrupt attaches handler to the pin's edge interrupt. The handler
// runs in interrupt context.
func (d *RPGPIODriver) SetInterrupt(pin core.GPIOPin, change core.PinChange, handler core.PinHandler) error {
	p := machine.Pin(pin)
	if handler == nil {
		return p.SetInterrupt(0, nil)
	}
	var edges machine.PinChange
	if change&core.PinRising != 0 {
		edges |= machine.PinRising
	}
	if change&core.PinFalling != 0 {
		edges |= machine.PinFalling
	}
	return p.SetInterrupt(edges, func(machine.Pin) { handler(pin) })
}
