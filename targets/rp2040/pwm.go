//go:build rp2040

package main

import (
	"machine"

	"coilwinder/core"
)

// pwmPeripheral abstracts over TinyGo's unexported *pwmGroup type
type pwmPeripheral interface {
	Configure(config machine.PWMConfig) error
	Channel(pin machine.Pin) (uint8, error)
	Top() uint32
	Set(channel uint8, value uint32)
}

// RP2040PWMDriver implements core.PWMDriver on the 8 hardware PWM slices.
// GPIO N belongs to slice (N>>1)&7, channel A for even pins and B for odd.
type RP2040PWMDriver struct {
	// period in ns per configured slice
	slices      map[uint8]uint64
	channels    map[core.PWMPin]uint8
	peripherals map[uint8]pwmPeripheral
	// last requested duty, used to park the pin on disable
	duty map[core.PWMPin]core.PWMValue
}

func NewRP2040PWMDriver() *RP2040PWMDriver {
	return &RP2040PWMDriver{
		slices:      make(map[uint8]uint64),
		channels:    make(map[core.PWMPin]uint8),
		peripherals: make(map[uint8]pwmPeripheral),
		duty:        make(map[core.PWMPin]core.PWMValue),
	}
}

func (d *RP2040PWMDriver) GetMaxValue() core.PWMValue {
	return core.MaxDuty
}

func sliceOf(pin core.PWMPin) uint8 {
	return uint8((uint32(pin) >> 1) & 0x7)
}

// ConfigurePWM sets the slice period. Both channels of a slice share it, so
// the last caller wins.
func (d *RP2040PWMDriver) ConfigurePWM(pin core.PWMPin, frequencyHz uint32) error {
	if frequencyHz == 0 {
		frequencyHz = 1
	}
	slice := sliceOf(pin)
	pwm, ok := d.peripherals[slice]
	if !ok {
		pwm = pwmForSlice(slice)
		d.peripherals[slice] = pwm
	}

	period := uint64(1_000_000_000) / uint64(frequencyHz)
	if prev, ok := d.slices[slice]; !ok || prev != period {
		if err := pwm.Configure(machine.PWMConfig{Period: period}); err != nil {
			return err
		}
		d.slices[slice] = period
	}

	channel, err := pwm.Channel(machine.Pin(pin))
	if err != nil {
		return err
	}
	d.channels[pin] = channel
	return nil
}

// SetDutyCycle scales the 16-bit value onto the slice's Top. Unconfigured
// pins are ignored.
func (d *RP2040PWMDriver) SetDutyCycle(pin core.PWMPin, value core.PWMValue) error {
	channel, ok := d.channels[pin]
	if !ok {
		return nil
	}
	pwm := d.peripherals[sliceOf(pin)]
	top := pwm.Top()
	pwm.Set(channel, uint32(uint64(value)*uint64(top)/uint64(core.MaxDuty)))
	d.duty[pin] = value
	return nil
}

// DisablePWM returns the pin to a plain output held at the level the last
// duty cycle was closest to, so an inverted driver stays off.
func (d *RP2040PWMDriver) DisablePWM(pin core.PWMPin) error {
	delete(d.channels, pin)
	p := machine.Pin(pin)
	p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	p.Set(d.duty[pin] >= core.MaxDuty/2)
	return nil
}

func pwmForSlice(slice uint8) pwmPeripheral {
	switch slice {
	case 1:
		return machine.PWM1
	case 2:
		return machine.PWM2
	case 3:
		return machine.PWM3
	case 4:
		return machine.PWM4
	case 5:
		return machine.PWM5
	case 6:
		return machine.PWM6
	case 7:
		return machine.PWM7
	}
	return machine.PWM0
}
