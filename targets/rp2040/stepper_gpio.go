//go:build rp2040

package main

import (
	"machine"
	"time"

	"tinygo.org/x/drivers/delay"

	"coilwinder/core"
)

// pulseWidth covers the A4988 (1 µs) and DRV8825 (1.9 µs) minimums
const pulseWidth = 3 * time.Microsecond

// StepperGPIO drives step/dir straight from machine.Pin, with a calibrated
// busy wait for the pulse and the dir-to-step setup time
type StepperGPIO struct {
	stepPin    machine.Pin
	dirPin     machine.Pin
	invertStep bool
	invertDir  bool
	direction  bool
}

func NewStepperGPIO() *StepperGPIO {
	return &StepperGPIO{}
}

func (s *StepperGPIO) Init(stepPin, dirPin core.GPIOPin, invertStep, invertDir bool) error {
	s.stepPin = machine.Pin(stepPin)
	s.dirPin = machine.Pin(dirPin)
	s.invertStep = invertStep
	s.invertDir = invertDir

	s.stepPin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	s.dirPin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	s.stepPin.Set(invertStep)
	s.SetDirection(false)
	return nil
}

func (s *StepperGPIO) Step() {
	s.stepPin.Set(!s.invertStep)
	delay.Sleep(pulseWidth)
	s.stepPin.Set(s.invertStep)
}

func (s *StepperGPIO) SetDirection(dir bool) {
	changed := dir != s.direction
	s.direction = dir
	s.dirPin.Set(dir != s.invertDir)
	if changed {
		delay.Sleep(time.Microsecond)
	}
}

func (s *StepperGPIO) Stop() {
	s.stepPin.Set(s.invertStep)
}

func (s *StepperGPIO) GetName() string {
	return "GPIO"
}
