package core

// StepperBackend defines the hardware abstraction for step/dir pulse output.
// Implementations can use GPIO, PIO, or other methods
type StepperBackend interface {
	// Init initializes the stepper hardware
	// stepPin: GPIO pin for step pulses
	// dirPin: GPIO pin for direction signal
	// invertStep: invert step pin polarity
	// invertDir: invert direction pin polarity
	Init(stepPin, dirPin GPIOPin, invertStep, invertDir bool) error

	// Step generates a single step pulse
	// Must handle pulse width timing internally
	Step()

	// SetDirection sets the direction output
	// dir: true = dir pin high (clockwise), false = low
	SetDirection(dir bool)

	// Stop immediately halts stepping and leaves the step pin idle
	Stop()

	// GetName returns backend implementation name
	GetName() string
}

// StepperBackendInfo provides information about available backends
type StepperBackendInfo struct {
	Name          string
	MaxStepRate   uint32 // Maximum steps/second
	MinPulseNs    uint32 // Minimum step pulse width (ns)
	TypicalJitter uint32 // Typical timing jitter (ns)
}
