//go:build rp2040

package main

import "coilwinder/core"

// Bench wiring on the Pico. Traversal and spindle pins match the package
// defaults in stepper, spindle and homing.
const (
	encoderPin core.GPIOPin = 17
	ledPin     core.GPIOPin = 25
)

var coilPins = [4]core.GPIOPin{6, 7, 8, 9}

// traversal step backend: PIO0 state machine 0, or plain GPIO
const usePIOStepper = true
