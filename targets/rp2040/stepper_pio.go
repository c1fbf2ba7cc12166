//go:build rp2040

package main

import (
	"errors"
	"machine"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"

	"coilwinder/core"
)

// Step pulse program. Each FIFO word is one burst:
//
//	bits 0-15:  pulse count minus one
//	bits 16-23: delay loops between pulses
//	bit 24:     direction level
func buildStepProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		asm.Pull(false, true).Encode(),          // 0: pull block
		asm.Out(rp2pio.OutDestX, 16).Encode(),   // 1: count
		asm.Out(rp2pio.OutDestY, 8).Encode(),    // 2: delay
		asm.Out(rp2pio.OutDestPins, 1).Encode(), // 3: direction
		// pulse:
		asm.Set(rp2pio.SetDestPins, 1).Delay(7).Encode(), // 4
		asm.Set(rp2pio.SetDestPins, 0).Encode(),          // 5
		asm.Jmp(6, rp2pio.JmpYNZeroDec).Encode(),         // 6: y--
		asm.Jmp(4, rp2pio.JmpXNZeroDec).Encode(),         // 7: x--
	}
}

// PIOStepper is a core.StepperBackend that hands pulses to a PIO state
// machine. Pulse width is fixed by the program, so step timing does not
// depend on the CPU.
type PIOStepper struct {
	pio        *rp2pio.PIO
	sm         rp2pio.StateMachine
	stepPin    machine.Pin
	dirPin     machine.Pin
	invertStep bool
	invertDir  bool
	direction  bool
}

// NewPIOStepper claims state machine smNum on PIO block pioNum (0 or 1)
func NewPIOStepper(pioNum, smNum uint8) *PIOStepper {
	hw := rp2pio.PIO0
	if pioNum != 0 {
		hw = rp2pio.PIO1
	}
	return &PIOStepper{pio: hw, sm: hw.StateMachine(smNum)}
}

func (b *PIOStepper) Init(stepPin, dirPin core.GPIOPin, invertStep, invertDir bool) error {
	if invertStep {
		return errors.New("pio stepper: inverted step output not supported")
	}
	b.stepPin = machine.Pin(stepPin)
	b.dirPin = machine.Pin(dirPin)
	b.invertStep = invertStep
	b.invertDir = invertDir

	b.sm.TryClaim()
	program := buildStepProgram()
	offset, err := b.pio.AddProgram(program, 0)
	if err != nil {
		return err
	}

	b.stepPin.Configure(machine.PinConfig{Mode: b.pio.PinMode()})
	b.dirPin.Configure(machine.PinConfig{Mode: b.pio.PinMode()})

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetSetPins(b.stepPin, 1)
	cfg.SetOutPins(b.dirPin, 1)
	cfg.SetOutShift(true, false, 32)
	cfg.SetWrap(offset+uint8(len(program))-1, offset)
	// 125 MHz / 125: 1 µs per cycle, 8 µs step pulse
	cfg.SetClkDivIntFrac(125, 0)

	// pin directions must follow Init
	b.sm.Init(offset, cfg)
	b.sm.SetPindirsConsecutive(b.stepPin, 1, true)
	b.sm.SetPindirsConsecutive(b.dirPin, 1, true)
	b.sm.SetPinsConsecutive(b.stepPin, 1, false)
	b.sm.SetPinsConsecutive(b.dirPin, 1, invertDir)
	b.sm.SetEnabled(true)
	return nil
}

// Step queues a single pulse; it only blocks while the TX FIFO is full
func (b *PIOStepper) Step() {
	cmd := uint32(0) | 1<<16
	if b.direction != b.invertDir {
		cmd |= 1 << 24
	}
	for b.sm.IsTxFIFOFull() {
	}
	b.sm.TxPut(cmd)
}

func (b *PIOStepper) SetDirection(dir bool) {
	b.direction = dir
}

// Stop drops queued pulses and restarts the program at the pull
func (b *PIOStepper) Stop() {
	b.sm.SetEnabled(false)
	b.sm.ClearFIFOs()
	b.sm.Restart()
	b.sm.SetPinsConsecutive(b.stepPin, 1, false)
	b.sm.SetEnabled(true)
}

func (b *PIOStepper) GetName() string {
	return "PIO"
}

func (b *PIOStepper) GetInfo() core.StepperBackendInfo {
	return core.StepperBackendInfo{
		Name:          b.GetName(),
		MaxStepRate:   100000,
		MinPulseNs:    8000,
		TypicalJitter: 10,
	}
}
