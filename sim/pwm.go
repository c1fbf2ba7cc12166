package sim

import (
	"fmt"
	"sync"

	"coilwinder/core"
)

type pwmChannel struct {
	frequency uint32
	duty      core.PWMValue
	enabled   bool
}

// PWM is an in-memory core.PWMDriver
type PWM struct {
	mu       sync.Mutex
	channels map[core.PWMPin]*pwmChannel
}

func NewPWM() *PWM {
	return &PWM{channels: make(map[core.PWMPin]*pwmChannel)}
}

func (p *PWM) ConfigurePWM(pin core.PWMPin, frequencyHz uint32) error {
	if frequencyHz == 0 {
		return fmt.Errorf("sim: pwm pin %d: zero frequency", pin)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.channels[pin]
	if !ok {
		ch = &pwmChannel{}
		p.channels[pin] = ch
	}
	ch.frequency = frequencyHz
	ch.enabled = true
	return nil
}

func (p *PWM) SetDutyCycle(pin core.PWMPin, value core.PWMValue) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.channels[pin]
	if !ok || !ch.enabled {
		return fmt.Errorf("sim: pwm pin %d not configured", pin)
	}
	ch.duty = value
	return nil
}

func (p *PWM) GetMaxValue() core.PWMValue {
	return core.MaxDuty
}

func (p *PWM) DisablePWM(pin core.PWMPin) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok := p.channels[pin]; ok {
		ch.enabled = false
	}
	return nil
}

// Duty returns the last duty written to pin and whether PWM is running
func (p *PWM) Duty(pin core.PWMPin) (core.PWMValue, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.channels[pin]
	if !ok {
		return 0, false
	}
	return ch.duty, ch.enabled
}

// Frequency returns the configured carrier frequency
func (p *PWM) Frequency(pin core.PWMPin) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok := p.channels[pin]; ok {
		return ch.frequency
	}
	return 0
}
