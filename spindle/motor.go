// Package spindle drives the winding spindle's brushed motor and closes a
// proportional speed loop around the encoder slot count.
package spindle

import (
	"fmt"
	"sync/atomic"

	"coilwinder/core"
)

// DefaultPWMFrequency is the carrier for the BJT gate drive
const DefaultPWMFrequency = 60

// MotorConfig wires the PWM output
type MotorConfig struct {
	Pin         core.PWMPin
	FrequencyHz uint32
	Inverted    bool // full duty turns the motor off
}

// DefaultMotorConfig is the BJT gate on pin 4, which inverts the output
func DefaultMotorConfig() MotorConfig {
	return MotorConfig{Pin: 4, FrequencyHz: DefaultPWMFrequency, Inverted: true}
}

// Motor is a PWM-driven brushed motor. Duty values are raw output duty, so
// on an inverted gate a lower value runs the motor faster.
type Motor struct {
	pwm  core.PWMDriver
	cfg  MotorConfig
	duty atomic.Uint32
}

// NewMotor configures the PWM output and leaves the motor off
func NewMotor(pwm core.PWMDriver, cfg MotorConfig) (*Motor, error) {
	if cfg.FrequencyHz == 0 {
		cfg.FrequencyHz = DefaultPWMFrequency
	}
	if err := pwm.ConfigurePWM(cfg.Pin, cfg.FrequencyHz); err != nil {
		return nil, fmt.Errorf("spindle pwm: %w", err)
	}
	m := &Motor{pwm: pwm, cfg: cfg}
	if err := m.Off(); err != nil {
		return nil, err
	}
	return m, nil
}

// OffDuty is the output duty that stops the motor
func (m *Motor) OffDuty() core.PWMValue {
	if m.cfg.Inverted {
		return core.MaxDuty
	}
	return 0
}

// Inverted reports whether a higher duty means a slower motor
func (m *Motor) Inverted() bool {
	return m.cfg.Inverted
}

// SetDuty writes a raw output duty
func (m *Motor) SetDuty(v core.PWMValue) error {
	if err := m.pwm.SetDutyCycle(m.cfg.Pin, v); err != nil {
		return err
	}
	m.duty.Store(uint32(v))
	return nil
}

// Duty returns the last written output duty
func (m *Motor) Duty() core.PWMValue {
	return core.PWMValue(m.duty.Load())
}

// Running reports whether the output is away from the off level
func (m *Motor) Running() bool {
	return m.Duty() != m.OffDuty()
}

// Off drives the off level and keeps the PWM output configured
func (m *Motor) Off() error {
	return m.SetDuty(m.OffDuty())
}

// EmergencyStop forces the off level, then releases the PWM slice
func (m *Motor) EmergencyStop() error {
	err := m.Off()
	if derr := m.pwm.DisablePWM(m.cfg.Pin); err == nil {
		err = derr
	}
	return err
}

// Resume reconfigures the PWM after EmergencyStop and leaves the motor off
func (m *Motor) Resume() error {
	if err := m.pwm.ConfigurePWM(m.cfg.Pin, m.cfg.FrequencyHz); err != nil {
		return err
	}
	return m.Off()
}
