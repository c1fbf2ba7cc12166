package core

// PWMPin identifies a hardware pin capable of PWM output
type PWMPin uint32

// PWMValue is a 16-bit duty cycle value (0 to MaxDuty)
type PWMValue uint16

// MaxDuty is the full-scale 16-bit duty cycle
const MaxDuty PWMValue = 65535

// PWMDriver is the abstract PWM interface that core code uses.
// Platform-specific implementations handle actual hardware control.
type PWMDriver interface {
	// ConfigurePWM configures a pin for hardware PWM output at the given
	// carrier frequency.
	ConfigurePWM(pin PWMPin, frequencyHz uint32) error

	// SetDutyCycle sets the PWM duty cycle for a pin
	// value: 0 (output low) to GetMaxValue() (output high)
	SetDutyCycle(pin PWMPin, value PWMValue) error

	// GetMaxValue returns the maximum PWM value
	GetMaxValue() PWMValue

	// DisablePWM stops PWM output on a pin
	DisablePWM(pin PWMPin) error
}
