package core

// GPIOPin identifies a hardware GPIO pin number
type GPIOPin uint32

// PinChange selects which edges fire a pin interrupt
type PinChange uint8

const (
	PinRising  PinChange = 1 << iota // low -> high
	PinFalling                       // high -> low
	PinToggle  = PinRising | PinFalling
)

// PinHandler is called from interrupt context when a configured edge fires.
// It must not block or allocate.
type PinHandler func(pin GPIOPin)

// GPIODriver is the abstract GPIO interface that core code uses.
// Platform-specific implementations handle actual hardware control.
type GPIODriver interface {
	// ConfigureOutput configures a pin as a digital output
	// Returns error if pin is invalid or already in use
	ConfigureOutput(pin GPIOPin) error

	// ConfigureInputPullUp configures a pin as a digital input with pull-up resistor
	ConfigureInputPullUp(pin GPIOPin) error

	// ConfigureInputPullDown configures a pin as a digital input with pull-down resistor
	ConfigureInputPullDown(pin GPIOPin) error

	// SetPin sets the pin to high (true) or low (false)
	SetPin(pin GPIOPin, value bool) error

	// GetPin reads the current pin state
	GetPin(pin GPIOPin) (bool, error)

	// ReadPin reads the current pin state (alias for GetPin for convenience)
	ReadPin(pin GPIOPin) bool

	// SetInterrupt attaches handler to the given edges of an input pin.
	// A nil handler detaches any existing one.
	SetInterrupt(pin GPIOPin, change PinChange, handler PinHandler) error
}
