package core

// GPIOStepper is a StepperBackend that toggles pins through a GPIODriver.
// Pulse width is whatever two consecutive pin writes take, which is enough
// for A4988/DRV8825 class drivers on every supported target.
type GPIOStepper struct {
	gpio       GPIODriver
	stepPin    GPIOPin
	dirPin     GPIOPin
	invertStep bool
	invertDir  bool
	direction  bool
}

// NewGPIOStepper creates a GPIO step/dir backend on the given driver
func NewGPIOStepper(gpio GPIODriver) *GPIOStepper {
	return &GPIOStepper{gpio: gpio}
}

// Init configures both pins as outputs with step idle and direction low
func (s *GPIOStepper) Init(stepPin, dirPin GPIOPin, invertStep, invertDir bool) error {
	s.stepPin = stepPin
	s.dirPin = dirPin
	s.invertStep = invertStep
	s.invertDir = invertDir

	if err := s.gpio.ConfigureOutput(stepPin); err != nil {
		return err
	}
	if err := s.gpio.ConfigureOutput(dirPin); err != nil {
		return err
	}
	if err := s.gpio.SetPin(stepPin, invertStep); err != nil {
		return err
	}
	s.SetDirection(false)
	return nil
}

// Step generates a single step pulse
func (s *GPIOStepper) Step() {
	s.gpio.SetPin(s.stepPin, !s.invertStep)
	s.gpio.SetPin(s.stepPin, s.invertStep)
}

// SetDirection sets the direction output
func (s *GPIOStepper) SetDirection(dir bool) {
	s.direction = dir
	s.gpio.SetPin(s.dirPin, dir != s.invertDir)
}

// Stop returns the step pin to idle
func (s *GPIOStepper) Stop() {
	s.gpio.SetPin(s.stepPin, s.invertStep)
}

// GetName returns the backend name
func (s *GPIOStepper) GetName() string {
	return "GPIO"
}
