package stepper

import (
	"sync/atomic"
	"time"

	"coilwinder/core"
)

// DefaultDirSetup is the wait between a direction change and the next pulse
const DefaultDirSetup = 5 * time.Millisecond

// DriverConfig wires a step/dir/enable driver
type DriverConfig struct {
	StepPin      core.GPIOPin
	DirPin       core.GPIOPin
	EnablePin    core.GPIOPin
	InvertStep   bool
	InvertDir    bool
	InvertEnable bool // true when EN is active-low (A4988, DRV8825)
	DirSetup     time.Duration
}

// DefaultDriverConfig uses the traversal wiring: DIR 0, STEP 1, EN 2
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		StepPin:      1,
		DirPin:       0,
		EnablePin:    2,
		InvertEnable: true,
		DirSetup:     DefaultDirSetup,
	}
}

// Driver is a NEMA17-class stepper behind a step/dir/enable driver
type Driver struct {
	cfg      DriverConfig
	gpio     core.GPIODriver
	backend  core.StepperBackend
	dir      Direction
	enabled  atomic.Bool
	position atomic.Int64
}

// NewDriver initializes the backend and leaves the driver disabled
func NewDriver(gpio core.GPIODriver, backend core.StepperBackend, cfg DriverConfig) (*Driver, error) {
	if err := backend.Init(cfg.StepPin, cfg.DirPin, cfg.InvertStep, cfg.InvertDir); err != nil {
		return nil, err
	}
	if err := gpio.ConfigureOutput(cfg.EnablePin); err != nil {
		return nil, err
	}
	d := &Driver{cfg: cfg, gpio: gpio, backend: backend, dir: Clockwise}
	if err := d.Disable(); err != nil {
		return nil, err
	}
	return d, nil
}

// Enable enables the stepper motor
func (d *Driver) Enable() error {
	if err := d.gpio.SetPin(d.cfg.EnablePin, !d.cfg.InvertEnable); err != nil {
		return err
	}
	d.enabled.Store(true)
	return nil
}

// Disable stops the backend and disables the stepper motor
func (d *Driver) Disable() error {
	d.backend.Stop()
	d.enabled.Store(false)
	return d.gpio.SetPin(d.cfg.EnablePin, d.cfg.InvertEnable)
}

// SetDirection sets the dir output; clockwise drives it high
func (d *Driver) SetDirection(dir Direction) error {
	d.dir = dir
	d.backend.SetDirection(dir == Clockwise)
	return nil
}

// Pulse emits one step. Stepping a disabled driver is an error.
func (d *Driver) Pulse() error {
	if !d.enabled.Load() {
		return core.ErrMotorDisabled
	}
	d.backend.Step()
	d.position.Add(int64(d.dir))
	return nil
}

// DirectionSetup returns the wait required after SetDirection
func (d *Driver) DirectionSetup() time.Duration {
	return d.cfg.DirSetup
}

// Enabled reports whether the enable line is asserted
func (d *Driver) Enabled() bool {
	return d.enabled.Load()
}

// Position returns the signed step count since start (clockwise positive)
func (d *Driver) Position() int64 {
	return d.position.Load()
}

// SetPosition redefines the current position, used after homing
func (d *Driver) SetPosition(pos int64) {
	d.position.Store(pos)
}

// Backend returns the backend name for status output
func (d *Driver) Backend() string {
	return d.backend.GetName()
}
