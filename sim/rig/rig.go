// Package rig assembles a complete simulated winder: spindle physics on the
// simulated PWM and encoder input, a step/dir traversal with a home sensor
// derived from its position, and the 4-coil wire-guide stepper behind the
// queued executor.
package rig

import (
	"context"
	"time"

	"coilwinder/core"
	"coilwinder/encoder"
	"coilwinder/homing"
	"coilwinder/sim"
	"coilwinder/spindle"
	"coilwinder/stepper"
	"coilwinder/winder"
)

// Bench wiring shared with the RP2040 target
const EncoderPin core.GPIOPin = 17

var CoilPins = [4]core.GPIOPin{6, 7, 8, 9}

// Options shape the simulated machine
type Options struct {
	SlotsPerRev   int
	MaxRPM        float64
	TimeConstant  time.Duration
	StartPosition int64 // traversal position at power-up
	HomeAt        int64 // home sensor is active at or below this position
	Homing        homing.Config
	Executor      stepper.ExecutorConfig
	Config        *winder.Config // nil selects winder.DefaultConfig(20)
}

func DefaultOptions() Options {
	return Options{
		SlotsPerRev:   spindle.DefaultSlotsPerRev,
		MaxRPM:        240,
		TimeConstant:  150 * time.Millisecond,
		StartPosition: 400,
		Homing:        homing.DefaultConfig(),
		Executor:      stepper.DefaultExecutorConfig(),
	}
}

// Rig is a running simulated machine
type Rig struct {
	Clock     core.Clock
	GPIO      *sim.GPIO
	PWM       *sim.PWM
	Spindle   *sim.Spindle
	Scheduler *core.Scheduler
	Traversal *stepper.Driver
	Coils     *stepper.Coils
	Executor  *stepper.Executor
	Hardware  winder.Hardware
	Machine   *winder.Machine
}

// New builds the machine and starts its background loops (deferred callback
// scheduler, spindle model, executor queue processor) until ctx is done
func New(ctx context.Context, opts Options) (*Rig, error) {
	r := &Rig{
		Clock:     core.NewSystemClock(),
		GPIO:      sim.NewGPIO(),
		PWM:       sim.NewPWM(),
		Scheduler: core.NewScheduler(),
	}

	motorCfg := spindle.DefaultMotorConfig()
	motor, err := spindle.NewMotor(r.PWM, motorCfg)
	if err != nil {
		return nil, err
	}
	enc, err := encoder.New(r.GPIO, r.Clock, r.Scheduler, encoder.DefaultConfig(EncoderPin))
	if err != nil {
		return nil, err
	}
	r.Traversal, err = stepper.NewDriver(r.GPIO, core.NewGPIOStepper(r.GPIO), stepper.DefaultDriverConfig())
	if err != nil {
		return nil, err
	}
	r.Traversal.SetPosition(opts.StartPosition)

	homer, err := homing.New(r.Traversal, r.GPIO, r.Clock, opts.Homing)
	if err != nil {
		return nil, err
	}
	home := opts.HomeAt
	r.GPIO.SetInputFunc(opts.Homing.SensorPin, func() bool {
		active := r.Traversal.Position() <= home
		return active != opts.Homing.ActiveLow
	})

	r.Coils, err = stepper.NewCoils(r.GPIO, CoilPins)
	if err != nil {
		return nil, err
	}
	r.Executor = stepper.NewExecutor(r.Coils, r.Clock, opts.Executor)

	model := sim.DefaultSpindleConfig(motorCfg.Pin, EncoderPin)
	if opts.SlotsPerRev > 0 {
		model.SlotsPerRev = opts.SlotsPerRev
	}
	if opts.MaxRPM > 0 {
		model.MaxRPM = opts.MaxRPM
	}
	if opts.TimeConstant > 0 {
		model.TimeConstant = opts.TimeConstant
	}
	r.Spindle = sim.NewSpindle(model, r.PWM, r.GPIO)

	r.Hardware = winder.Hardware{
		Clock:     r.Clock,
		Spindle:   motor,
		Encoder:   enc,
		Traversal: r.Traversal,
		Homer:     homer,
	}
	r.Machine, err = winder.NewMachine(opts.Config, r.Hardware, r.Executor)
	if err != nil {
		return nil, err
	}

	go r.Scheduler.Run(ctx, r.Clock, time.Millisecond)
	go r.Spindle.Run(ctx)
	go r.Executor.Run(ctx, 10*time.Millisecond)
	return r, nil
}
