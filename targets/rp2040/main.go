//go:build rp2040

// Firmware for the RP2040 winder board. The console is served over USB CDC
// inside CRC-checked frames; the host side lives in host/board.
package main

import (
	"context"
	"machine"
	"time"

	"coilwinder/console"
	"coilwinder/core"
	"coilwinder/encoder"
	"coilwinder/homing"
	"coilwinder/protocol"
	"coilwinder/spindle"
	"coilwinder/stepper"
	"coilwinder/winder"
)

var log = core.NewLogger("board")

func main() {
	// clear watchdog state left over from a previous reset
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}
	InitUSB()

	ctx := context.Background()
	clk := timerClock{}
	sched := core.NewScheduler()
	gpio := NewRPGPIODriver()
	pwm := NewRP2040PWMDriver()

	gpio.ConfigureOutput(ledPin)
	gpio.SetPin(ledPin, true)

	m, exec, err := buildMachine(gpio, pwm, clk, sched)
	if err != nil {
		fatal(gpio, err)
	}

	go sched.Run(ctx, clk, time.Millisecond)
	go exec.Run(ctx, 10*time.Millisecond)

	link := &usbLink{}
	con := console.New(ctx, m)
	ep := protocol.NewEndpoint(link, con.Execute)
	log.Infof("ready: %d slots/rev, backend %s", m.Config().SlotsPerRev, backendName())

	buf := make([]byte, 64)
	for {
		n := readAvailable(buf)
		if n == 0 {
			if link.disconnected {
				// host went away mid-job; do not keep winding blind
				link.disconnected = false
				if m.Busy() {
					log.Warnf("host lost, stopping")
					m.Stop()
				}
			}
			time.Sleep(time.Millisecond)
			continue
		}
		if err := ep.Receive(buf[:n]); err != nil {
			log.Debugf("link write: %v", err)
		}
	}
}

func backendName() string {
	if usePIOStepper {
		return "PIO"
	}
	return "GPIO"
}

func buildMachine(gpio core.GPIODriver, pwm core.PWMDriver, clk core.Clock, sched *core.Scheduler) (*winder.Machine, *stepper.Executor, error) {
	motor, err := spindle.NewMotor(pwm, spindle.DefaultMotorConfig())
	if err != nil {
		return nil, nil, err
	}
	enc, err := encoder.New(gpio, clk, sched, encoder.DefaultConfig(encoderPin))
	if err != nil {
		return nil, nil, err
	}

	var backend core.StepperBackend = NewStepperGPIO()
	if usePIOStepper {
		backend = NewPIOStepper(0, 0)
	}
	traversal, err := stepper.NewDriver(gpio, backend, stepper.DefaultDriverConfig())
	if err != nil {
		return nil, nil, err
	}
	homer, err := homing.New(traversal, gpio, clk, homing.DefaultConfig())
	if err != nil {
		return nil, nil, err
	}

	coils, err := stepper.NewCoils(gpio, coilPins)
	if err != nil {
		return nil, nil, err
	}
	exec := stepper.NewExecutor(coils, clk, stepper.DefaultExecutorConfig())

	hw := winder.Hardware{
		Clock:     clk,
		Spindle:   motor,
		Encoder:   enc,
		Traversal: traversal,
		Homer:     homer,
	}
	m, err := winder.NewMachine(nil, hw, exec)
	if err != nil {
		return nil, nil, err
	}
	return m, exec, nil
}

// fatal blinks the LED forever
func fatal(gpio core.GPIODriver, err error) {
	log.Errorf("startup: %v", err)
	on := false
	for {
		on = !on
		gpio.SetPin(ledPin, on)
		time.Sleep(200 * time.Millisecond)
	}
}
