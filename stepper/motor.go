// Package stepper drives the two stepper families of the winder: the 4-coil
// wire-guide motor behind a ULN2003 and the step/dir/enable traversal motor.
// Both satisfy Motor, which is what the queued executor and the traversal
// synchronizer consume.
package stepper

import (
	"context"
	"fmt"
	"time"

	"coilwinder/core"
)

// Direction of rotation. Forward on a step/dir driver sets the dir pin high
// (clockwise); on the 4-coil motor it walks the phase table upwards.
type Direction int8

const (
	Forward Direction = 1
	Reverse Direction = -1

	Clockwise        = Forward
	CounterClockwise = Reverse
)

// Valid reports whether d is one of the two directions
func (d Direction) Valid() bool {
	return d == Forward || d == Reverse
}

// Opposite returns the reverse direction
func (d Direction) Opposite() Direction {
	return -d
}

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Reverse:
		return "reverse"
	default:
		return fmt.Sprintf("direction(%d)", int8(d))
	}
}

// ParseDirection maps +1/-1 (or any positive/negative value) to a direction
func ParseDirection(v int) (Direction, error) {
	switch {
	case v > 0:
		return Forward, nil
	case v < 0:
		return Reverse, nil
	}
	return 0, fmt.Errorf("direction must be 1 or -1, got %d", v)
}

// Motor is a stepper that can be pulsed one step at a time
type Motor interface {
	// Enable energizes the driver so pulses move the rotor
	Enable() error
	// Disable de-energizes the driver
	Disable() error
	// SetDirection selects the direction of the following pulses
	SetDirection(dir Direction) error
	// Pulse moves one step in the current direction
	Pulse() error
}

// DirectionSetter is implemented by motors that need a settle time between
// a direction change and the next pulse
type DirectionSetter interface {
	DirectionSetup() time.Duration
}

// Prepare enables m, selects dir and waits out any direction setup time
func Prepare(ctx context.Context, clk core.Clock, m Motor, dir Direction) error {
	if err := m.Enable(); err != nil {
		return err
	}
	if err := m.SetDirection(dir); err != nil {
		return err
	}
	if ds, ok := m.(DirectionSetter); ok {
		if err := clk.Sleep(ctx, ds.DirectionSetup()); err != nil {
			return core.Cancelled(err)
		}
	}
	return nil
}

// Move is the blocking move shared by every caller that does not need
// encoder synchronization. It returns the number of pulses performed, which
// is less than steps only when err is non-nil.
func Move(ctx context.Context, clk core.Clock, m Motor, steps int, dir Direction, delay time.Duration) (int, error) {
	if steps <= 0 {
		return 0, nil
	}
	if err := Prepare(ctx, clk, m, dir); err != nil {
		return 0, err
	}
	for i := 0; i < steps; i++ {
		if err := m.Pulse(); err != nil {
			return i, err
		}
		if err := clk.Sleep(ctx, delay); err != nil {
			return i + 1, core.Cancelled(err)
		}
	}
	return steps, nil
}
