package core

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidGeometry rejects a bad gauge or dimension before any motion
	ErrInvalidGeometry = errors.New("invalid winding geometry")

	// ErrQueueFull rejects a motor command; the caller may retry
	ErrQueueFull = errors.New("queue is full")

	// ErrHomingTimeout means the seek budget ran out without the sensor tripping
	ErrHomingTimeout = errors.New("homing timed out")

	// ErrHomingUnrecoverable means refine and recovery both failed
	ErrHomingUnrecoverable = errors.New("homing unrecoverable")

	// ErrSensorFault flags an unexpected sensor read pattern
	ErrSensorFault = errors.New("sensor fault")

	// ErrCancelled marks an operator interrupt
	ErrCancelled = errors.New("cancelled")

	// ErrMotorDisabled is returned when stepping a driver whose enable line is off
	ErrMotorDisabled = errors.New("motor not enabled")
)

// Cancelled wraps a context error so callers can match ErrCancelled as well
// as context.Canceled or context.DeadlineExceeded. Other errors pass through.
func Cancelled(err error) error {
	if err == nil || errors.Is(err, ErrCancelled) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return err
}
