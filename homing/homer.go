// Package homing finds the traversal guide's home position with a single
// optical limit sensor.
package homing

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"coilwinder/core"
	"coilwinder/stepper"
)

var log = core.NewLogger("homing")

// State of the homing sequence
type State int32

const (
	StateUnknown State = iota
	StateNearHome
	StateSeeking
	StateBackingOff
	StateRefining
	StateRecovering
	StateHomed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "UNKNOWN"
	case StateNearHome:
		return "NEAR_HOME"
	case StateSeeking:
		return "SEEKING"
	case StateBackingOff:
		return "BACKING_OFF"
	case StateRefining:
		return "REFINING"
	case StateRecovering:
		return "RECOVERING"
	case StateHomed:
		return "HOMED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type Config struct {
	SensorPin   core.GPIOPin
	ActiveLow   bool
	Toward      stepper.Direction // toward the sensor
	Chunk       int               // seek steps between sensor reads
	MaxSteps    int
	Backoff     int
	StepDelay   time.Duration
	RefineDelay time.Duration
}

// DefaultConfig homes toward the inside sensor on pin 18, counterclockwise
func DefaultConfig() Config {
	return Config{
		SensorPin:   18,
		ActiveLow:   true,
		Toward:      stepper.CounterClockwise,
		Chunk:       25,
		MaxSteps:    20000,
		Backoff:     200,
		StepDelay:   2 * time.Millisecond,
		RefineDelay: 2 * time.Millisecond,
	}
}

// Result splits the steps taken by phase
type Result struct {
	Seek                 int
	Backoff              int
	Refine               int
	Recovery             int
	RecoveredViaFallback bool
	NearHome             bool

	NetSteps     int // seek - backoff + refine
	Revolutions  float64
	ImpliedTurns float64 // zero when winding geometry is unknown
}

// Total returns every step consumed
func (r *Result) Total() int {
	return r.Seek + r.Backoff + r.Refine + r.Recovery
}

type positioner interface {
	SetPosition(pos int64)
}

// Homer runs the homing sequence on the traversal motor
type Homer struct {
	motor        stepper.Motor
	gpio         core.GPIODriver
	clk          core.Clock
	cfg          Config
	stepsPerRev  int
	stepsPerTurn float64
	state        atomic.Int32
}

func New(m stepper.Motor, gpio core.GPIODriver, clk core.Clock, cfg Config) (*Homer, error) {
	def := DefaultConfig()
	if cfg.Chunk <= 0 {
		cfg.Chunk = def.Chunk
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = def.MaxSteps
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = def.Backoff
	}
	if !cfg.Toward.Valid() {
		cfg.Toward = def.Toward
	}
	var err error
	if cfg.ActiveLow {
		err = gpio.ConfigureInputPullUp(cfg.SensorPin)
	} else {
		err = gpio.ConfigureInputPullDown(cfg.SensorPin)
	}
	if err != nil {
		return nil, err
	}
	return &Homer{motor: m, gpio: gpio, clk: clk, cfg: cfg, stepsPerRev: 200}, nil
}

// SetGeometry enables the implied-turns diagnostic
func (h *Homer) SetGeometry(stepsPerRev int, stepsPerTurn float64) {
	if stepsPerRev > 0 {
		h.stepsPerRev = stepsPerRev
	}
	h.stepsPerTurn = stepsPerTurn
}

// State returns the current phase; safe from any goroutine
func (h *Homer) State() State {
	return State(h.state.Load())
}

func (h *Homer) setState(s State) {
	h.state.Store(int32(s))
	log.Debugf("state %s", s)
}

// AtHome reports whether the sensor is active
func (h *Homer) AtHome() bool {
	return h.gpio.ReadPin(h.cfg.SensorPin) != h.cfg.ActiveLow
}

// Home runs the sequence. The motor is disabled on every return path.
func (h *Homer) Home(ctx context.Context) (res *Result, err error) {
	res = &Result{}
	h.setState(StateUnknown)
	defer func() {
		if derr := h.motor.Disable(); derr != nil && err == nil {
			err = derr
		}
		if err != nil {
			h.setState(StateFailed)
			log.Errorf("homing failed: %v", err)
		}
	}()

	toward, away := h.cfg.Toward, h.cfg.Toward.Opposite()

	if h.AtHome() {
		res.NearHome = true
		h.setState(StateNearHome)
		log.Infof("already at home, running backoff and refine")
	} else {
		h.setState(StateSeeking)
		if err := stepper.Prepare(ctx, h.clk, h.motor, toward); err != nil {
			return res, err
		}
		for !h.AtHome() && res.Seek < h.cfg.MaxSteps {
			n, err := h.pulses(ctx, min(h.cfg.Chunk, h.cfg.MaxSteps-res.Seek), h.cfg.StepDelay)
			res.Seek += n
			if err != nil {
				return res, err
			}
		}
		if !h.AtHome() {
			return res, fmt.Errorf("%w: sensor not reached after %d steps", core.ErrHomingTimeout, res.Seek)
		}
	}

	h.setState(StateBackingOff)
	if err := stepper.Prepare(ctx, h.clk, h.motor, away); err != nil {
		return res, err
	}
	n, err := h.pulses(ctx, h.cfg.Backoff, h.cfg.StepDelay)
	res.Backoff = n
	if err != nil {
		return res, err
	}
	if h.AtHome() {
		log.Warnf("%v: sensor still active after %d backoff steps", core.ErrSensorFault, n)
	}

	h.setState(StateRefining)
	n, err = h.seek(ctx, toward, h.cfg.Backoff)
	res.Refine = n
	if err != nil {
		return res, err
	}
	if !h.AtHome() {
		log.Warnf("refine toward home missed, trying the opposite direction")
		n, err = h.seek(ctx, away, 2*h.cfg.Backoff)
		res.Refine += n
		if err != nil {
			return res, err
		}
	}

	if !h.AtHome() {
		h.setState(StateRecovering)
		log.Warnf("refine did not reacquire home, widening the search")
		for _, dir := range []stepper.Direction{toward, away} {
			n, err = h.seek(ctx, dir, h.cfg.MaxSteps)
			res.Recovery += n
			if err != nil {
				return res, err
			}
			if h.AtHome() {
				break
			}
		}
		if !h.AtHome() {
			return res, fmt.Errorf("%w: refine %d steps, recovery %d steps", core.ErrHomingUnrecoverable, res.Refine, res.Recovery)
		}
		res.RecoveredViaFallback = true
	}

	res.NetSteps = res.Seek - res.Backoff + res.Refine
	res.Revolutions = float64(res.NetSteps) / float64(h.stepsPerRev)
	if h.stepsPerTurn > 0 {
		res.ImpliedTurns = float64(res.NetSteps) / h.stepsPerTurn
	}
	if p, ok := h.motor.(positioner); ok {
		p.SetPosition(0)
	}
	h.setState(StateHomed)
	log.Infof("homed: net %d steps (seek %d, backoff %d, refine %d, recovery %d)",
		res.NetSteps, res.Seek, res.Backoff, res.Refine, res.Recovery)
	return res, nil
}

// seek steps one pulse at a time toward dir until the sensor trips or
// limit steps are taken
func (h *Homer) seek(ctx context.Context, dir stepper.Direction, limit int) (int, error) {
	if h.AtHome() {
		return 0, nil
	}
	if err := stepper.Prepare(ctx, h.clk, h.motor, dir); err != nil {
		return 0, err
	}
	steps := 0
	for steps < limit && !h.AtHome() {
		n, err := h.pulses(ctx, 1, h.cfg.RefineDelay)
		steps += n
		if err != nil {
			return steps, err
		}
	}
	return steps, nil
}

func (h *Homer) pulses(ctx context.Context, n int, delay time.Duration) (int, error) {
	for i := 0; i < n; i++ {
		if err := h.motor.Pulse(); err != nil {
			return i, err
		}
		if err := h.clk.Sleep(ctx, delay); err != nil {
			return i + 1, core.Cancelled(err)
		}
	}
	return n, nil
}
