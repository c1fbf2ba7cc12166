package spindle

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"coilwinder/core"
)

const (
	DefaultKp          = 32.7675 // duty per cpm of error
	DefaultStartDuty   = 60397
	DefaultInterval    = 200 * time.Millisecond
	DefaultPoll        = 5 * time.Millisecond
	DefaultSlotsPerRev = 20
)

var log = core.NewLogger("spindle")

// SlotCounter is the encoder view the controller needs
type SlotCounter interface {
	Slots() uint64
}

// TargetFunc returns the setpoint in turns per minute
type TargetFunc func(elapsed time.Duration, slots uint64) float64

// ConstantTarget holds one setpoint for the whole pass
func ConstantTarget(cpm float64) TargetFunc {
	return func(time.Duration, uint64) float64 { return cpm }
}

type ControllerConfig struct {
	SlotsPerRev int
	Interval    time.Duration
	Poll        time.Duration // how often Run checks for stop between ticks
	Kp          float64
	StartDuty   core.PWMValue
	MaxCPM      float64 // setpoint cap, zero for none
}

func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		SlotsPerRev: DefaultSlotsPerRev,
		Interval:    DefaultInterval,
		Poll:        DefaultPoll,
		Kp:          DefaultKp,
		StartDuty:   DefaultStartDuty,
	}
}

// Controller is a proportional-only speed loop. There is no integral term:
// load is close to constant and a small steady-state error is tolerated.
type Controller struct {
	motor   *Motor
	counter SlotCounter
	clk     core.Clock
	cfg     ControllerConfig
	target  TargetFunc

	duty      int
	start     time.Duration
	lastTime  time.Duration
	lastSlots uint64

	measured atomic.Uint64 // float64 bits, cpm
	setpoint atomic.Uint64 // float64 bits, cpm
}

func NewController(m *Motor, counter SlotCounter, clk core.Clock, cfg ControllerConfig, target TargetFunc) *Controller {
	def := DefaultControllerConfig()
	if cfg.SlotsPerRev <= 0 {
		cfg.SlotsPerRev = def.SlotsPerRev
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Poll <= 0 {
		cfg.Poll = def.Poll
	}
	if cfg.Kp <= 0 {
		cfg.Kp = def.Kp
	}
	if target == nil {
		target = ConstantTarget(0)
	}
	return &Controller{motor: m, counter: counter, clk: clk, cfg: cfg, target: target}
}

// Reset loads the start duty and takes the measurement baseline
func (c *Controller) Reset(now time.Duration, slots uint64) uint16 {
	c.duty = int(c.cfg.StartDuty)
	c.start = now
	c.lastTime = now
	c.lastSlots = slots
	c.measured.Store(0)
	c.setpoint.Store(0)
	return uint16(c.duty)
}

// Tick runs one control step and returns the new output duty. It does no I/O.
func (c *Controller) Tick(now time.Duration, slots uint64) uint16 {
	dt := now - c.lastTime
	if dt <= 0 {
		return uint16(c.duty)
	}
	var delta uint64
	if slots > c.lastSlots {
		delta = slots - c.lastSlots
	}
	dtMS := float64(dt) / float64(time.Millisecond)
	measured := float64(delta) * 1000 * 60 / (dtMS * float64(c.cfg.SlotsPerRev))

	target := c.target(now-c.start, slots)
	if c.cfg.MaxCPM > 0 && target > c.cfg.MaxCPM {
		target = c.cfg.MaxCPM
	}

	correction := int(math.Round((target - measured) * c.cfg.Kp))
	if c.motor != nil && !c.motor.Inverted() {
		correction = -correction
	}
	c.duty -= correction
	if c.duty < 0 {
		c.duty = 0
	} else if c.duty > int(core.MaxDuty) {
		c.duty = int(core.MaxDuty)
	}

	c.lastTime = now
	c.lastSlots = slots
	c.measured.Store(math.Float64bits(measured))
	c.setpoint.Store(math.Float64bits(target))
	return uint16(c.duty)
}

// Run starts the motor at the start duty and ticks every Interval until
// stop reports true or ctx ends. The motor is left running; the caller owns
// shutdown.
func (c *Controller) Run(ctx context.Context, stop func() bool) error {
	if err := ctx.Err(); err != nil {
		return core.Cancelled(err)
	}
	now := c.clk.Now()
	if err := c.motor.SetDuty(core.PWMValue(c.Reset(now, c.counter.Slots()))); err != nil {
		return err
	}
	log.Debugf("speed loop started at duty %d", c.cfg.StartDuty)

	for stop == nil || !stop() {
		if err := c.clk.Sleep(ctx, c.cfg.Poll); err != nil {
			return core.Cancelled(err)
		}
		now = c.clk.Now()
		if now-c.lastTime < c.cfg.Interval {
			continue
		}
		duty := c.Tick(now, c.counter.Slots())
		if err := c.motor.SetDuty(core.PWMValue(duty)); err != nil {
			return err
		}
		log.Debugf("measured %.1f cpm target %.1f duty %d", c.Measured(), c.Setpoint(), duty)
	}
	return nil
}

// Measured returns the speed seen at the last tick, in cpm
func (c *Controller) Measured() float64 {
	return math.Float64frombits(c.measured.Load())
}

// Setpoint returns the target used at the last tick, in cpm
func (c *Controller) Setpoint() float64 {
	return math.Float64frombits(c.setpoint.Load())
}
