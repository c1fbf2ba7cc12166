package sim

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"coilwinder/core"
)

// SpindleConfig describes the simulated brushed motor and its slotted disc
type SpindleConfig struct {
	PWMPin       core.PWMPin
	EncoderPin   core.GPIOPin
	SlotsPerRev  int
	MaxRPM       float64       // speed at full drive
	TimeConstant time.Duration // first-order lag of the motor
	Tick         time.Duration // integration step
	Inverted     bool          // full duty means motor off (BJT gate drive)
	ActiveLow    bool          // encoder reads low while a slot is blocked
}

// DefaultSpindleConfig matches the bench rig: 20-slot disc, inverted gate
// drive, active-low photo-interrupter
func DefaultSpindleConfig(pwmPin core.PWMPin, encoderPin core.GPIOPin) SpindleConfig {
	return SpindleConfig{
		PWMPin:       pwmPin,
		EncoderPin:   encoderPin,
		SlotsPerRev:  20,
		MaxRPM:       240,
		TimeConstant: 150 * time.Millisecond,
		Tick:         250 * time.Microsecond,
		Inverted:     true,
		ActiveLow:    true,
	}
}

// Spindle integrates motor speed from the PWM duty and drives the encoder
// input through the simulated GPIO, one edge per half slot.
type Spindle struct {
	cfg   SpindleConfig
	pwm   *PWM
	gpio  *GPIO
	rpm   atomic.Uint64 // float64 bits
	edges atomic.Uint64
	phase float64 // in half slots
}

func NewSpindle(cfg SpindleConfig, pwm *PWM, gpio *GPIO) *Spindle {
	if cfg.Tick <= 0 {
		cfg.Tick = 250 * time.Microsecond
	}
	if cfg.SlotsPerRev <= 0 {
		cfg.SlotsPerRev = 20
	}
	return &Spindle{cfg: cfg, pwm: pwm, gpio: gpio}
}

// RPM returns the current simulated speed
func (s *Spindle) RPM() float64 {
	return math.Float64frombits(s.rpm.Load())
}

// Edges returns the number of encoder edges emitted
func (s *Spindle) Edges() uint64 {
	return s.edges.Load()
}

// Drive returns the fraction of full power the PWM output commands
func (s *Spindle) Drive() float64 {
	duty, on := s.pwm.Duty(s.cfg.PWMPin)
	if !on {
		return 0
	}
	f := float64(duty) / float64(core.MaxDuty)
	if s.cfg.Inverted {
		f = 1 - f
	}
	return f
}

// Run integrates the model in real time until ctx is done
func (s *Spindle) Run(ctx context.Context) {
	// encoder idles unblocked
	s.gpio.Drive(s.cfg.EncoderPin, s.cfg.ActiveLow)

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.step(now.Sub(last))
			last = now
		}
	}
}

func (s *Spindle) step(dt time.Duration) {
	target := s.Drive() * s.cfg.MaxRPM
	rpm := s.RPM()
	if tau := s.cfg.TimeConstant; tau > 0 {
		k := dt.Seconds() / tau.Seconds()
		if k > 1 {
			k = 1
		}
		rpm += (target - rpm) * k
	} else {
		rpm = target
	}
	s.rpm.Store(math.Float64bits(rpm))

	before := math.Floor(s.phase)
	s.phase += rpm / 60 * dt.Seconds() * float64(s.cfg.SlotsPerRev) * 2
	for n := before + 1; n <= math.Floor(s.phase); n++ {
		// odd boundaries enter a blocked slot
		blocked := int64(n)%2 == 1
		level := blocked != s.cfg.ActiveLow
		s.gpio.Drive(s.cfg.EncoderPin, level)
		s.edges.Add(1)
	}
}
