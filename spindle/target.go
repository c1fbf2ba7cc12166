package spindle

import (
	"time"
)

const (
	BaseCPM          = 70.0 // at the reference pitch
	ReferencePitchMM = 1.25
)

// TargetCPM scales the reference speed by pitch over wire diameter, so the
// guide's linear speed stays constant across gauges. scale trims it further.
func TargetCPM(baseCPM, refPitchMM, wireDiameterMM, scale float64) float64 {
	if wireDiameterMM <= 0 {
		return 0
	}
	if scale <= 0 {
		scale = 1
	}
	return baseCPM * (refPitchMM / wireDiameterMM) * scale
}

// GaugeScale slows thin wire down
func GaugeScale(awg int) float64 {
	switch {
	case awg <= 24:
		return 1.0
	case awg <= 28:
		return 0.9
	case awg <= 32:
		return 0.8
	default:
		return 0.7
	}
}

// Ramp shapes spindle speed over a pass. Speeds are in turns per minute.
type Ramp struct {
	StartRPM     float64
	Duration     time.Duration
	DownTurns    float64 // turns before the end where ramp-down begins
	EndRPM       float64
	DownDuration time.Duration
}

// DefaultRamp is 5 rpm up over 3 s, and down to 5 rpm over 2 s for the
// last 3 turns
func DefaultRamp() Ramp {
	return Ramp{
		StartRPM:     5,
		Duration:     3 * time.Second,
		DownTurns:    3,
		EndRPM:       5,
		DownDuration: 2 * time.Second,
	}
}

// Profile applies a Ramp to one pass. Ramp-down is time based and starts the
// first time the remaining turns drop to DownTurns; it only applies to the
// final layer of a job.
type Profile struct {
	ramp      Ramp
	targetRPM float64
	final     bool

	downStarted bool
	downAt      time.Duration
}

func NewProfile(r Ramp, targetRPM float64, finalLayer bool) *Profile {
	return &Profile{ramp: r, targetRPM: targetRPM, final: finalLayer}
}

// RPM returns the setpoint at elapsed time into the pass
func (p *Profile) RPM(elapsed time.Duration, remainingTurns float64) float64 {
	if p.final && p.ramp.DownTurns > 0 && remainingTurns <= p.ramp.DownTurns {
		if !p.downStarted {
			p.downStarted = true
			p.downAt = elapsed
		}
		down := elapsed - p.downAt
		if p.ramp.DownDuration <= 0 || down >= p.ramp.DownDuration {
			return p.ramp.EndRPM
		}
		f := float64(down) / float64(p.ramp.DownDuration)
		return p.targetRPM - (p.targetRPM-p.ramp.EndRPM)*f
	}
	if p.ramp.Duration > 0 && elapsed < p.ramp.Duration {
		f := float64(elapsed) / float64(p.ramp.Duration)
		return p.ramp.StartRPM + (p.targetRPM-p.ramp.StartRPM)*f
	}
	return p.targetRPM
}

// RampingDown reports whether the ramp-down phase has begun
func (p *Profile) RampingDown() bool {
	return p.downStarted
}

// Target adapts the profile to the controller for a pass of totalSlots
func (p *Profile) Target(totalSlots uint64, slotsPerRev int) TargetFunc {
	return func(elapsed time.Duration, slots uint64) float64 {
		remaining := 0.0
		if slots < totalSlots {
			remaining = float64(totalSlots-slots) / float64(slotsPerRev)
		}
		return p.RPM(elapsed, remaining)
	}
}
