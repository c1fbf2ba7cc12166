// Package traverse keeps the wire guide in step with the spindle. The
// guide's step count tracks encoder progress in real time, with pulses
// spread between slots rather than burst at each edge.
package traverse

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"coilwinder/core"
	"coilwinder/encoder"
	"coilwinder/stepper"
)

var log = core.NewLogger("traverse")

// SlotSource is the encoder view the synchronizer reads
type SlotSource interface {
	Snapshot() encoder.Snapshot
}

// Config bounds pulse timing. The interval limits are the NEMA17 traversal
// motor's.
type Config struct {
	MinInterval   time.Duration
	MaxInterval   time.Duration
	Batch         int           // pulses per scheduling pass
	Idle          time.Duration // yield when no step is owed
	CatchUp       time.Duration // window after the pass ends
	FallbackDelay time.Duration // pulse spacing for steps still owed after CatchUp
	MaxFraction   float64       // cap on extrapolation between slots
}

func DefaultConfig() Config {
	return Config{
		MinInterval:   time.Millisecond,
		MaxInterval:   50 * time.Millisecond,
		Batch:         4,
		Idle:          time.Millisecond,
		CatchUp:       3 * time.Second,
		FallbackDelay: 2 * time.Millisecond,
		MaxFraction:   0.98,
	}
}

// Progress is safe to read while Run is active
type Progress struct {
	StepsMoved    int
	TargetSteps   int
	TargetSlots   uint64
	FallbackSteps int
}

// Synchronizer drives one layer's traversal
type Synchronizer struct {
	motor stepper.Motor
	src   SlotSource
	clk   core.Clock
	cfg   Config
	dir   stepper.Direction

	targetSteps int
	targetSlots uint64

	moved    atomic.Int64
	fallback atomic.Int64
}

// New returns a synchronizer that will move targetSteps in dir over
// targetSlots encoder slots
func New(m stepper.Motor, src SlotSource, clk core.Clock, cfg Config, targetSteps int, targetSlots uint64, dir stepper.Direction) (*Synchronizer, error) {
	if targetSteps < 0 || targetSlots == 0 {
		return nil, fmt.Errorf("%w: %d steps over %d slots", core.ErrInvalidGeometry, targetSteps, targetSlots)
	}
	if !dir.Valid() {
		return nil, fmt.Errorf("invalid %s", dir)
	}
	def := DefaultConfig()
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = def.MinInterval
	}
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = cfg.MinInterval
	}
	if cfg.Batch <= 0 {
		cfg.Batch = def.Batch
	}
	if cfg.Idle <= 0 {
		cfg.Idle = def.Idle
	}
	if cfg.CatchUp < 0 {
		cfg.CatchUp = 0
	}
	if cfg.FallbackDelay <= 0 {
		cfg.FallbackDelay = def.FallbackDelay
	}
	if cfg.MaxFraction <= 0 || cfg.MaxFraction >= 1 {
		cfg.MaxFraction = def.MaxFraction
	}
	return &Synchronizer{
		motor:       m,
		src:         src,
		clk:         clk,
		cfg:         cfg,
		dir:         dir,
		targetSteps: targetSteps,
		targetSlots: targetSlots,
	}, nil
}

func (s *Synchronizer) Progress() Progress {
	return Progress{
		StepsMoved:    int(s.moved.Load()),
		TargetSteps:   s.targetSteps,
		TargetSlots:   s.targetSlots,
		FallbackSteps: int(s.fallback.Load()),
	}
}

// progress returns slots plus the extrapolated fraction of the current slot
func (s *Synchronizer) progress(snap encoder.Snapshot, now time.Duration, extrapolate bool) float64 {
	if snap.Slots >= s.targetSlots {
		return float64(s.targetSlots)
	}
	p := float64(snap.Slots)
	if extrapolate && snap.HaveSlot && snap.Filtered > 0 && now > snap.LastSlot {
		p += math.Min(float64(now-snap.LastSlot)/float64(snap.Filtered), s.cfg.MaxFraction)
	}
	return p
}

func (s *Synchronizer) interval(snap encoder.Snapshot) time.Duration {
	if snap.Filtered <= 0 || s.targetSteps == 0 {
		return s.cfg.MinInterval
	}
	perSlot := float64(s.targetSteps) / float64(s.targetSlots)
	iv := time.Duration(float64(snap.Filtered) / perSlot)
	if iv < s.cfg.MinInterval {
		return s.cfg.MinInterval
	}
	if iv > s.cfg.MaxInterval {
		return s.cfg.MaxInterval
	}
	return iv
}

// Run pulses the motor until the target is reached. passDone reports that
// the spindle has finished; after that the synchronizer has CatchUp to
// finish on encoder timing, then sends whatever is still owed as one
// blocking move. The motor is disabled on return.
func (s *Synchronizer) Run(ctx context.Context, passDone func() bool) (err error) {
	defer func() {
		if derr := s.motor.Disable(); derr != nil && err == nil {
			err = derr
		}
	}()
	if s.targetSteps == 0 {
		return nil
	}
	if err := stepper.Prepare(ctx, s.clk, s.motor, s.dir); err != nil {
		return err
	}

	var (
		next   time.Duration
		synced bool
		done   bool
		doneAt time.Duration
	)
	for int(s.moved.Load()) < s.targetSteps {
		now := s.clk.Now()
		if !done && passDone() {
			done, doneAt = true, now
		}
		if done && now-doneAt >= s.cfg.CatchUp {
			break
		}

		snap := s.src.Snapshot()
		want := int(math.Floor(s.progress(snap, now, !done) * float64(s.targetSteps) / float64(s.targetSlots)))
		if want > s.targetSteps {
			want = s.targetSteps
		}
		deficit := want - int(s.moved.Load())
		if deficit <= 0 {
			synced = false
			if err := s.clk.Sleep(ctx, s.cfg.Idle); err != nil {
				return core.Cancelled(err)
			}
			continue
		}

		iv := s.interval(snap)
		if !synced || now-next > time.Duration(s.cfg.Batch)*iv {
			next, synced = now, true
		}
		if next > now {
			if err := s.clk.Sleep(ctx, next-now); err != nil {
				return core.Cancelled(err)
			}
			continue
		}

		for n := 0; n < s.cfg.Batch && n < deficit && next <= s.clk.Now(); n++ {
			if err := s.motor.Pulse(); err != nil {
				return err
			}
			s.moved.Add(1)
			next += iv
		}
		if err := s.clk.Sleep(ctx, 0); err != nil {
			return core.Cancelled(err)
		}
	}

	owed := s.targetSteps - int(s.moved.Load())
	if owed <= 0 {
		return nil
	}
	log.Warnf("catch-up window expired with %d steps owed, finishing directly", owed)
	n, err := stepper.Move(ctx, s.clk, s.motor, owed, s.dir, s.cfg.FallbackDelay)
	s.moved.Add(int64(n))
	s.fallback.Add(int64(n))
	return err
}
