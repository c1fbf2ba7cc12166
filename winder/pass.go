// Package winder coordinates the spindle, encoder and traversal through
// whole layers and jobs.
package winder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"coilwinder/core"
	"coilwinder/encoder"
	"coilwinder/homing"
	"coilwinder/planner"
	"coilwinder/spindle"
	"coilwinder/stepper"
	"coilwinder/traverse"
)

var log = core.NewLogger("winder")

// Hardware is what a pass drives. Homer is optional.
type Hardware struct {
	Clock     core.Clock
	Spindle   *spindle.Motor
	Encoder   *encoder.Monitor
	Traversal stepper.Motor
	Homer     *homing.Homer
}

func (hw Hardware) validate() error {
	if hw.Clock == nil || hw.Spindle == nil || hw.Encoder == nil || hw.Traversal == nil {
		return errors.New("winder: incomplete hardware")
	}
	return nil
}

// PassConfig describes one layer
type PassConfig struct {
	Layer       planner.Layer
	Direction   stepper.Direction
	SlotsPerRev int
	Controller  spindle.ControllerConfig
	Target      spindle.TargetFunc
	Sync        traverse.Config
}

// PassResult compares what was planned with what happened
type PassResult struct {
	Layer         int           `json:"layer"`
	Direction     int           `json:"direction"`
	TargetTurns   int           `json:"target_turns"`
	ActualTurns   float64       `json:"actual_turns"`
	TargetSlots   uint64        `json:"target_slots"`
	Slots         uint64        `json:"slots"`
	TargetSteps   int           `json:"target_steps"`
	StepsMoved    int           `json:"steps_moved"`
	FallbackSteps int           `json:"fallback_steps"`
	StepError     int           `json:"step_error"`
	Duration      time.Duration `json:"duration_ns"`
}

// Pass winds one layer
type Pass struct {
	hw        Hardware
	cfg       PassConfig
	ctrl      *spindle.Controller
	traversal *traverse.Synchronizer

	targetSlots uint64
	cleanupOnce sync.Once
	cleanups    int
}

// NewPass validates the layer and builds its controller and synchronizer
func NewPass(hw Hardware, cfg PassConfig) (*Pass, error) {
	if err := hw.validate(); err != nil {
		return nil, err
	}
	if cfg.SlotsPerRev <= 0 {
		cfg.SlotsPerRev = spindle.DefaultSlotsPerRev
	}
	if cfg.Layer.Turns <= 0 {
		return nil, fmt.Errorf("%w: layer %d has %d turns", core.ErrInvalidGeometry, cfg.Layer.Number, cfg.Layer.Turns)
	}
	targetSlots := uint64(cfg.Layer.Turns * cfg.SlotsPerRev)
	cfg.Controller.SlotsPerRev = cfg.SlotsPerRev

	syn, err := traverse.New(hw.Traversal, hw.Encoder, hw.Clock, cfg.Sync, cfg.Layer.Steps, targetSlots, cfg.Direction)
	if err != nil {
		return nil, err
	}
	return &Pass{
		hw:          hw,
		cfg:         cfg,
		ctrl:        spindle.NewController(hw.Spindle, hw.Encoder, hw.Clock, cfg.Controller, cfg.Target),
		traversal:   syn,
		targetSlots: targetSlots,
	}, nil
}

// Progress of the traversal; safe while Run is active
func (p *Pass) Progress() traverse.Progress {
	return p.traversal.Progress()
}

// Controller exposes the speed loop for status reads
func (p *Pass) Controller() *spindle.Controller {
	return p.ctrl
}

// Run winds the layer. The speed loop and the synchronizer run concurrently.
// On success, cancellation or a fault the spindle is switched off before the
// traversal is told to stop, and cleanup runs exactly once. The first error
// is returned after cleanup.
func (p *Pass) Run(ctx context.Context) (*PassResult, error) {
	hw := p.hw
	start := hw.Clock.Now()

	if err := hw.Encoder.Start(p.targetSlots); err != nil {
		return nil, err
	}
	defer p.cleanup()

	// The traversal only sees cancellation once the spindle is off
	travCtx, stopTraversal := context.WithCancel(context.WithoutCancel(ctx))
	defer stopTraversal()
	spinCtx, stopSpin := context.WithCancel(ctx)
	defer stopSpin()

	spindleDone := make(chan struct{})
	passDone := func() bool {
		select {
		case <-spindleDone:
			return true
		default:
			return false
		}
	}

	spinErr := make(chan error, 1)
	travErr := make(chan error, 1)
	go func() { spinErr <- p.ctrl.Run(spinCtx, hw.Encoder.StopRequested) }()
	go func() { travErr <- p.traversal.Run(travCtx, passDone) }()

	var first error
	fail := func(err error) {
		if first == nil {
			first = err
		}
	}
	cancelled := ctx.Done()
	for spinning, traversing := true, true; spinning || traversing; {
		select {
		case <-cancelled:
			cancelled = nil
			if !spinning {
				// catch-up or owed-steps move after the spindle finished
				p.spindleOff()
				stopTraversal()
				fail(core.Cancelled(ctx.Err()))
			}
		case err := <-spinErr:
			spinning = false
			p.spindleOff()
			if err == nil && ctx.Err() != nil {
				err = core.Cancelled(ctx.Err())
			}
			if err != nil {
				fail(err)
				stopTraversal()
			} else {
				close(spindleDone)
			}
		case err := <-travErr:
			traversing = false
			if err != nil {
				fail(err)
				stopSpin()
			}
		}
	}

	p.cleanup()
	prog := p.traversal.Progress()
	slots := hw.Encoder.Slots()
	res := &PassResult{
		Layer:         p.cfg.Layer.Number,
		Direction:     int(p.cfg.Direction),
		TargetTurns:   p.cfg.Layer.Turns,
		ActualTurns:   float64(slots) / float64(p.cfg.SlotsPerRev),
		TargetSlots:   p.targetSlots,
		Slots:         slots,
		TargetSteps:   prog.TargetSteps,
		StepsMoved:    prog.StepsMoved,
		FallbackSteps: prog.FallbackSteps,
		StepError:     prog.TargetSteps - prog.StepsMoved,
		Duration:      hw.Clock.Now() - start,
	}
	if first != nil {
		return res, first
	}
	log.Infof("layer %d: %.2f/%d turns, %d/%d steps", res.Layer, res.ActualTurns, res.TargetTurns, res.StepsMoved, res.TargetSteps)
	return res, nil
}

func (p *Pass) spindleOff() {
	if err := p.hw.Spindle.Off(); err != nil {
		log.Errorf("spindle off: %v", err)
	}
}

// cleanup forces every output safe: spindle first
func (p *Pass) cleanup() {
	p.cleanupOnce.Do(func() {
		p.cleanups++
		p.spindleOff()
		if err := p.hw.Encoder.Stop(); err != nil {
			log.Warnf("detach encoder: %v", err)
		}
		if err := p.hw.Traversal.Disable(); err != nil {
			log.Errorf("disable traversal: %v", err)
		}
	})
}
