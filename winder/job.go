package winder

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"coilwinder/core"
	"coilwinder/homing"
	"coilwinder/planner"
	"coilwinder/spindle"
	"coilwinder/stepper"
	"coilwinder/traverse"
)

// JobState tracks a job through its phases
type JobState int32

const (
	JobIdle JobState = iota
	JobHoming
	JobWinding
	JobDone
	JobFailed
	JobCancelled
)

func (s JobState) String() string {
	switch s {
	case JobIdle:
		return "idle"
	case JobHoming:
		return "homing"
	case JobWinding:
		return "winding"
	case JobDone:
		return "done"
	case JobFailed:
		return "failed"
	case JobCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("JobState(%d)", int32(s))
	}
}

// JobResult collects a job's per-layer results
type JobResult struct {
	Plan      planner.Summary `json:"plan"`
	TargetCPM float64         `json:"target_cpm"`
	SafeCPM   float64         `json:"safe_cpm"`
	Homing    *homing.Result  `json:"homing,omitempty"`
	Layers    []PassResult    `json:"layers"`
}

// JobStatus is a live view of a running job
type JobStatus struct {
	State       string  `json:"state"`
	Layer       int     `json:"layer"`
	Layers      int     `json:"layers"`
	StepsMoved  int     `json:"steps_moved"`
	TargetSteps int     `json:"target_steps"`
	Slots       uint64  `json:"slots"`
	TargetSlots uint64  `json:"target_slots"`
	MeasuredCPM float64 `json:"measured_cpm"`
	SetpointCPM float64 `json:"setpoint_cpm"`
}

// Job winds a whole coil layer by layer, reversing the traversal each layer
type Job struct {
	cfg  *Config
	hw   Hardware
	plan *planner.Plan
	sync traverse.Config

	state   atomic.Int32
	layer   atomic.Int32
	current atomic.Pointer[Pass]
}

// NewJob plans the coil. Geometry errors are reported before any motion.
func NewJob(cfg *Config, hw Hardware) (*Job, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := hw.validate(); err != nil {
		return nil, err
	}
	if cfg.HomeFirst && hw.Homer == nil {
		return nil, errors.New("winder: home_first set without a homing sensor")
	}
	plan, err := cfg.Plan()
	if err != nil {
		return nil, err
	}
	sync := traverse.DefaultConfig()
	sync.MinInterval = cfg.MinStepDelay()
	return &Job{cfg: cfg, hw: hw, plan: plan, sync: sync}, nil
}

func (j *Job) Plan() *planner.Plan {
	return j.plan
}

func (j *Job) State() JobState {
	return JobState(j.state.Load())
}

func (j *Job) Status() JobStatus {
	s := JobStatus{
		State:  j.State().String(),
		Layer:  int(j.layer.Load()),
		Layers: len(j.plan.Layers),
	}
	if p := j.current.Load(); p != nil {
		prog := p.Progress()
		s.StepsMoved = prog.StepsMoved
		s.TargetSteps = prog.TargetSteps
		s.TargetSlots = prog.TargetSlots
		s.Slots = j.hw.Encoder.Slots()
		s.MeasuredCPM = p.Controller().Measured()
		s.SetpointCPM = p.Controller().Setpoint()
	}
	return s
}

// Run homes if configured, then winds every planned layer
func (j *Job) Run(ctx context.Context) (res *JobResult, err error) {
	defer func() {
		switch {
		case err == nil:
			j.state.Store(int32(JobDone))
		case errors.Is(err, core.ErrCancelled):
			j.state.Store(int32(JobCancelled))
		default:
			j.state.Store(int32(JobFailed))
		}
	}()

	target, safe, err := j.cfg.TargetCPM()
	if err != nil {
		return nil, err
	}
	res = &JobResult{Plan: j.plan.Summary(), TargetCPM: target, SafeCPM: safe}
	log.Infof("winding %d turns in %d layers at %.1f cpm (limit %.1f)",
		res.Plan.ActualTurns, len(j.plan.Layers), target, safe)

	if j.cfg.HomeFirst {
		j.state.Store(int32(JobHoming))
		j.hw.Homer.SetGeometry(j.cfg.StepsPerRev, j.plan.StepsPerTurn)
		hres, err := j.hw.Homer.Home(ctx)
		res.Homing = hres
		if err != nil {
			return res, fmt.Errorf("homing: %w", err)
		}
	}

	j.state.Store(int32(JobWinding))
	for i, layer := range j.plan.Layers {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("before layer %d: %w", layer.Number, core.Cancelled(err))
		}
		j.layer.Store(int32(layer.Number))
		final := i == len(j.plan.Layers)-1
		profile := spindle.NewProfile(j.cfg.Ramp(), target, final)
		pass, err := NewPass(j.hw, PassConfig{
			Layer:       layer,
			Direction:   stepper.Direction(j.plan.Direction(layer.Number)),
			SlotsPerRev: j.cfg.SlotsPerRev,
			Controller:  j.cfg.ControllerConfig(safe),
			Target:      profile.Target(uint64(layer.Turns*j.cfg.SlotsPerRev), j.cfg.SlotsPerRev),
			Sync:        j.sync,
		})
		if err != nil {
			return res, err
		}
		j.current.Store(pass)

		pres, err := pass.Run(ctx)
		if pres != nil {
			res.Layers = append(res.Layers, *pres)
		}
		if err != nil {
			return res, fmt.Errorf("layer %d: %w", layer.Number, err)
		}
	}
	return res, nil
}
