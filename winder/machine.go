package winder

import (
	"context"
	"errors"
	"sync"

	"coilwinder/homing"
	"coilwinder/stepper"
)

// ErrBusy is returned when a job or homing run is already active
var ErrBusy = errors.New("winder busy")

// Status is the machine-wide view served to the control surfaces
type Status struct {
	Activity    string     `json:"activity"`
	Job         *JobStatus `json:"job,omitempty"`
	HomingState string     `json:"homing_state,omitempty"`
	SpindleDuty uint16     `json:"spindle_duty"`
	SpindleOn   bool       `json:"spindle_on"`
	QueueLength int        `json:"queue_length"`
	IsExecuting bool       `json:"is_executing"`
	TotalSteps  uint64     `json:"total_steps"`
	LastError   string     `json:"last_error,omitempty"`
}

// Machine owns the hardware and runs at most one job or homing sequence at a
// time in the background
type Machine struct {
	hw   Hardware
	exec *stepper.Executor

	mu         sync.Mutex
	config     *Config
	activity   string
	job        *Job
	cancel     context.CancelFunc
	done       chan struct{}
	lastResult *JobResult
	lastHome   *homing.Result
	lastErr    error
}

// NewMachine creates a machine; exec may be nil when no coil stepper is fitted
func NewMachine(cfg *Config, hw Hardware, exec *stepper.Executor) (*Machine, error) {
	if err := hw.validate(); err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = DefaultConfig(20)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Machine{hw: hw, exec: exec, config: cfg, activity: "idle"}, nil
}

// Executor returns the queued coil stepper, or nil
func (m *Machine) Executor() *stepper.Executor {
	return m.exec
}

// Config returns a copy of the active configuration
func (m *Machine) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.config
}

// SetConfig replaces the configuration when idle
func (m *Machine) SetConfig(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != nil {
		return ErrBusy
	}
	m.config = cfg
	return nil
}

// StartWind plans and starts a job in the background
func (m *Machine) StartWind(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != nil {
		return ErrBusy
	}
	job, err := NewJob(m.config, m.hw)
	if err != nil {
		return err
	}
	m.job = job
	m.start(ctx, "winding", func(ctx context.Context) error {
		res, err := job.Run(ctx)
		m.mu.Lock()
		m.lastResult = res
		m.mu.Unlock()
		return err
	})
	return nil
}

// StartHome runs the homing sequence in the background
func (m *Machine) StartHome(ctx context.Context) error {
	if m.hw.Homer == nil {
		return errors.New("winder: no homing sensor")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != nil {
		return ErrBusy
	}
	m.start(ctx, "homing", func(ctx context.Context) error {
		res, err := m.hw.Homer.Home(ctx)
		m.mu.Lock()
		m.lastHome = res
		m.mu.Unlock()
		return err
	})
	return nil
}

// start runs fn on its own goroutine; m.mu is held by the caller
func (m *Machine) start(ctx context.Context, activity string, fn func(context.Context) error) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel, m.done, m.activity, m.lastErr = cancel, done, activity, nil

	go func() {
		defer close(done)
		defer cancel()
		err := fn(ctx)
		if err != nil {
			log.Errorf("%s: %v", activity, err)
		}
		m.mu.Lock()
		m.lastErr = err
		m.activity = "idle"
		m.cancel, m.done = nil, nil
		m.mu.Unlock()
	}()
}

// Wait blocks until the background activity ends and returns its error
func (m *Machine) Wait() error {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Busy reports whether a job or homing run is active
func (m *Machine) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done != nil
}

// Stop cancels the background activity and waits for its cleanup
func (m *Machine) Stop() error {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return m.Wait()
}

// EmergencyStop cancels everything and forces every output safe
func (m *Machine) EmergencyStop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if err := m.hw.Spindle.EmergencyStop(); err != nil {
		log.Errorf("emergency stop spindle: %v", err)
	}
	if err := m.hw.Traversal.Disable(); err != nil {
		log.Errorf("emergency stop traversal: %v", err)
	}
	if m.exec != nil {
		m.exec.ClearQueue()
		if err := m.exec.Motor().Disable(); err != nil {
			log.Errorf("emergency stop coils: %v", err)
		}
	}
	m.Wait()
	if err := m.hw.Spindle.Resume(); err != nil {
		log.Errorf("spindle resume: %v", err)
	}
}

// LastResult returns the latest job result, if any
func (m *Machine) LastResult() *JobResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastResult
}

// LastHome returns the latest homing result, if any
func (m *Machine) LastHome() *homing.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHome
}

func (m *Machine) Status() Status {
	m.mu.Lock()
	s := Status{Activity: m.activity}
	job := m.job
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	m.mu.Unlock()

	if job != nil {
		js := job.Status()
		s.Job = &js
	}
	if m.hw.Homer != nil {
		s.HomingState = m.hw.Homer.State().String()
	}
	s.SpindleDuty = uint16(m.hw.Spindle.Duty())
	s.SpindleOn = m.hw.Spindle.Running()
	if m.exec != nil {
		s.QueueLength = m.exec.QueueLength()
		s.IsExecuting = m.exec.IsExecuting()
		s.TotalSteps = m.exec.TotalSteps()
	}
	return s
}
