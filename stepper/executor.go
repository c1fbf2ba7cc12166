package stepper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"coilwinder/core"
)

const (
	QueueCapacity       = 100
	DefaultStepDelay    = 1250 * time.Microsecond // 28BYJ-48 minimum
	DefaultReleaseGrace = 50 * time.Millisecond
)

var log = core.NewLogger("stepper")

// CommandKind tags a queued command
type CommandKind uint8

const (
	CommandStep CommandKind = iota
)

func (k CommandKind) String() string {
	switch k {
	case CommandStep:
		return "step"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Command is one queued move
type Command struct {
	Kind      CommandKind
	Steps     int // magnitude
	Direction Direction
	Delay     time.Duration // zero selects the executor default
}

// StepCommand builds a CommandStep
func StepCommand(steps int, dir Direction, delay time.Duration) Command {
	return Command{Kind: CommandStep, Steps: steps, Direction: dir, Delay: delay}
}

func (c Command) validate() error {
	if c.Kind != CommandStep {
		return fmt.Errorf("unsupported command %s", c.Kind)
	}
	if c.Steps <= 0 {
		return fmt.Errorf("steps must be positive, got %d", c.Steps)
	}
	if !c.Direction.Valid() {
		return fmt.Errorf("invalid %s", c.Direction)
	}
	if c.Delay < 0 {
		return fmt.Errorf("negative delay %v", c.Delay)
	}
	return nil
}

// ExecutorConfig tunes pulse timing
type ExecutorConfig struct {
	StepDelay    time.Duration // between pulses when a command has none
	ReleaseGrace time.Duration // queue must stay empty this long before release
}

func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{StepDelay: DefaultStepDelay, ReleaseGrace: DefaultReleaseGrace}
}

// Executor owns a bounded FIFO of commands and runs them on a Motor.
// IsExecuting, QueueLength and TotalSteps may be called from any goroutine.
type Executor struct {
	motor Motor
	clk   core.Clock
	cfg   ExecutorConfig

	// Ring buffer, guarded by mu for push/pop only
	mu         sync.Mutex
	queue      [QueueCapacity]Command
	queueHead  int
	queueCount int

	executing  atomic.Bool
	totalSteps atomic.Uint64
}

// NewExecutor returns an idle executor driving m
func NewExecutor(m Motor, clk core.Clock, cfg ExecutorConfig) *Executor {
	if cfg.StepDelay <= 0 {
		cfg.StepDelay = DefaultStepDelay
	}
	if cfg.ReleaseGrace < 0 {
		cfg.ReleaseGrace = 0
	}
	return &Executor{motor: m, clk: clk, cfg: cfg}
}

// Queue appends a command. A full queue rejects it with core.ErrQueueFull
// and is left unchanged; Queue never blocks.
func (e *Executor) Queue(cmd Command) error {
	if err := cmd.validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.queueCount >= QueueCapacity {
		return core.ErrQueueFull
	}
	e.queue[(e.queueHead+e.queueCount)%QueueCapacity] = cmd
	e.queueCount++
	return nil
}

func (e *Executor) pop() (Command, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.queueCount == 0 {
		return Command{}, false
	}
	cmd := e.queue[e.queueHead]
	e.queueHead = (e.queueHead + 1) % QueueCapacity
	e.queueCount--
	return cmd, true
}

// ExecuteOne runs the oldest queued command. It returns false without doing
// anything if another drain is in progress or the queue is empty. Coils stay
// energized afterwards.
func (e *Executor) ExecuteOne(ctx context.Context) (bool, error) {
	if !e.executing.CompareAndSwap(false, true) {
		return false, nil
	}
	defer e.executing.Store(false)

	cmd, ok := e.pop()
	if !ok {
		return false, nil
	}
	if err := e.run(ctx, cmd); err != nil {
		e.release()
		return true, err
	}
	return true, nil
}

// ExecuteAll drains the queue while holding the executing flag, so coils
// stay energized between back-to-back commands. Once the queue is empty it
// waits the release grace and de-energizes the coils only if nothing new was
// queued meanwhile. Returns immediately if a drain is already running.
func (e *Executor) ExecuteAll(ctx context.Context) error {
	if e.QueueLength() == 0 || !e.executing.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	for err == nil {
		cmd, ok := e.pop()
		if !ok {
			break
		}
		log.Debugf("executing %d steps %s (queue: %d)", cmd.Steps, cmd.Direction, e.QueueLength()+1)
		err = e.run(ctx, cmd)
	}
	e.executing.Store(false)

	if err != nil {
		e.release()
		return err
	}
	if e.QueueLength() != 0 {
		return nil
	}
	if err := e.clk.Sleep(ctx, e.cfg.ReleaseGrace); err != nil {
		e.release()
		return core.Cancelled(err)
	}
	if e.QueueLength() == 0 && !e.executing.Load() {
		e.release()
	}
	return nil
}

// Step moves immediately without queueing. It refuses to run while a drain
// is in progress.
func (e *Executor) Step(ctx context.Context, steps int, dir Direction, delay time.Duration, releaseAfter bool) error {
	cmd := StepCommand(steps, dir, delay)
	if err := cmd.validate(); err != nil {
		return err
	}
	if !e.executing.CompareAndSwap(false, true) {
		return errors.New("stepper busy")
	}
	defer e.executing.Store(false)

	if err := e.run(ctx, cmd); err != nil {
		e.release()
		return err
	}
	if releaseAfter {
		e.release()
	}
	return nil
}

// Run is the queue processor: whenever commands are waiting and nothing is
// executing it drains them. It returns when ctx is done.
func (e *Executor) Run(ctx context.Context, poll time.Duration) error {
	for {
		if e.QueueLength() > 0 && !e.executing.Load() {
			if err := e.ExecuteAll(ctx); err != nil {
				if errors.Is(err, core.ErrCancelled) {
					return err
				}
				log.Errorf("queue drain failed: %v", err)
			}
		}
		if err := e.clk.Sleep(ctx, poll); err != nil {
			return core.Cancelled(err)
		}
	}
}

// run pulses one command; total steps is bumped once, after the pulses
func (e *Executor) run(ctx context.Context, cmd Command) error {
	delay := cmd.Delay
	if delay == 0 {
		delay = e.cfg.StepDelay
	}
	n, err := Move(ctx, e.clk, e.motor, cmd.Steps, cmd.Direction, delay)
	e.totalSteps.Add(uint64(n))
	return err
}

func (e *Executor) release() {
	if err := e.motor.Disable(); err != nil {
		log.Warnf("release coils: %v", err)
	}
}

// ClearQueue drops every pending command without running it
func (e *Executor) ClearQueue() {
	e.mu.Lock()
	e.queueHead = 0
	e.queueCount = 0
	e.mu.Unlock()
}

// QueueLength returns the number of pending commands
func (e *Executor) QueueLength() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queueCount
}

// IsExecuting reports whether a command or a drain is running
func (e *Executor) IsExecuting() bool {
	return e.executing.Load()
}

// TotalSteps returns the pulses performed since the last reset
func (e *Executor) TotalSteps() uint64 {
	return e.totalSteps.Load()
}

// ResetStepCount zeroes the step counter
func (e *Executor) ResetStepCount() {
	e.totalSteps.Store(0)
}

// Motor returns the driven motor
func (e *Executor) Motor() Motor {
	return e.motor
}
