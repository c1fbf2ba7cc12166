// Package console is the line-oriented operator shell shared by the firmware
// serial link and the host simulator. Every command produces one reply that
// starts with "ok" or "err".
package console

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"

	"coilwinder/core"
	"coilwinder/planner"
	"coilwinder/stepper"
	"coilwinder/winder"
)

var log = core.NewLogger("console")

var errNoExecutor = errors.New("no coil stepper fitted")

// Console dispatches text commands to a machine
type Console struct {
	ctx context.Context // parent of background jobs and immediate moves
	m   *winder.Machine
}

// New returns a console; ctx bounds every activity it starts
func New(ctx context.Context, m *winder.Machine) *Console {
	return &Console{ctx: ctx, m: m}
}

// Execute runs one command line and returns the reply. Arguments split like
// a shell command line, so a JSON argument can be quoted. Only "logs" and
// "help" return more than one line.
func (c *Console) Execute(line string) string {
	fields, err := shlex.Split(line)
	if err != nil {
		return "err " + err.Error()
	}
	if len(fields) == 0 {
		return ""
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	var reply string
	switch cmd {
	case "move":
		reply, err = c.move(args)
	case "step":
		reply, err = c.step(args)
	case "status":
		reply = c.status()
	case "clear":
		err = c.withExecutor(func(e *stepper.Executor) { e.ClearQueue() })
		reply = "queue cleared"
	case "reset":
		err = c.withExecutor(func(e *stepper.Executor) { e.ResetStepCount() })
		reply = "step counter reset"
	case "plan":
		reply, err = plan(args)
	case "config":
		reply, err = c.config(args)
	case "home":
		err = c.m.StartHome(c.ctx)
		reply = "homing"
	case "wind":
		err = c.m.StartWind(c.ctx)
		reply = "winding"
	case "stop":
		if err = c.m.Stop(); errors.Is(err, core.ErrCancelled) {
			err = nil
		}
		reply = "stopped"
	case "estop":
		c.m.EmergencyStop()
		reply = "emergency stop"
	case "logs":
		lines := core.RecentLogs()
		reply = strconv.Itoa(len(lines))
		if len(lines) > 0 {
			reply += "\n" + strings.Join(lines, "\n")
		}
	case "help":
		reply = helpText
	default:
		err = fmt.Errorf("unknown command %q (try help)", cmd)
	}

	if err != nil {
		log.Debugf("%s: %v", cmd, err)
		return "err " + err.Error()
	}
	return "ok " + reply
}

// Serve reads commands from r until EOF or ctx is done and writes one reply
// per non-empty line to w
func (c *Console) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return core.Cancelled(err)
		}
		reply := c.Execute(scanner.Text())
		if reply == "" {
			continue
		}
		if _, err := fmt.Fprintln(w, reply); err != nil {
			return err
		}
	}
	return scanner.Err()
}

const helpText = `commands:
  move <steps> [dir] [delay_ms]   queue a coil stepper move
  step <steps> [dir] [delay_ms]   move the coil stepper now and release
  status                          machine, queue and spindle state
  clear                           drop queued moves
  reset                           zero the step counter
  plan <turns> <width_mm> <awg> [type]
  config ['<json>']               show or replace the job configuration
  home                            run the traversal homing sequence
  wind                            start the configured job
  stop                            cancel the running job or homing
  estop                           force every output off
  logs                            recent log lines
  help`

func (c *Console) withExecutor(fn func(*stepper.Executor)) error {
	e := c.m.Executor()
	if e == nil {
		return errNoExecutor
	}
	fn(e)
	return nil
}

// moveArgs parses <steps> [dir] [delay_ms]
func moveArgs(args []string) (stepper.Command, error) {
	if len(args) < 1 || len(args) > 3 {
		return stepper.Command{}, errors.New("usage: <steps> [dir] [delay_ms]")
	}
	steps, err := strconv.Atoi(args[0])
	if err != nil {
		return stepper.Command{}, fmt.Errorf("bad steps %q", args[0])
	}
	dir := stepper.Forward
	if len(args) > 1 {
		if dir, err = parseDirection(args[1]); err != nil {
			return stepper.Command{}, err
		}
	}
	var delay time.Duration
	if len(args) > 2 {
		ms, err := strconv.ParseFloat(args[2], 64)
		if err != nil || ms < 0 {
			return stepper.Command{}, fmt.Errorf("bad delay %q", args[2])
		}
		delay = time.Duration(ms * float64(time.Millisecond))
	}
	return stepper.StepCommand(steps, dir, delay), nil
}

func parseDirection(s string) (stepper.Direction, error) {
	switch strings.ToLower(s) {
	case "fwd", "forward", "cw", "+":
		return stepper.Forward, nil
	case "rev", "reverse", "ccw", "-":
		return stepper.Reverse, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("bad direction %q", s)
	}
	return stepper.ParseDirection(v)
}

func (c *Console) move(args []string) (string, error) {
	cmd, err := moveArgs(args)
	if err != nil {
		return "", err
	}
	e := c.m.Executor()
	if e == nil {
		return "", errNoExecutor
	}
	if err := e.Queue(cmd); err != nil {
		return "", err
	}
	return fmt.Sprintf("queued %d %s queue=%d", cmd.Steps, cmd.Direction, e.QueueLength()), nil
}

func (c *Console) step(args []string) (string, error) {
	cmd, err := moveArgs(args)
	if err != nil {
		return "", err
	}
	e := c.m.Executor()
	if e == nil {
		return "", errNoExecutor
	}
	if err := e.Step(c.ctx, cmd.Steps, cmd.Direction, cmd.Delay, true); err != nil {
		return "", err
	}
	return fmt.Sprintf("stepped %d %s total=%d", cmd.Steps, cmd.Direction, e.TotalSteps()), nil
}

func (c *Console) status() string {
	s := c.m.Status()
	var b strings.Builder
	fmt.Fprintf(&b, "activity=%s queue=%d executing=%t total=%d spindle=%t duty=%d",
		s.Activity, s.QueueLength, s.IsExecuting, s.TotalSteps, s.SpindleOn, s.SpindleDuty)
	if s.HomingState != "" {
		fmt.Fprintf(&b, " homing=%s", s.HomingState)
	}
	if s.Job != nil {
		fmt.Fprintf(&b, " job=%s layer=%d/%d", s.Job.State, s.Job.Layer, s.Job.Layers)
	}
	if s.LastError != "" {
		fmt.Fprintf(&b, " error=%q", s.LastError)
	}
	return b.String()
}

// plan parses <turns> <width_mm> <awg> [type] and reports the layer plan
func plan(args []string) (string, error) {
	if len(args) < 3 || len(args) > 4 {
		return "", errors.New("usage: plan <turns> <width_mm> <awg> [type]")
	}
	turns, err := strconv.Atoi(args[0])
	if err != nil {
		return "", fmt.Errorf("bad turns %q", args[0])
	}
	width, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return "", fmt.Errorf("bad width %q", args[1])
	}
	awg, err := strconv.Atoi(args[2])
	if err != nil {
		return "", fmt.Errorf("bad gauge %q", args[2])
	}
	wire := planner.Magnet
	if len(args) == 4 {
		if wire, err = planner.ParseWireType(args[3]); err != nil {
			return "", err
		}
	}

	p, err := planner.ForWire(turns, width, awg, wire, planner.DefaultGeometry())
	if err != nil {
		return "", err
	}
	s := p.Summary()
	return fmt.Sprintf("layers=%d turns=%d overrun=%d steps=%d steps_per_turn=%.2f d=%.3f",
		s.LayerCount, s.ActualTurns, s.Overrun, s.TotalSteps, p.StepsPerTurn, p.WireDiameterMM), nil
}

// config prints the job configuration as JSON, or replaces it with the one
// given. Omitted fields take their defaults.
func (c *Console) config(args []string) (string, error) {
	switch len(args) {
	case 0:
		data, err := json.Marshal(c.m.Config())
		if err != nil {
			return "", err
		}
		return string(data), nil
	case 1:
		cfg, err := winder.LoadConfig([]byte(args[0]))
		if err != nil {
			return "", err
		}
		p, err := cfg.Plan()
		if err != nil {
			return "", err
		}
		if err := c.m.SetConfig(cfg); err != nil {
			return "", err
		}
		sum := p.Summary()
		return fmt.Sprintf("config layers=%d turns=%d", sum.LayerCount, sum.ActualTurns), nil
	}
	return "", fmt.Errorf("usage: config ['<json>']")
}
