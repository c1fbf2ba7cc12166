package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coilwinder/core"
	"coilwinder/sim"
	"coilwinder/sim/rig"
	"coilwinder/stepper"
	"coilwinder/winder"
)

type testServer struct {
	*httptest.Server
	rig *rig.Rig
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	opts := rig.DefaultOptions()
	opts.Executor = stepper.ExecutorConfig{StepDelay: 100 * time.Microsecond, ReleaseGrace: 5 * time.Millisecond}
	opts.Homing.StepDelay = 100 * time.Microsecond
	opts.Homing.RefineDelay = 100 * time.Microsecond
	r, err := rig.New(ctx, opts)
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer(ctx, r.Machine).Handler(io.Discard))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, rig: r}
}

func (s *testServer) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestMoveAndStatus(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodPost, "/stepper/move", `{"steps": 50, "direction": -1, "delay": 0.2}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "Queued 50 steps reverse", body["message"])

	require.Eventually(t, func() bool {
		return s.rig.Executor.TotalSteps() == 50 && !s.rig.Executor.IsExecuting()
	}, 2*time.Second, time.Millisecond)

	code, body = s.do(t, http.MethodGet, "/stepper/status", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(50), body["total_steps"])
	assert.Equal(t, float64(0), body["queue_length"])
	assert.Equal(t, false, body["is_executing"])

	code, _ = s.do(t, http.MethodPost, "/stepper/reset_counter", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, uint64(0), s.rig.Executor.TotalSteps())

	code, body = s.do(t, http.MethodPost, "/stepper/clear", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Queue cleared", body["message"])
}

func TestMoveRejectsBadInput(t *testing.T) {
	s := newTestServer(t)

	for _, body := range []string{
		`{"steps": 0}`,
		`{"steps": 10, "direction": 0}`,
		`{"steps": 10, "delay": -1}`,
		`{"steps": "ten"}`,
		`not json`,
	} {
		code, reply := s.do(t, http.MethodPost, "/stepper/move", body)
		assert.Equal(t, http.StatusBadRequest, code, body)
		assert.Equal(t, "error", reply["status"], body)
	}
	assert.Equal(t, 0, s.rig.Executor.QueueLength())
}

func TestMoveQueueFull(t *testing.T) {
	// no queue processor: nothing drains
	gpio := sim.NewGPIO()
	coils, err := stepper.NewCoils(gpio, rig.CoilPins)
	require.NoError(t, err)
	exec := stepper.NewExecutor(coils, core.NewSystemClock(), stepper.DefaultExecutorConfig())
	base := newTestServer(t)
	m, err := winder.NewMachine(nil, base.rig.Hardware, exec)
	require.NoError(t, err)
	srv := httptest.NewServer(NewServer(context.Background(), m).Router())
	defer srv.Close()

	for i := 0; i < stepper.QueueCapacity; i++ {
		require.NoError(t, exec.Queue(stepper.StepCommand(1, stepper.Forward, 0)))
	}
	resp, err := http.Post(srv.URL+"/stepper/move", "application/json", bytes.NewBufferString(`{"steps": 5}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "Queue is full", body["message"])
	assert.Equal(t, float64(stepper.QueueCapacity), body["queue_length"])
}

func TestPlan(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodGet, "/plan?turns=300&width=20&awg=20&type=magnet", "")
	require.Equal(t, http.StatusOK, code)
	summary := body["summary"].(map[string]any)
	assert.Equal(t, float64(13), summary["layer_count"])
	assert.Equal(t, float64(306), summary["actual_turns"])
	layers := body["layers"].([]any)
	first := layers[0].(map[string]any)
	assert.Equal(t, float64(24), first["turns"])
	assert.Equal(t, float64(3264), first["steps"])

	code, _ = s.do(t, http.MethodGet, "/plan?turns=300&width=20&awg=50", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(t, http.MethodGet, "/plan?turns=x&width=20&awg=20", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestLogs(t *testing.T) {
	s := newTestServer(t)
	core.ClearLogs()
	log.Infof("api log line")

	code, body := s.do(t, http.MethodGet, "/logs", "")
	assert.Equal(t, http.StatusOK, code)
	lines := body["lines"].([]any)
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[len(lines)-1], "api log line")
}

func TestWinderLifecycle(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodPut, "/winder/config", `{"total_turns": 500, "awg_size": 24}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, float64(500), body["total_turns"])

	code, _ = s.do(t, http.MethodPut, "/winder/config", `{"awg_size": 99}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodGet, "/winder/result", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(t, http.MethodPost, "/winder/start", "")
	assert.Equal(t, http.StatusAccepted, code)
	code, _ = s.do(t, http.MethodPost, "/winder/home", "")
	assert.Equal(t, http.StatusConflict, code)

	require.Eventually(t, func() bool { return s.rig.Hardware.Spindle.Running() }, 2*time.Second, time.Millisecond)
	code, body = s.do(t, http.MethodGet, "/winder/status", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "winding", body["activity"])

	code, _ = s.do(t, http.MethodPost, "/winder/stop", "")
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, s.rig.Machine.Busy())
	assert.False(t, s.rig.Hardware.Spindle.Running())

	code, body = s.do(t, http.MethodGet, "/winder/result", "")
	assert.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, body["layers"])
}

func TestHomeAndEmergencyStop(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.do(t, http.MethodPost, "/winder/home", "")
	assert.Equal(t, http.StatusAccepted, code)
	require.NoError(t, s.rig.Machine.Wait())
	assert.Equal(t, int64(0), s.rig.Traversal.Position())

	code, body := s.do(t, http.MethodPost, "/winder/emergency_stop", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "emergency stop", body["message"])
	assert.False(t, s.rig.Hardware.Spindle.Running())
}

func TestUnknownRouteAndMethod(t *testing.T) {
	s := newTestServer(t)
	resp, err := http.Get(s.URL + "/stepper/move")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(s.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
