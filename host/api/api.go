// Package api serves the winder's HTTP control surface: the queued coil
// stepper, the layer planner and the winding job.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"coilwinder/core"
	"coilwinder/planner"
	"coilwinder/stepper"
	"coilwinder/winder"
)

var log = core.NewLogger("api")

// Server exposes a machine over HTTP
type Server struct {
	ctx context.Context // parent of jobs started over HTTP
	m   *winder.Machine
}

func NewServer(ctx context.Context, m *winder.Machine) *Server {
	return &Server{ctx: ctx, m: m}
}

// Router returns the bare route table
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/stepper/move", s.move).Methods(http.MethodPost)
	r.HandleFunc("/stepper/status", s.stepperStatus).Methods(http.MethodGet)
	r.HandleFunc("/stepper/clear", s.clear).Methods(http.MethodPost)
	r.HandleFunc("/stepper/reset_counter", s.resetCounter).Methods(http.MethodPost)

	r.HandleFunc("/plan", s.plan).Methods(http.MethodGet)
	r.HandleFunc("/logs", s.logs).Methods(http.MethodGet)

	r.HandleFunc("/winder/status", s.winderStatus).Methods(http.MethodGet)
	r.HandleFunc("/winder/config", s.getConfig).Methods(http.MethodGet)
	r.HandleFunc("/winder/config", s.putConfig).Methods(http.MethodPut)
	r.HandleFunc("/winder/start", s.start).Methods(http.MethodPost)
	r.HandleFunc("/winder/home", s.home).Methods(http.MethodPost)
	r.HandleFunc("/winder/stop", s.stop).Methods(http.MethodPost)
	r.HandleFunc("/winder/emergency_stop", s.emergencyStop).Methods(http.MethodPost)
	r.HandleFunc("/winder/result", s.result).Methods(http.MethodGet)

	return r
}

// Handler wraps the router with request logging and panic recovery
func (s *Server) Handler(accessLog io.Writer) http.Handler {
	if accessLog == nil {
		accessLog = os.Stdout
	}
	recovered := handlers.RecoveryHandler(handlers.PrintRecoveryStack(false))(s.Router())
	return handlers.LoggingHandler(accessLog, recovered)
}

// reply is the envelope every endpoint answers with
type reply struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type moveRequest struct {
	Steps     *int     `json:"steps"`
	Direction *int     `json:"direction"`
	Delay     *float64 `json:"delay"` // ms
}

type moveReply struct {
	reply
	QueueLength int `json:"queue_length"`
}

type stepperStatus struct {
	reply
	QueueLength int    `json:"queue_length"`
	IsExecuting bool   `json:"is_executing"`
	TotalSteps  uint64 `json:"total_steps"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("encode reply: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, reply{Status: "error", Message: err.Error()})
}

func ok(msg string) reply {
	return reply{Status: "success", Message: msg}
}

// statusFor maps domain errors onto HTTP codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, winder.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, core.ErrInvalidGeometry):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) executor(w http.ResponseWriter) *stepper.Executor {
	e := s.m.Executor()
	if e == nil {
		writeError(w, http.StatusNotFound, errors.New("no coil stepper fitted"))
	}
	return e
}

// move queues a coil stepper command. Defaults follow the bench UI: 1024
// steps forward at the executor's step delay.
func (s *Server) move(w http.ResponseWriter, req *http.Request) {
	e := s.executor(w)
	if e == nil {
		return
	}
	var body moveRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("bad request body: %w", err))
		return
	}
	steps, dirVal := 1024, 1
	if body.Steps != nil {
		steps = *body.Steps
	}
	if body.Direction != nil {
		dirVal = *body.Direction
	}
	dir, err := stepper.ParseDirection(dirVal)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var delay time.Duration
	if body.Delay != nil {
		if *body.Delay < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("negative delay %v", *body.Delay))
			return
		}
		delay = time.Duration(*body.Delay * float64(time.Millisecond))
	}

	cmd := stepper.StepCommand(steps, dir, delay)
	if err := e.Queue(cmd); err != nil {
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			code = http.StatusBadRequest
		}
		msg := err.Error()
		if errors.Is(err, core.ErrQueueFull) {
			msg = "Queue is full"
		}
		writeJSON(w, code, moveReply{reply: reply{Status: "error", Message: msg}, QueueLength: e.QueueLength()})
		return
	}
	log.Infof("queued %d steps %s", steps, dir)
	writeJSON(w, http.StatusOK, moveReply{
		reply:       ok(fmt.Sprintf("Queued %d steps %s", steps, dir)),
		QueueLength: e.QueueLength(),
	})
}

func (s *Server) stepperStatus(w http.ResponseWriter, _ *http.Request) {
	e := s.executor(w)
	if e == nil {
		return
	}
	writeJSON(w, http.StatusOK, stepperStatus{
		reply:       reply{Status: "success"},
		QueueLength: e.QueueLength(),
		IsExecuting: e.IsExecuting(),
		TotalSteps:  e.TotalSteps(),
	})
}

func (s *Server) clear(w http.ResponseWriter, _ *http.Request) {
	if e := s.executor(w); e != nil {
		e.ClearQueue()
		writeJSON(w, http.StatusOK, ok("Queue cleared"))
	}
}

func (s *Server) resetCounter(w http.ResponseWriter, _ *http.Request) {
	if e := s.executor(w); e != nil {
		e.ResetStepCount()
		writeJSON(w, http.StatusOK, ok("Step counter reset to 0"))
	}
}

type planReply struct {
	reply
	Summary        planner.Summary `json:"summary"`
	WireDiameterMM float64         `json:"wire_diameter_mm"`
	StepsPerTurn   float64         `json:"steps_per_turn"`
	Layers         []planner.Layer `json:"layers"`
}

// plan answers GET /plan?turns=&width=&awg=&type=
func (s *Server) plan(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	var err error
	parseInt := func(key string) int {
		if err != nil {
			return 0
		}
		var v int
		v, err = strconv.Atoi(q.Get(key))
		if err != nil {
			err = fmt.Errorf("bad %s %q", key, q.Get(key))
		}
		return v
	}
	turns := parseInt("turns")
	awg := parseInt("awg")
	var width float64
	if err == nil {
		if width, err = strconv.ParseFloat(q.Get("width"), 64); err != nil {
			err = fmt.Errorf("bad width %q", q.Get("width"))
		}
	}
	var wire planner.WireType
	if err == nil {
		wire, err = planner.ParseWireType(q.Get("type"))
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cfg := s.m.Config()
	p, err := planner.ForWire(turns, width, awg, wire, cfg.Geometry())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, planReply{
		reply:          reply{Status: "success"},
		Summary:        p.Summary(),
		WireDiameterMM: p.WireDiameterMM,
		StepsPerTurn:   p.StepsPerTurn,
		Layers:         p.Layers,
	})
}

func (s *Server) logs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		reply
		Lines []string `json:"lines"`
	}{reply{Status: "success"}, core.RecentLogs()})
}

func (s *Server) winderStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.m.Status())
}

func (s *Server) getConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.m.Config())
}

func (s *Server) putConfig(w http.ResponseWriter, req *http.Request) {
	data, err := io.ReadAll(req.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg, err := winder.LoadConfig(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.m.SetConfig(cfg); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) start(w http.ResponseWriter, _ *http.Request) {
	if err := s.m.StartWind(s.ctx); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, ok("winding started"))
}

func (s *Server) home(w http.ResponseWriter, _ *http.Request) {
	if err := s.m.StartHome(s.ctx); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, ok("homing started"))
}

func (s *Server) stop(w http.ResponseWriter, _ *http.Request) {
	err := s.m.Stop()
	if err != nil && !errors.Is(err, core.ErrCancelled) {
		writeJSON(w, http.StatusOK, reply{Status: "success", Message: "stopped: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ok("stopped"))
}

func (s *Server) emergencyStop(w http.ResponseWriter, _ *http.Request) {
	s.m.EmergencyStop()
	writeJSON(w, http.StatusOK, ok("emergency stop"))
}

func (s *Server) result(w http.ResponseWriter, _ *http.Request) {
	res := s.m.LastResult()
	if res == nil {
		writeError(w, http.StatusNotFound, errors.New("no job has run"))
		return
	}
	writeJSON(w, http.StatusOK, res)
}
