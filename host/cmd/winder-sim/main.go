package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"coilwinder/console"
	"coilwinder/core"
	"coilwinder/host/api"
	"coilwinder/host/jobfile"
	"coilwinder/sim/rig"
)

var (
	addr       = flag.String("addr", ":8080", "HTTP listen address")
	configPath = flag.String("config", "", "Winding job, JSON or YAML (defaults to a 2-layer AWG 20 coil)")
	homeAt     = flag.Int64("home-at", 0, "Traversal position where the simulated home sensor trips")
	start      = flag.Int64("start", 400, "Traversal position at power-up")
	maxRPM     = flag.Float64("max-rpm", 240, "Simulated spindle speed at full drive")
	debug      = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	core.SetDebugWriter(func(s string) { stdlog.Println(s) })
	core.SetDebugEnabled(*debug)
	core.InitAsyncDebug()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := rig.DefaultOptions()
	opts.StartPosition = *start
	opts.HomeAt = *homeAt
	opts.MaxRPM = *maxRPM
	if *configPath != "" {
		cfg, err := jobfile.Load(*configPath)
		if err != nil {
			stdlog.Fatalf("config: %v", err)
		}
		opts.Config = cfg
		opts.SlotsPerRev = cfg.SlotsPerRev
	}

	r, err := rig.New(ctx, opts)
	if err != nil {
		stdlog.Fatalf("build simulator: %v", err)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           api.NewServer(ctx, r.Machine).Handler(os.Stderr),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			stdlog.Fatalf("http: %v", err)
		}
	}()
	fmt.Printf("Coil winder simulator: HTTP on %s, console on stdin (type help)\n", *addr)

	go func() {
		if err := console.New(ctx, r.Machine).Serve(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, core.ErrCancelled) {
			stdlog.Printf("console: %v", err)
		}
		stop()
	}()

	<-ctx.Done()
	r.Machine.EmergencyStop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}
