package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"coilwinder/host/board"
	"coilwinder/host/jobfile"
	"coilwinder/host/serial"
)

var (
	device  = flag.String("device", "/dev/ttyACM0", "Serial device path")
	baud    = flag.Int("baud", 115200, "Baud rate (ignored for USB CDC)")
	timeout = flag.Duration("timeout", 2*time.Second, "Per-attempt reply timeout")
	watch   = flag.Duration("watch", 500*time.Millisecond, "Refresh interval for the watch command")
)

func main() {
	flag.Parse()

	ctx := context.Background()

	fmt.Println("Coil Winder Host")
	fmt.Println("================")
	fmt.Printf("Connecting to board on %s...\n", *device)

	cfg := serial.DefaultConfig(*device)
	cfg.Baud = *baud
	port, err := serial.Open(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	b, err := board.ConnectPort(ctx, port)
	if err != nil {
		port.Close()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer b.Close()
	b.SetTimeout(*timeout)
	fmt.Println("Connected. Board commands are passed through; 'load <file>' sends a job file, 'watch' polls status, 'quit' exits.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "quit", "exit", "q":
			fmt.Println("Goodbye!")
			return
		case "load":
			if len(fields) != 2 {
				fmt.Fprintln(os.Stderr, "usage: load <job.json|job.yaml>")
				continue
			}
			reply, err := loadJob(ctx, b, fields[1])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				continue
			}
			fmt.Println(reply)
		case "watch":
			if err := watchStatus(ctx, b); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
		default:
			reply, err := b.Raw(ctx, line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				continue
			}
			fmt.Println(reply)
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}
}

// loadJob validates a job file locally, then replaces the board's
// configuration with it
func loadJob(ctx context.Context, b *board.Board, path string) (string, error) {
	cfg, err := jobfile.Load(path)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	return b.Command(ctx, "config '"+string(data)+"'")
}

// watchStatus prints the board status until the activity returns to idle or
// the operator interrupts
func watchStatus(ctx context.Context, b *board.Board) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	ticker := time.NewTicker(*watch)
	defer ticker.Stop()
	for {
		s, err := b.Status(ctx)
		if err != nil {
			return err
		}
		printStatus(s)
		if s["activity"] == "idle" {
			return nil
		}
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case <-ticker.C:
		}
	}
}

func printStatus(s map[string]string) {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+s[k])
	}
	fmt.Println(strings.Join(parts, "  "))
}
