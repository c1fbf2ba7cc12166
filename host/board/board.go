// Package board is the host's connection to a winder board running the
// console over the framed serial link
package board

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"coilwinder/host/serial"
	"coilwinder/protocol"
)

// ErrRejected wraps an "err" reply from the board
var ErrRejected = errors.New("board rejected command")

// Board represents a connected winder
type Board struct {
	client *protocol.Client
	port   serial.Port
}

// Connect opens device with the default serial settings
func Connect(ctx context.Context, device string) (*Board, error) {
	port, err := serial.Open(serial.DefaultConfig(device))
	if err != nil {
		return nil, err
	}
	b, err := ConnectPort(ctx, port)
	if err != nil {
		port.Close()
		return nil, err
	}
	return b, nil
}

// ConnectPort runs the link over an already open port and resets the
// board's retransmit tracking
func ConnectPort(ctx context.Context, port serial.Port) (*Board, error) {
	b := &Board{client: protocol.NewClient(port), port: port}
	if err := b.client.Sync(ctx); err != nil {
		b.client.Close()
		return nil, fmt.Errorf("sync with board: %w", err)
	}
	return b, nil
}

// SetTimeout sets how long each attempt waits for a reply
func (b *Board) SetTimeout(d time.Duration) {
	b.client.Timeout = d
}

// Raw sends one console line and returns the reply as received
func (b *Board) Raw(ctx context.Context, line string) (string, error) {
	return b.client.Call(ctx, line)
}

// Command sends one console line. An "ok" reply returns its text after the
// prefix; an "err" reply becomes an ErrRejected error.
func (b *Board) Command(ctx context.Context, line string) (string, error) {
	reply, err := b.client.Call(ctx, line)
	if err != nil {
		return "", err
	}
	switch {
	case reply == "ok" || strings.HasPrefix(reply, "ok "):
		return strings.TrimPrefix(strings.TrimPrefix(reply, "ok"), " "), nil
	case strings.HasPrefix(reply, "err"):
		return "", fmt.Errorf("%w: %s", ErrRejected, strings.TrimSpace(strings.TrimPrefix(reply, "err")))
	}
	return "", fmt.Errorf("malformed reply %q", reply)
}

// Status fetches and parses the key=value status line
func (b *Board) Status(ctx context.Context) (map[string]string, error) {
	text, err := b.Command(ctx, "status")
	if err != nil {
		return nil, err
	}
	return ParseFields(text), nil
}

// ParseFields splits "a=1 b=two c=\"x y\"" into a map; bare words are skipped
func ParseFields(text string) map[string]string {
	out := make(map[string]string)
	for len(text) > 0 {
		text = strings.TrimLeft(text, " ")
		eq := strings.IndexByte(text, '=')
		sp := strings.IndexByte(text, ' ')
		if eq < 0 {
			break
		}
		if sp >= 0 && sp < eq {
			text = text[sp:]
			continue
		}
		key, rest := text[:eq], text[eq+1:]
		if strings.HasPrefix(rest, `"`) {
			if v, err := strconv.QuotedPrefix(rest); err == nil {
				out[key], _ = strconv.Unquote(v)
				text = rest[len(v):]
				continue
			}
		}
		end := strings.IndexByte(rest, ' ')
		if end < 0 {
			end = len(rest)
		}
		out[key] = rest[:end]
		text = rest[end:]
	}
	return out
}

// Close shuts the link and the port
func (b *Board) Close() error {
	return b.client.Close()
}
