package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"coilwinder/core"
)

const (
	DefaultTimeout = 2 * time.Second
	DefaultRetries = 2
)

var log = core.NewLogger("link")

var (
	ErrTimeout = errors.New("no reply from board")
	ErrClosed  = errors.New("link closed")
)

// Client is the host side of the link: it sends one request at a time and
// retransmits it with the same sequence number when the reply is late
type Client struct {
	Timeout time.Duration // per attempt
	Retries int

	port io.ReadWriteCloser

	callMu sync.Mutex
	next   uint8

	frames chan Frame
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewClient starts the background reader on port
func NewClient(port io.ReadWriteCloser) *Client {
	c := &Client{
		Timeout: DefaultTimeout,
		Retries: DefaultRetries,
		port:    port,
		frames:  make(chan Frame, 16),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Call sends request and returns the reassembled reply
func (c *Client) Call(ctx context.Context, request string) (string, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	seq := c.next
	msg := AppendMessage(nil, seq, request)

	for attempt := 0; attempt <= c.Retries; attempt++ {
		if attempt > 0 {
			log.Debugf("retransmit seq %d (attempt %d)", seq, attempt+1)
		}
		if _, err := c.port.Write(msg); err != nil {
			return "", fmt.Errorf("write request: %w", err)
		}
		reply, err := c.collect(ctx, seq)
		if err == nil {
			c.next = (seq + 1) & SeqMask
			return reply, nil
		}
		if !errors.Is(err, ErrTimeout) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrTimeout, c.Retries+1)
}

// Sync resets the board's retransmit tracking; call it once after opening
// the link
func (c *Client) Sync(ctx context.Context) error {
	_, err := c.Call(ctx, "")
	return err
}

// collect gathers the frames of one reply; frames for other sequence numbers
// are stale and dropped. A frame without SeqCont restarts the reply, which
// discards the remains of an earlier partial copy.
func (c *Client) collect(ctx context.Context, seq uint8) (string, error) {
	timer := time.NewTimer(c.Timeout)
	defer timer.Stop()

	var reply strings.Builder
	for {
		select {
		case f := <-c.frames:
			if f.Seq != seq {
				continue
			}
			if !f.Cont {
				reply.Reset()
			}
			reply.Write(f.Payload)
			if !f.More {
				return reply.String(), nil
			}
		case <-timer.C:
			return "", ErrTimeout
		case <-ctx.Done():
			return "", core.Cancelled(ctx.Err())
		case <-c.done:
			return "", ErrClosed
		}
	}
}

func (c *Client) readLoop() {
	defer close(c.done)

	dec := NewDecoder()
	buf := make([]byte, 256)
	for {
		n, err := c.port.Read(buf)
		if n > 0 {
			dec.Write(buf[:n])
			for f, ok := dec.Next(); ok; f, ok = dec.Next() {
				select {
				case c.frames <- f:
				case <-c.stop:
					return
				}
			}
		}
		if err != nil {
			select {
			case <-c.stop:
				return
			default:
			}
			// serial reads time out with io.EOF; keep polling
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// Close stops the reader and closes the port
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.stop)
		err = c.port.Close()
		<-c.done
	})
	return err
}
