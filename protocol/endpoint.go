package protocol

import (
	"context"
	"errors"
	"io"
	"sync"
)

// Handler answers one request
type Handler func(request string) string

// Endpoint is the board side of the link. A request carrying the sequence
// number of the previous one is a retransmit: the cached reply is sent again
// and the handler is not called. An empty request resets that tracking and
// is answered with an empty frame.
type Endpoint struct {
	w      io.Writer
	handle Handler

	mu         sync.Mutex
	dec        *Decoder
	lastSeq    int // -1 until the first request
	lastReply  []byte
	pendingSeq int // -1 when no partial request is buffered
	pending    []byte
}

func NewEndpoint(w io.Writer, h Handler) *Endpoint {
	return &Endpoint{w: w, handle: h, dec: NewDecoder(), lastSeq: -1, pendingSeq: -1}
}

// Receive feeds bytes read from the link and answers every complete request
func (e *Endpoint) Receive(p []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.dec.Write(p)
	for {
		f, ok := e.dec.Next()
		if !ok {
			return nil
		}
		if int(f.Seq) == e.lastSeq && len(f.Payload) > 0 {
			// retransmit of an answered request
			if !f.More {
				if err := e.write(e.lastReply); err != nil {
					return err
				}
			}
			continue
		}

		if !f.Cont {
			e.pending = e.pending[:0]
			e.pendingSeq = int(f.Seq)
		} else if e.pendingSeq != int(f.Seq) {
			// first frame was lost; wait for the retransmit
			continue
		}
		e.pending = append(e.pending, f.Payload...)
		if f.More {
			continue
		}

		request := string(e.pending)
		e.pending, e.pendingSeq = e.pending[:0], -1
		if request == "" {
			e.lastSeq, e.lastReply = -1, nil
			if err := e.write(AppendMessage(nil, f.Seq, "")); err != nil {
				return err
			}
			continue
		}
		e.lastSeq = int(f.Seq)
		e.lastReply = AppendMessage(nil, f.Seq, e.handle(request))
		if err := e.write(e.lastReply); err != nil {
			return err
		}
	}
}

func (e *Endpoint) write(b []byte) error {
	_, err := e.w.Write(b)
	return err
}

// Serve reads from r until EOF or ctx is done. A blocked read only returns
// when r is closed.
func (e *Endpoint) Serve(ctx context.Context, r io.Reader) error {
	buf := make([]byte, 256)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			if werr := e.Receive(buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Resyncs counts framing errors seen on the link
func (e *Endpoint) Resyncs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dec.Resyncs()
}
