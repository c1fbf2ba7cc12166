package protocol

import (
	"context"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coilwinder/core"
)

func TestCRC16(t *testing.T) {
	assert.Equal(t, uint16(0xFFFF), CRC16(nil))
	assert.Equal(t, uint16(0x6F91), CRC16([]byte("123456789")))
	assert.NotEqual(t, CRC16([]byte{1, 2, 3}), CRC16([]byte{1, 2, 4}))
}

func TestAppendFrameLayout(t *testing.T) {
	b, err := AppendFrame(nil, Frame{Seq: 3, More: true, Payload: []byte("hi")})
	require.NoError(t, err)
	require.Len(t, b, 7)
	assert.Equal(t, byte(7), b[0])
	assert.Equal(t, byte(SeqDest|SeqMore|3), b[1])
	assert.Equal(t, "hi", string(b[2:4]))
	crc := CRC16(b[:4])
	assert.Equal(t, []byte{byte(crc >> 8), byte(crc), SyncByte}, b[4:])

	_, err = AppendFrame(nil, Frame{Payload: make([]byte, MaxPayload+1)})
	assert.ErrorIs(t, err, ErrPayloadTooLong)
}

func TestAppendMessageSplitsAndFlags(t *testing.T) {
	text := strings.Repeat("x", 2*MaxPayload+1)
	d := NewDecoder()
	d.Write(AppendMessage(nil, 5, text))

	var frames []Frame
	for f, ok := d.Next(); ok; f, ok = d.Next() {
		frames = append(frames, f)
	}
	require.Len(t, frames, 3)
	assert.True(t, frames[0].More)
	assert.False(t, frames[0].Cont)
	assert.True(t, frames[1].More)
	assert.True(t, frames[1].Cont)
	assert.False(t, frames[2].More)
	assert.True(t, frames[2].Cont)
	assert.Len(t, frames[2].Payload, 1)
	for _, f := range frames {
		assert.Equal(t, uint8(5), f.Seq)
	}

	empty := AppendMessage(nil, 2, "")
	assert.Len(t, empty, MinFrame)
}

func TestDecoderResyncsAfterGarbage(t *testing.T) {
	first, _ := AppendFrame(nil, Frame{Seq: 1, Payload: []byte("status")})
	bad, _ := AppendFrame(nil, Frame{Seq: 2, Payload: []byte("lost")})
	bad[3] ^= 0xFF
	last, _ := AppendFrame(nil, Frame{Seq: 3, Payload: []byte("home")})

	stream := append([]byte{0x01, 0x99, SyncByte}, first...)
	stream = append(stream, bad...)
	stream = append(stream, last...)

	d := NewDecoder()
	// byte by byte, as a slow serial line delivers it
	var got []Frame
	for _, b := range stream {
		d.Write([]byte{b})
		for f, ok := d.Next(); ok; f, ok = d.Next() {
			got = append(got, f)
		}
	}
	require.Len(t, got, 2)
	assert.Equal(t, "status", string(got[0].Payload))
	assert.Equal(t, uint8(1), got[0].Seq)
	assert.Equal(t, "home", string(got[1].Payload))
	assert.Equal(t, uint8(3), got[1].Seq)
	assert.Positive(t, d.Resyncs())
}

// dropFirst discards the first write, as a lost reply would be
type dropFirst struct {
	net.Conn
	dropped atomic.Bool
}

func (d *dropFirst) Write(p []byte) (int, error) {
	if d.dropped.CompareAndSwap(false, true) {
		return len(p), nil
	}
	return d.Conn.Write(p)
}

type link struct {
	client *Client
	calls  atomic.Int32
}

func newLink(t *testing.T, h Handler, lossy bool) *link {
	t.Helper()
	host, board := net.Pipe()
	l := &link{}
	var w net.Conn = board
	if lossy {
		w = &dropFirst{Conn: board}
	}
	ep := NewEndpoint(w, func(req string) string {
		l.calls.Add(1)
		return h(req)
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ep.Serve(ctx, board)
	}()

	l.client = NewClient(host)
	l.client.Timeout = 100 * time.Millisecond
	t.Cleanup(func() {
		cancel()
		l.client.Close()
		board.Close()
		wg.Wait()
	})
	return l
}

func TestCallRoundTrip(t *testing.T) {
	l := newLink(t, func(req string) string { return "ok " + req }, false)
	ctx := context.Background()

	require.NoError(t, l.client.Sync(ctx))
	for _, req := range []string{"status", "move 10", "status"} {
		reply, err := l.client.Call(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "ok "+req, reply)
	}
	assert.Equal(t, int32(3), l.calls.Load(), "repeated text is a new request")
}

func TestLongReplySpansFrames(t *testing.T) {
	long := strings.Repeat("0123456789", 70)
	l := newLink(t, func(string) string { return long }, false)

	reply, err := l.client.Call(context.Background(), "logs")
	require.NoError(t, err)
	assert.Equal(t, long, reply)
}

func TestLongRequestSpansFrames(t *testing.T) {
	l := newLink(t, func(req string) string { return "ok " + req[len(req)-10:] }, false)

	req := `config '` + strings.Repeat(`{"total_turns": 300}`, 10) + `'`
	reply, err := l.client.Call(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "ok "+req[len(req)-10:], reply)
	assert.Equal(t, int32(1), l.calls.Load())
}

func TestLostReplyIsResentWithoutRerunning(t *testing.T) {
	l := newLink(t, func(req string) string { return "ok " + req }, true)

	reply, err := l.client.Call(context.Background(), "wind")
	require.NoError(t, err)
	assert.Equal(t, "ok wind", reply)
	assert.Equal(t, int32(1), l.calls.Load())
}

func TestCallTimesOutAndCancels(t *testing.T) {
	host, board := net.Pipe()
	go func() {
		// swallow requests, never answer
		buf := make([]byte, 64)
		for {
			if _, err := board.Read(buf); err != nil {
				return
			}
		}
	}()
	c := NewClient(host)
	c.Timeout = 20 * time.Millisecond
	c.Retries = 1
	defer func() {
		c.Close()
		board.Close()
	}()

	_, err := c.Call(context.Background(), "status")
	assert.ErrorIs(t, err, ErrTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Call(ctx, "status")
	assert.ErrorIs(t, err, core.ErrCancelled)
}
