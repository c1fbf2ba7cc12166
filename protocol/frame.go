package protocol

import (
	"bytes"
	"errors"
)

// ErrPayloadTooLong rejects a payload that does not fit one frame
var ErrPayloadTooLong = errors.New("payload too long for one frame")

// AppendFrame encodes f onto dst
func AppendFrame(dst []byte, f Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return dst, ErrPayloadTooLong
	}
	start := len(dst)
	dst = append(dst, byte(MinFrame+len(f.Payload)), f.seqByte())
	dst = append(dst, f.Payload...)
	crc := CRC16(dst[start:])
	return append(dst, byte(crc>>8), byte(crc), SyncByte), nil
}

// AppendMessage splits text into frames for seq; empty text is one empty
// frame
func AppendMessage(dst []byte, seq uint8, text string) []byte {
	payload := []byte(text)
	cont := false
	for {
		chunk := payload
		if len(chunk) > MaxPayload {
			chunk = chunk[:MaxPayload]
		}
		payload = payload[len(chunk):]
		// chunk never exceeds MaxPayload
		dst, _ = AppendFrame(dst, Frame{Seq: seq, More: len(payload) > 0, Cont: cont, Payload: chunk})
		if len(payload) == 0 {
			return dst
		}
		cont = true
	}
}

// Decoder reassembles frames from a byte stream. After a length, sequence,
// trailer or CRC error it discards input up to the next sync byte.
type Decoder struct {
	buf     bytes.Buffer
	lost    bool
	resyncs int
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Write buffers received bytes; it never fails
func (d *Decoder) Write(p []byte) (int, error) {
	return d.buf.Write(p)
}

// Next returns the next complete frame, or false when more input is needed
func (d *Decoder) Next() (Frame, bool) {
	for {
		data := d.buf.Bytes()
		if d.lost {
			i := bytes.IndexByte(data, SyncByte)
			if i < 0 {
				d.buf.Reset()
				return Frame{}, false
			}
			d.buf.Next(i + 1)
			d.lost = false
			continue
		}

		if len(data) > 0 && data[0] == SyncByte {
			d.buf.Next(1)
			continue
		}
		if len(data) < MinFrame {
			return Frame{}, false
		}

		n := int(data[0])
		if n < MinFrame || !validSeq(data[1]) {
			d.resync()
			continue
		}
		if len(data) < n {
			return Frame{}, false
		}
		if data[n-1] != SyncByte {
			d.resync()
			continue
		}
		want := uint16(data[n-TrailerSize])<<8 | uint16(data[n-TrailerSize+1])
		if CRC16(data[:n-TrailerSize]) != want {
			d.resync()
			continue
		}

		f := Frame{
			Seq:     data[1] & SeqMask,
			More:    data[1]&SeqMore != 0,
			Cont:    data[1]&SeqCont != 0,
			Payload: append([]byte(nil), data[HeaderSize:n-TrailerSize]...),
		}
		d.buf.Next(n)
		return f, true
	}
}

func (d *Decoder) resync() {
	d.lost = true
	d.resyncs++
}

// Resyncs counts framing errors since creation
func (d *Decoder) Resyncs() int {
	return d.resyncs
}

// Reset drops buffered input
func (d *Decoder) Reset() {
	d.buf.Reset()
	d.lost = false
}
