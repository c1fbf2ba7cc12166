//go:build rp2040

package main

import (
	"errors"
	"machine"
)

var errUSBStalled = errors.New("usb write made no progress")

// InitUSB configures machine.Serial, which is USB CDC on the Pico
func InitUSB() {
	machine.Serial.Configure(machine.UARTConfig{})
}

// usbLink is the console link's writer. After repeated failed writes it
// reports the host as gone so the reader can reset the link state.
type usbLink struct {
	failures     uint32
	disconnected bool
}

func (u *usbLink) Write(data []byte) (int, error) {
	written := 0
	for written < len(data) {
		n, err := machine.Serial.Write(data[written:])
		if err == nil && n == 0 {
			err = errUSBStalled
		}
		if err != nil {
			u.failures++
			if u.failures > 10 {
				u.disconnected = true
				u.failures = 0
			}
			return written, err
		}
		written += n
	}
	u.failures = 0
	return written, nil
}

// readAvailable copies buffered USB bytes into buf without blocking
func readAvailable(buf []byte) int {
	n := 0
	for n < len(buf) && machine.Serial.Buffered() > 0 {
		b, err := machine.Serial.ReadByte()
		if err != nil {
			break
		}
		buf[n] = b
		n++
	}
	return n
}
