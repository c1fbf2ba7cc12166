// Package serial opens the board's USB CDC port for the winder host tool
package serial

import (
	"io"
	"time"
)

// Port is a byte stream to the board. The protocol client only needs
// io.ReadWriteCloser, so tests substitute a net.Pipe.
type Port interface {
	io.ReadWriteCloser
}

// Config describes the serial device
type Config struct {
	Device      string // "/dev/ttyACM0", "COM3"
	Baud        int    // ignored by USB CDC but required by the driver
	ReadTimeout time.Duration
}

// DefaultConfig matches the RP2040 firmware's USB console
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100 * time.Millisecond,
	}
}
