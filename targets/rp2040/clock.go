//go:build rp2040

package main

import (
	"context"
	"runtime"
	"runtime/volatile"
	"time"
	"unsafe"
)

// RP2040 timer peripheral, a free-running 64-bit microsecond counter
const (
	timerBase     = 0x40054000
	timerTIMERAWH = timerBase + 0x24 // raw high word, no latch
	timerTIMERAWL = timerBase + 0x28 // raw low word, no latch
)

var (
	timerRAWH = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWH)))
	timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))
)

// hardwareUptime reads the full 64-bit counter
func hardwareUptime() uint64 {
	for {
		high1 := timerRAWH.Get()
		low := timerRAWL.Get()
		high2 := timerRAWH.Get()
		// retry if the low word rolled over between reads
		if high1 == high2 {
			return uint64(high1)<<32 | uint64(low)
		}
	}
}

// timerClock is a core.Clock on the hardware timer. Sleep yields to the
// TinyGo scheduler so the USB reader and queue processor keep running.
type timerClock struct{}

func (timerClock) Now() time.Duration {
	return time.Duration(hardwareUptime()) * time.Microsecond
}

func (timerClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		runtime.Gosched()
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
