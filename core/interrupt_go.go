//go:build !tinygo

package core

import "sync"

// State is a placeholder for interrupt state on regular Go
type State uintptr

// On regular Go pin "interrupts" are delivered by driver goroutines, which
// take the same lock around each handler call. That keeps a critical
// section and a handler from interleaving, as masking does on hardware.
var interruptLock sync.Mutex

// DisableInterrupts enters a critical section shared with pin handlers
func DisableInterrupts() State {
	interruptLock.Lock()
	return 0
}

// RestoreInterrupts leaves the critical section
func RestoreInterrupts(state State) {
	interruptLock.Unlock()
}
