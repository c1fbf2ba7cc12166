package core

import (
	"fmt"
	"sync"
)

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// Level orders log lines by severity
type Level uint8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

const (
	LogRingSize = 128 // Keep the last 128 lines for the control surface
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {} // No-op by default

	// logLevel is the lowest level that is written and recorded
	logLevel = LevelInfo

	// Recent lines, oldest overwritten first
	logMu       sync.Mutex
	logRing     [LogRingSize]string
	logRingHead int
	logRingLen  int

	// Async debug output channel
	debugChan chan string
)

// SetDebugWriter sets the platform-specific debug output function
// This allows platforms to redirect debug output to UART, USB, etc.
func SetDebugWriter(writer DebugWriter) {
	logMu.Lock()
	debugPrintln = writer
	logMu.Unlock()
}

// SetLogLevel sets the lowest level that is written and recorded
func SetLogLevel(level Level) {
	logMu.Lock()
	logLevel = level
	logMu.Unlock()
}

// SetDebugEnabled switches between debug and info as the lowest level
func SetDebugEnabled(enabled bool) {
	if enabled {
		SetLogLevel(LevelDebug)
	} else {
		SetLogLevel(LevelInfo)
	}
}

// IsDebugEnabled returns whether debug lines are written
func IsDebugEnabled() bool {
	logMu.Lock()
	defer logMu.Unlock()
	return logLevel == LevelDebug
}

// InitAsyncDebug starts the async debug output goroutine
// Call this from main() after SetDebugWriter
func InitAsyncDebug() {
	logMu.Lock()
	defer logMu.Unlock()
	if debugChan != nil {
		return
	}
	debugChan = make(chan string, 16) // Buffer 16 messages
	go debugOutputWorker(debugChan)
}

// debugOutputWorker runs in background, drains debug channel
func debugOutputWorker(ch chan string) {
	for msg := range ch {
		logMu.Lock()
		w := debugPrintln
		logMu.Unlock()
		if w != nil {
			w(msg)
		}
	}
}

// DebugPrintln writes a line straight to the platform writer, bypassing
// levels and the ring
func DebugPrintln(msg string) {
	logMu.Lock()
	w := debugPrintln
	logMu.Unlock()
	if w != nil {
		w(msg)
	}
}

// RecentLogs returns the recorded lines, oldest first
func RecentLogs() []string {
	logMu.Lock()
	defer logMu.Unlock()
	out := make([]string, 0, logRingLen)
	start := (logRingHead - logRingLen + LogRingSize) % LogRingSize
	for i := 0; i < logRingLen; i++ {
		out = append(out, logRing[(start+i)%LogRingSize])
	}
	return out
}

// ClearLogs empties the ring
func ClearLogs() {
	logMu.Lock()
	defer logMu.Unlock()
	for i := range logRing {
		logRing[i] = ""
	}
	logRingHead = 0
	logRingLen = 0
}

func writeLog(level Level, component, msg string) {
	line := "[" + level.String() + "] [" + component + "] " + msg

	logMu.Lock()
	if level < logLevel {
		logMu.Unlock()
		return
	}
	logRing[logRingHead] = line
	logRingHead = (logRingHead + 1) % LogRingSize
	if logRingLen < LogRingSize {
		logRingLen++
	}
	w, ch := debugPrintln, debugChan
	logMu.Unlock()

	if ch != nil {
		select {
		case ch <- line:
		default:
			// Channel full, drop message (non-blocking)
		}
		return
	}
	if w != nil {
		w(line)
	}
}

// Logger tags lines with a component name. Never call it from a pin handler.
type Logger struct {
	component string
}

// NewLogger returns a logger for one component
func NewLogger(component string) Logger {
	return Logger{component: component}
}

func (l Logger) Debugf(format string, args ...any) {
	writeLog(LevelDebug, l.component, fmt.Sprintf(format, args...))
}

func (l Logger) Infof(format string, args ...any) {
	writeLog(LevelInfo, l.component, fmt.Sprintf(format, args...))
}

func (l Logger) Warnf(format string, args ...any) {
	writeLog(LevelWarn, l.component, fmt.Sprintf(format, args...))
}

func (l Logger) Errorf(format string, args ...any) {
	writeLog(LevelError, l.component, fmt.Sprintf(format, args...))
}
