// Package xlog provides the package-level logger used across the driver.
// All narration goes through a single *log.Logger so tests and embedding
// programs can redirect output instead of fighting the global log package.
package xlog

import (
	"io"
	"log"
	"os"
	"sync"
)

var (
	mu     sync.RWMutex
	logger = log.New(os.Stderr, "sixdof: ", log.LstdFlags|log.Lmicroseconds)
)

// SetOutput redirects all driver log output to w. Used by tests to silence
// or capture the reader-thread narration.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = log.New(w, "sixdof: ", log.LstdFlags|log.Lmicroseconds)
}

func get() *log.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Printf logs an informational line.
func Printf(format string, args ...any) { get().Printf(format, args...) }

// Warnf logs a warning line — used for advisory/non-fatal failures such as a
// missing startup acknowledgment or a recoverable read error.
func Warnf(format string, args ...any) { get().Printf("WARN "+format, args...) }

// Errorf logs an error line — used for fatal transport conditions.
func Errorf(format string, args ...any) { get().Printf("ERROR "+format, args...) }

// Tracef logs a trace line — used for the high-frequency reader-loop
// chatter (dropped samples, raw-frame dumps) that would otherwise flood the
// log at ~950 Hz.
func Tracef(format string, args ...any) { get().Printf("TRACE "+format, args...) }
