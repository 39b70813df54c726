// Package transport defines the abstract capability the device session and
// streaming engine depend on, decoupling both from the concrete USB/HID
// backend. Two implementations exist: rawusb and featurereport, built on the
// same gousb control-transfer primitive and differing in claim/detach
// discipline and in the settle delay featurereport waits before reading an
// acknowledgment.
package transport

import (
	"time"

	"sixdof/internal/xerrors"
)

// Transport is a synchronous command/response channel plus an interrupt-IN
// read with timeout. It owns exactly one open device handle; Close releases
// it. Implementations must never block ReadInterrupt past the given timeout.
type Transport interface {
	// Command writes a 63-byte frame and returns whatever acknowledgment the
	// device produced. A read failure on the acknowledgment is reported
	// through err only when the backend cannot distinguish it from a write
	// failure; callers (internal/session) treat most acknowledgments as
	// advisory and decide fatality themselves.
	Command(frame []byte) (ack []byte, err error)

	// ReadInterrupt reads one frame from the streaming path with the given
	// timeout. Returns (nil, context.DeadlineExceeded)-classified timeout
	// errors distinguishably from hard failures; see IsTimeout.
	ReadInterrupt(timeout time.Duration) ([]byte, error)

	// NormalizesFrame reports whether ReadInterrupt's result already begins
	// with the 0x01 report tag. The raw-USB backend does not: its interrupt
	// transfers start directly at the opcode echo, and the Streaming Engine
	// must prepend the tag before handing the frame to the codec.
	NormalizesFrame() bool

	// ClearHalt is called by the reader's recoverable-error path to clear a
	// stall condition on the streaming endpoint. Both backends in this
	// module implement it as a no-op that returns nil.
	ClearHalt() error

	Close() error
}

// IsTimeout reports whether err represents a read timeout rather than a
// hard transport failure.
func IsTimeout(err error) bool {
	if xerrors.Is(err, xerrors.KindTimeout) {
		return true
	}
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}
