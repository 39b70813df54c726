// Package stream implements the streaming engine: a dedicated reader
// goroutine that drains the interrupt transport, decodes frames through the
// protocol codec, and hands samples to consumers through a bounded, lossy
// channel. A full channel drops the sample; the reader never stalls.
package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"sixdof/internal/config"
	"sixdof/internal/protocol"
	"sixdof/internal/transport"
	"sixdof/internal/xerrors"
	"sixdof/internal/xlog"
)

const (
	queueCapacity = 256

	readTimeout = 150 * time.Millisecond

	// recoverableSleep paces the reader between consecutive recoverable
	// transport errors.
	recoverableSleep = 10 * time.Millisecond

	// maxConsecutiveErrors is the fatal threshold: a device emitting
	// nothing but errors for this many reads in a row is gone.
	maxConsecutiveErrors = 1000

	// thinningBurst/thinningStride thin the recoverable-error log lines:
	// the first few in full, then one per stride.
	thinningBurst  = 5
	thinningStride = 50

	// debugRawFrameLimit bounds the raw-payload hex dump when
	// DebugRawFrames is on.
	debugRawFrameLimit = 20
)

// Stream is a live pose stream backed by a dedicated reader goroutine. The
// reader owns the transport handle exclusively from the moment Start
// returns.
type Stream struct {
	samples chan protocol.PoseSample
	stop    atomic.Bool
	done    chan struct{}
	once    sync.Once

	drops atomic.Uint64
}

// Start spawns the reader goroutine over t and returns a Stream handle. t
// is moved into the reader: no other goroutine may use it afterwards.
func Start(t transport.Transport, mode config.RotationParse, debugRaw bool) *Stream {
	s := &Stream{
		samples: make(chan protocol.PoseSample, queueCapacity),
		done:    make(chan struct{}),
	}
	go s.readLoop(t, mode, debugRaw)
	return s
}

// Recv blocks until a sample is available or the stream has stopped.
func (s *Stream) Recv() (protocol.PoseSample, error) {
	sample, ok := <-s.samples
	if !ok {
		return protocol.PoseSample{}, xerrors.StreamStopped("stream.Recv")
	}
	return sample, nil
}

// TryRecv returns a sample without blocking, or (false) if none is queued.
func (s *Stream) TryRecv() (protocol.PoseSample, bool) {
	select {
	case sample, ok := <-s.samples:
		if !ok {
			return protocol.PoseSample{}, false
		}
		return sample, true
	default:
		return protocol.PoseSample{}, false
	}
}

// RecvTimeout blocks until a sample is available, the stream stops, or the
// timeout elapses.
func (s *Stream) RecvTimeout(d time.Duration) (protocol.PoseSample, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case sample, ok := <-s.samples:
		if !ok {
			return protocol.PoseSample{}, xerrors.StreamStopped("stream.RecvTimeout")
		}
		return sample, nil
	case <-timer.C:
		return protocol.PoseSample{}, xerrors.Timeout("stream.RecvTimeout")
	}
}

// IsActive reports whether the reader is still running.
func (s *Stream) IsActive() bool {
	return !s.stop.Load()
}

// DroppedSamples returns the number of samples dropped because the queue
// was full.
func (s *Stream) DroppedSamples() uint64 {
	return s.drops.Load()
}

// Stop requests the reader to exit and waits for it to finish. Safe to
// call more than once and safe to call concurrently with Recv.
func (s *Stream) Stop() {
	s.once.Do(func() {
		s.stop.Store(true)
		<-s.done
	})
}

func (s *Stream) readLoop(t transport.Transport, mode config.RotationParse, debugRaw bool) {
	defer close(s.done)
	defer close(s.samples)
	defer t.Close()

	epoch := time.Now()
	consecutiveErrors := 0
	rawDumped := 0

	for {
		if s.stop.Load() {
			return
		}

		frame, err := t.ReadInterrupt(readTimeout)
		if err != nil {
			if transport.IsTimeout(err) || xerrors.Is(err, xerrors.KindTimeout) {
				continue
			}
			if isFatal(err) {
				xlog.Errorf("stream: fatal transport error, stopping: %v", err)
				s.stop.Store(true)
				return
			}

			consecutiveErrors++
			if consecutiveErrors <= thinningBurst || consecutiveErrors%thinningStride == 0 {
				xlog.Warnf("stream: recoverable read error (%d): %v", consecutiveErrors, err)
			}
			t.ClearHalt()
			time.Sleep(recoverableSleep)
			if consecutiveErrors >= maxConsecutiveErrors {
				xlog.Errorf("stream: too many recoverable errors, stopping")
				s.stop.Store(true)
				return
			}
			continue
		}
		consecutiveErrors = 0

		if debugRaw && rawDumped < debugRawFrameLimit {
			rawDumped++
			xlog.Tracef("stream: raw frame %d/%d: % x", rawDumped, debugRawFrameLimit, frame)
		}

		packet := normalize(frame, t.NormalizesFrame())
		sample, ok := protocol.ParsePose(packet, epoch, mode)
		if !ok {
			continue
		}

		select {
		case s.samples <- sample:
		default:
			s.drops.Add(1)
			xlog.Tracef("stream: queue full, dropped sample (total dropped: %d)", s.drops.Load())
		}
	}
}

// normalize pads a raw-USB interrupt frame (which starts at the opcode
// echo) with the leading report tag so the codec sees the layout it
// expects.
func normalize(frame []byte, alreadyNormalized bool) []byte {
	if alreadyNormalized {
		return frame
	}
	out := make([]byte, len(frame)+1)
	out[0] = protocol.PrefixDeviceToHost
	copy(out[1:], frame)
	return out
}

// isFatal reports whether err indicates the device has disappeared, as
// opposed to a transient I/O condition.
func isFatal(err error) bool {
	return xerrors.Is(err, xerrors.KindDeviceNotFound)
}
