package stream

import (
	"encoding/hex"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sixdof/internal/config"
	"sixdof/internal/transport"
	"sixdof/internal/xerrors"
)

const canonicalPoseHex = "01 A2 33 6B D1 25 5F 58 01 00 00 1E 00 00 00 C3 01 00 00 62 C0 3A 03 2D 06 5A FD 56 C0 F3 05 72 06 A9 05 6C 3F A0 56 7D 00 F3 FF F2 FF 00 00 00 00 00 00 04 00 09 00 07 00 2B 41 00 00 00 00"

func canonicalFrame(t *testing.T) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.ReplaceAll(canonicalPoseHex, " ", ""))
	require.NoError(t, err)
	return b
}

// fakeTransport feeds queued frames/errors to ReadInterrupt on demand and
// tracks Close.
type fakeTransport struct {
	mu         sync.Mutex
	frames     [][]byte
	errs       []error
	idx        int
	closed     atomic.Bool
	normalizes bool
	clearHalts atomic.Int64
}

func (f *fakeTransport) Command([]byte) ([]byte, error) { return nil, nil }

func (f *fakeTransport) ReadInterrupt(timeout time.Duration) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.frames) && f.idx >= len(f.errs) {
		time.Sleep(timeout)
		return nil, timeoutErr{}
	}
	var frame []byte
	var err error
	if f.idx < len(f.frames) {
		frame = f.frames[f.idx]
	}
	if f.idx < len(f.errs) {
		err = f.errs[f.idx]
	}
	f.idx++
	return frame, err
}

type timeoutErr struct{}

func (timeoutErr) Error() string { return "timeout" }
func (timeoutErr) Timeout() bool { return true }

func (f *fakeTransport) NormalizesFrame() bool { return f.normalizes }
func (f *fakeTransport) ClearHalt() error      { f.clearHalts.Add(1); return nil }
func (f *fakeTransport) Close() error          { f.closed.Store(true); return nil }

var _ transport.Transport = (*fakeTransport)(nil)

func TestStream_DecodesAndDelivers(t *testing.T) {
	frame := canonicalFrame(t)
	ft := &fakeTransport{frames: [][]byte{frame}, errs: []error{nil}, normalizes: true}

	s := Start(ft, config.RotationAuto, false)
	defer s.Stop()

	sample, err := s.RecvTimeout(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, uint64(1596313963), sample.TimestampUS)
}

// RecvTimeout returns a Timeout error when no sample arrives in time.
func TestStream_RecvTimeoutElapses(t *testing.T) {
	ft := &fakeTransport{normalizes: true} // never produces a frame
	s := Start(ft, config.RotationAuto, false)
	defer s.Stop()

	_, err := s.RecvTimeout(50 * time.Millisecond)
	require.Error(t, err)
	require.True(t, xerrors.Is(err, xerrors.KindTimeout))
}

func TestStream_StopIsIdempotentAndClosesTransport(t *testing.T) {
	ft := &fakeTransport{normalizes: true}
	s := Start(ft, config.RotationAuto, false)

	s.Stop()
	s.Stop() // must not panic or block twice
	require.True(t, ft.closed.Load())
	require.False(t, s.IsActive())
}

// When consumers stop draining, the channel fills and further samples are
// dropped rather than blocking the reader; the drop counter reflects
// exactly the overflow.
func TestStream_DropsOnFullQueueWithoutBlocking(t *testing.T) {
	frame := canonicalFrame(t)
	total := queueCapacity + 10
	frames := make([][]byte, total)
	errs := make([]error, total)
	for i := range frames {
		frames[i] = frame
	}
	ft := &fakeTransport{frames: frames, errs: errs, normalizes: true}

	s := Start(ft, config.RotationAuto, false)
	defer s.Stop()

	require.Eventually(t, func() bool {
		return s.DroppedSamples() >= 10
	}, 3*time.Second, 5*time.Millisecond)

	require.Equal(t, uint64(10), s.DroppedSamples())
}

// A fatal DeviceNotFound error stops the reader without requiring the
// consumer to call Stop.
func TestStream_FatalErrorStopsReader(t *testing.T) {
	ft := &fakeTransport{
		frames: [][]byte{nil},
		errs:   []error{xerrors.DeviceNotFound("fake")},
	}
	s := Start(ft, config.RotationAuto, false)

	require.Eventually(t, func() bool {
		return !s.IsActive()
	}, 2*time.Second, 5*time.Millisecond)

	_, err := s.Recv()
	require.Error(t, err)
	require.True(t, xerrors.Is(err, xerrors.KindStreamStopped))
}

// Host timestamps across delivered samples are strictly increasing.
func TestStream_HostTimestampsMonotonic(t *testing.T) {
	frame := canonicalFrame(t)
	ft := &fakeTransport{
		frames:     [][]byte{frame, frame, frame},
		errs:       []error{nil, nil, nil},
		normalizes: true,
	}

	s := Start(ft, config.RotationAuto, false)
	defer s.Stop()

	prev := -1.0
	for i := 0; i < 3; i++ {
		sample, err := s.RecvTimeout(2 * time.Second)
		require.NoError(t, err)
		require.Greater(t, sample.HostTimestampS, prev)
		prev = sample.HostTimestampS
	}
}

func TestStream_RawUSBFrameIsNormalized(t *testing.T) {
	full := canonicalFrame(t)
	// rawusb frames start at the opcode echo (byte 1 onward of the full
	// packet); the reader must prepend the report tag back on.
	raw := full[1:]
	ft := &fakeTransport{frames: [][]byte{raw}, errs: []error{nil}, normalizes: false}

	s := Start(ft, config.RotationAuto, false)
	defer s.Stop()

	sample, err := s.RecvTimeout(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, uint64(1596313963), sample.TimestampUS)
}
