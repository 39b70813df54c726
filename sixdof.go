package sixdof

import (
	"time"

	"sixdof/internal/config"
	"sixdof/internal/discovery"
	"sixdof/internal/protocol"
	"sixdof/internal/session"
	"sixdof/internal/stream"
	"sixdof/internal/transport"
	"sixdof/internal/transport/featurereport"
	"sixdof/internal/transport/rawusb"
)

// Re-exported types: callers of this package never need to import
// internal/protocol directly.
type (
	DeviceInfo = protocol.DeviceInfo
	PoseSample = protocol.PoseSample
	ImuData    = protocol.ImuData
	Features   = protocol.Features
)

// Re-exported configuration surface.
type (
	Options       = config.Options
	Option        = config.Option
	Mode          = config.SLAMMode
	MacBackend    = config.MacBackend
	RotationParse = config.RotationParse
)

const (
	ModeEdge  = config.SLAMModeEdge
	ModeMixed = config.SLAMModeMixed

	BackendRawUSB        = config.BackendRawUSB
	BackendFeatureReport = config.BackendFeatureReport

	RotationAuto       = config.RotationAuto
	RotationMatrix     = config.RotationMatrix
	RotationQuaternion = config.RotationQuaternion
)

var (
	WithMacBackend           = config.WithMacBackend
	WithUVCMode              = config.WithUVCMode
	WithRotationEnabled      = config.WithRotationEnabled
	WithClaimAllInterfaces   = config.WithClaimAllInterfaces
	WithPreconditionCycles   = config.WithPreconditionCycles
	WithEnableStereoInit     = config.WithEnableStereoInit
	WithReopenAfterConfig    = config.WithReopenAfterConfig
	WithReopenAfterEdgeStart = config.WithReopenAfterEdgeStart
	WithAllowDetachFallback  = config.WithAllowDetachFallback
	WithRotationParse        = config.WithRotationParse
	WithSLAMMode             = config.WithSLAMMode
	WithDebugRawFrames       = config.WithDebugRawFrames
)

// ListDevices enumerates every attached tracker and queries its identity.
// A single unresponsive device is skipped, not fatal to the scan.
func ListDevices() ([]DeviceInfo, error) {
	return discovery.ListDevices()
}

// DeviceSession is an opened, identified tracker, ready to start a SLAM
// stream.
type DeviceSession struct {
	inner *session.Session
}

// OpenFirst opens the first attached tracker and performs identity queries.
// All-or-nothing: any identity failure is fatal.
func OpenFirst(opts ...Option) (*DeviceSession, error) {
	cfg := config.New(opts...)
	s, err := session.Open(openerFor(cfg, ""), cfg)
	if err != nil {
		return nil, err
	}
	return &DeviceSession{inner: s}, nil
}

// Open opens a specific previously-discovered device.
func Open(info DeviceInfo, opts ...Option) (*DeviceSession, error) {
	cfg := config.New(opts...)
	s, err := session.Open(openerFor(cfg, info.BusID), cfg)
	if err != nil {
		return nil, err
	}
	return &DeviceSession{inner: s}, nil
}

func openerFor(cfg config.Options, busID string) session.Opener {
	return func() (transport.Transport, error) {
		if cfg.MacBackend == config.BackendFeatureReport {
			return featurereport.Open(featurereport.Options{BusID: busID})
		}
		return rawusb.Open(rawusb.Options{
			ClaimAllInterfaces:  cfg.ClaimAllInterfaces,
			AllowDetachFallback: cfg.AllowDetachFallback,
			BusID:               busID,
		})
	}
}

func (d *DeviceSession) UUID() string      { return d.inner.UUID() }
func (d *DeviceSession) Version() string   { return d.inner.Version() }
func (d *DeviceSession) Features() Features { return d.inner.Features() }

// StartSLAM negotiates the given mode and starts the streaming engine,
// consuming the session's command transport. Any further command operation
// on this session afterwards is a programming error.
func (d *DeviceSession) StartSLAM(mode Mode) (*Stream, error) {
	s, err := d.inner.StartSLAM(mode)
	if err != nil {
		return nil, err
	}
	return &Stream{inner: s}, nil
}

// Stream is a live pose stream.
type Stream struct {
	inner *stream.Stream
}

func (s *Stream) Recv() (PoseSample, error)   { return s.inner.Recv() }
func (s *Stream) TryRecv() (PoseSample, bool) { return s.inner.TryRecv() }
func (s *Stream) RecvTimeout(d time.Duration) (PoseSample, error) {
	return s.inner.RecvTimeout(d)
}
func (s *Stream) IsActive() bool         { return s.inner.IsActive() }
func (s *Stream) DroppedSamples() uint64 { return s.inner.DroppedSamples() }
func (s *Stream) Stop()                  { s.inner.Stop() }
