// Package session implements the device session lifecycle state machine:
// identity queries, mode negotiation, and the platform-conditional startup
// sequence that hands a transport off to the streaming engine.
package session

import (
	"time"

	"sixdof/internal/config"
	"sixdof/internal/protocol"
	"sixdof/internal/stream"
	"sixdof/internal/transport"
	"sixdof/internal/xerrors"
	"sixdof/internal/xlog"
)

// State is the session's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateIdentified
	StateConfigured
	StateStreaming
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateIdentified:
		return "identified"
	case StateConfigured:
		return "configured"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Opener opens a fresh transport handle to the same physical device. The
// session calls it once at Open, and again whenever the startup sequence
// needs to reopen or hand off a dedicated handle.
type Opener func() (transport.Transport, error)

const (
	// Firmware settle times between startup commands. The configure command
	// can trigger a re-enumeration; commands sent before the device settles
	// are lost.
	settleAfterConfigureDefault = 1 * time.Second
	settleAfterConfigureStereo  = 500 * time.Millisecond
	stereoInitToStartGap        = 50 * time.Millisecond
	settleAfterStereoStart      = 300 * time.Millisecond

	preconditionInterCycleGap = 500 * time.Millisecond
	preconditionFinalPause    = 300 * time.Millisecond

	retryInterval = 100 * time.Millisecond
	maxHidRetries = 40
)

// Session is an opened, identified device, not yet or no longer streaming.
type Session struct {
	opener Opener
	cfg    config.Options
	state  State
	info   protocol.DeviceInfo
	cmd    transport.Transport
}

// Open opens a device via opener and performs identity queries. Any
// identity failure is fatal.
func Open(opener Opener, cfg config.Options) (*Session, error) {
	t, err := opener()
	if err != nil {
		return nil, err
	}

	s := &Session{opener: opener, cfg: cfg, state: StateIdle, cmd: t}
	if err := s.identify(); err != nil {
		t.Close()
		return nil, err
	}
	s.state = StateIdentified
	return s, nil
}

func (s *Session) identify() error {
	uuid, err := s.queryString(protocol.CmdUUID)
	if err != nil {
		return err
	}
	version, err := s.queryString(protocol.CmdVersion)
	if err != nil {
		return err
	}
	features, err := s.queryFeatures()
	if err != nil {
		return err
	}
	s.info = protocol.DeviceInfo{UUID: uuid, Version: version, Features: features}
	xlog.Printf("session: identified UUID=%s Version=%s Features=%s", uuid, version, features)
	return nil
}

func (s *Session) queryString(opcode []byte) (string, error) {
	ack, err := s.exchange(opcode)
	if err != nil {
		return "", err
	}
	off, err := protocol.ValidateResponse(ack, opcode)
	if err != nil {
		return "", err
	}
	return protocol.ExtractCString(ack[off:]), nil
}

func (s *Session) queryFeatures() (protocol.Features, error) {
	ack, err := s.exchange(protocol.CmdFeatures)
	if err != nil {
		return 0, err
	}
	off, err := protocol.ValidateResponse(ack, protocol.CmdFeatures)
	if err != nil {
		return 0, err
	}
	return protocol.ParseFeatures(ack[off:]), nil
}

// exchange builds a bare command frame (no params) for opcode and sends it.
// A send failure is wrapped as a transport error; a missing acknowledgment
// (a nil, nil result from the transport) is returned as InvalidResponse.
func (s *Session) exchange(opcode []byte) ([]byte, error) {
	frame := protocol.BuildCommand(opcode)
	ack, err := s.cmd.Command(frame[:])
	if err != nil {
		return nil, xerrors.Wrap("session.exchange", xerrors.KindTransport, err)
	}
	if ack == nil {
		return nil, xerrors.InvalidResponse("session.exchange", 0)
	}
	return ack, nil
}

func (s *Session) UUID() string                { return s.info.UUID }
func (s *Session) Version() string             { return s.info.Version }
func (s *Session) Features() protocol.Features { return s.info.Features }
func (s *Session) State() State                { return s.state }

// StartSLAM runs the startup state machine and hands a fresh transport
// handle to a new Stream, which assumes exclusive ownership of it. Calling
// StartSLAM twice, or any further command operation on the session
// afterwards, is a programming error.
func (s *Session) StartSLAM(mode config.SLAMMode) (*stream.Stream, error) {
	if s.state != StateIdentified && s.state != StateConfigured {
		return nil, xerrors.New("session.StartSLAM", xerrors.KindHidCommand)
	}

	if s.cfg.PreconditionCycles > 0 {
		s.runPreconditionCycles(mode)
	}

	if err := s.configure(mode); err != nil {
		return nil, err
	}
	s.state = StateConfigured

	if s.cfg.ReopenAfterConfig {
		if err := s.reopen(); err != nil {
			return nil, err
		}
	}

	if s.cfg.EnableStereoInit {
		time.Sleep(settleAfterConfigureStereo)
		s.sendAdvisory(protocol.CmdStereoInit, func() ([]byte, error) {
			return s.exchangeRecoverable(protocol.BuildStereoInitCmd())
		})
		time.Sleep(stereoInitToStartGap)
		s.sendAdvisory(protocol.CmdStereoStart, func() ([]byte, error) {
			return s.exchangeRecoverable(protocol.BuildStereoStartCmd())
		})
		time.Sleep(settleAfterStereoStart)
	} else {
		time.Sleep(settleAfterConfigureDefault)
	}

	if err := s.startEdgeStream(); err != nil {
		return nil, err
	}

	if s.cfg.ReopenAfterEdgeStart {
		if err := s.reopen(); err != nil {
			return nil, err
		}
	}

	streamTransport, err := s.opener()
	if err != nil {
		return nil, xerrors.Wrap("session.StartSLAM", xerrors.KindTransport, err)
	}

	s.cmd.Close()
	s.cmd = nil
	s.state = StateStreaming

	return stream.Start(streamTransport, s.cfg.RotationParse, s.cfg.DebugRawFrames), nil
}

func (s *Session) configure(mode config.SLAMMode) error {
	edge, embeddedAlgo := configureParams(mode)
	frame := protocol.BuildConfigureCmd(edge, s.cfg.UVCMode, embeddedAlgo)
	_, err := s.exchangeRaw(frame)
	if err != nil {
		return xerrors.Wrap("session.configure", xerrors.KindTransport, err)
	}
	return nil
}

func (s *Session) startEdgeStream() error {
	frame := protocol.BuildEdgeStreamCmd(1, s.cfg.RotationEnabled, false)
	if _, err := s.exchangeRecoverable(frame); err != nil {
		return xerrors.Wrap("session.startEdgeStream", xerrors.KindHidCommand, err)
	}
	return nil
}

// sendAdvisory sends a stereo command and only logs on failure: the
// acknowledgment, and even the command itself, is advisory during startup.
func (s *Session) sendAdvisory(opcode []byte, fn func() ([]byte, error)) {
	if _, err := fn(); err != nil {
		xlog.Warnf("session: advisory command %x failed: %v", opcode, err)
	}
}

func (s *Session) exchangeRaw(frame [protocol.ReportSize]byte) ([]byte, error) {
	return s.cmd.Command(frame[:])
}

// exchangeRecoverable sends frame once on the raw-USB backend. On the
// feature-report backend, where the earlier configure command may have
// re-enumerated the device out from under the OS HID path, the exchange is
// wrapped in a bounded drop-reopen-retry loop.
func (s *Session) exchangeRecoverable(frame [protocol.ReportSize]byte) ([]byte, error) {
	if s.cfg.MacBackend != config.BackendFeatureReport {
		return s.exchangeRaw(frame)
	}

	var lastErr error
	for attempt := 0; attempt < maxHidRetries; attempt++ {
		ack, err := s.exchangeRaw(frame)
		if err == nil {
			return ack, nil
		}
		lastErr = err
		time.Sleep(retryInterval)
		if reopenErr := s.reopen(); reopenErr != nil {
			lastErr = reopenErr
		}
	}
	return nil, lastErr
}

func (s *Session) reopen() error {
	if s.cmd != nil {
		s.cmd.Close()
	}
	t, err := s.opener()
	if err != nil {
		return xerrors.Wrap("session.reopen", xerrors.KindTransport, err)
	}
	s.cmd = t
	return nil
}

// runPreconditionCycles performs N warm-up cycles that exist solely to
// keep the kernel HID driver detached long enough for the main sequence to
// claim the command interface cleanly. Acknowledgments are discarded.
func (s *Session) runPreconditionCycles(mode config.SLAMMode) {
	for i := 0; i < s.cfg.PreconditionCycles; i++ {
		t, err := s.opener()
		if err != nil {
			xlog.Warnf("session: precondition cycle %d open failed: %v", i, err)
			time.Sleep(preconditionInterCycleGap)
			continue
		}

		edge, embeddedAlgo := configureParams(mode)
		cfgFrame := protocol.BuildConfigureCmd(edge, s.cfg.UVCMode, embeddedAlgo)
		_, _ = t.Command(cfgFrame[:])

		edgeFrame := protocol.BuildEdgeStreamCmd(1, s.cfg.RotationEnabled, false)
		_, _ = t.Command(edgeFrame[:])

		t.Close()
		time.Sleep(preconditionInterCycleGap)
	}
	time.Sleep(preconditionFinalPause)
}

// configureParams maps a SLAM mode to the CONFIGURE command's edge and
// embeddedAlgo parameters.
func configureParams(mode config.SLAMMode) (edge, embeddedAlgo bool) {
	if mode == config.SLAMModeMixed {
		return false, true
	}
	return true, false
}
