// Package config holds the named configuration options for a device session
// and the environment-variable override layer used for operational triage
// and reproducible tests. Precedence is defaults, then SIXDOF_* environment
// overrides, then explicit functional options, so a test can pin
// SIXDOF_ROTATION_PARSE=matrix without touching caller code.
package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
)

// MacBackend selects which transport strategy a Session uses to survive the
// mid-sequence USB re-enumeration some platforms exhibit after CONFIGURE.
type MacBackend int

const (
	// BackendRawUSB talks directly to the device over libusb control/interrupt
	// transfers, with kernel-driver detach preconditioning. This is the
	// default: it is the strategy that can keep the HID interface claimed
	// across a re-enumeration.
	BackendRawUSB MacBackend = iota
	// BackendFeatureReport uses the feature-report-style request/response
	// path with a drop-and-reopen retry loop instead of raw claiming.
	BackendFeatureReport
)

func (b MacBackend) String() string {
	if b == BackendFeatureReport {
		return "featurereport"
	}
	return "rawusb"
}

// RotationParse selects how the pose decoder interprets the 18-byte rotation
// payload.
type RotationParse int

const (
	// RotationAuto picks matrix or quaternion per packet via the plausibility gate.
	RotationAuto RotationParse = iota
	// RotationMatrix always decodes the payload as a 3x3 matrix.
	RotationMatrix
	// RotationQuaternion always decodes the payload as a quaternion.
	RotationQuaternion
)

func (r RotationParse) String() string {
	switch r {
	case RotationMatrix:
		return "matrix"
	case RotationQuaternion:
		return "quaternion"
	default:
		return "auto"
	}
}

// SLAMMode selects the SLAM operating mode negotiated at configure time.
type SLAMMode int

const (
	// SLAMModeEdge runs SLAM entirely on-device (edge=1, embeddedAlgo=0).
	SLAMModeEdge SLAMMode = iota
	// SLAMModeMixed splits SLAM between device and host (edge=0, embeddedAlgo=1).
	SLAMModeMixed
)

func (m SLAMMode) String() string {
	if m == SLAMModeMixed {
		return "mixed"
	}
	return "edge"
}

// Options is the session configuration surface.
type Options struct {
	MacBackend MacBackend

	UVCMode         uint8
	RotationEnabled bool

	ClaimAllInterfaces bool
	PreconditionCycles int

	EnableStereoInit     bool
	ReopenAfterConfig    bool
	ReopenAfterEdgeStart bool
	AllowDetachFallback  bool

	RotationParse RotationParse
	SLAMMode      SLAMMode

	// DebugRawFrames enables a trace-level hex dump of the first 20 raw
	// interrupt payloads of a stream, for field triage of the rotation
	// payload encoding.
	DebugRawFrames bool
}

// Default returns the documented default configuration. The one
// platform-conditional default, UVCMode bumping to 1 on macOS
// feature-report backends, is applied in New() once the final backend
// choice (env override or explicit option) is known; it can never fire
// here since Default() always starts from BackendRawUSB.
func Default() Options {
	return Options{
		MacBackend:           BackendRawUSB,
		UVCMode:              0,
		RotationEnabled:      true,
		ClaimAllInterfaces:   false,
		PreconditionCycles:   0,
		EnableStereoInit:     false,
		ReopenAfterConfig:    true,
		ReopenAfterEdgeStart: false,
		AllowDetachFallback:  true,
		RotationParse:        RotationAuto,
		SLAMMode:             SLAMModeEdge,
		DebugRawFrames:       false,
	}
}

// Option mutates an Options value in place.
type Option func(*Options)

func WithMacBackend(b MacBackend) Option       { return func(o *Options) { o.MacBackend = b } }
func WithUVCMode(v uint8) Option               { return func(o *Options) { o.UVCMode = v } }
func WithRotationEnabled(v bool) Option        { return func(o *Options) { o.RotationEnabled = v } }
func WithClaimAllInterfaces(v bool) Option     { return func(o *Options) { o.ClaimAllInterfaces = v } }
func WithPreconditionCycles(n int) Option      { return func(o *Options) { o.PreconditionCycles = n } }
func WithEnableStereoInit(v bool) Option       { return func(o *Options) { o.EnableStereoInit = v } }
func WithReopenAfterConfig(v bool) Option      { return func(o *Options) { o.ReopenAfterConfig = v } }
func WithReopenAfterEdgeStart(v bool) Option   { return func(o *Options) { o.ReopenAfterEdgeStart = v } }
func WithAllowDetachFallback(v bool) Option    { return func(o *Options) { o.AllowDetachFallback = v } }
func WithRotationParse(r RotationParse) Option { return func(o *Options) { o.RotationParse = r } }
func WithSLAMMode(m SLAMMode) Option           { return func(o *Options) { o.SLAMMode = m } }
func WithDebugRawFrames(v bool) Option         { return func(o *Options) { o.DebugRawFrames = v } }

// New builds an Options value from defaults, then environment overrides,
// then explicit functional options. Explicit code always wins.
func New(opts ...Option) Options {
	o := Default()
	applyEnv(&o)
	for _, opt := range opts {
		opt(&o)
	}
	if runtime.GOOS == "darwin" && o.MacBackend == BackendFeatureReport && o.UVCMode == 0 {
		o.UVCMode = 1
	}
	return o
}

func applyEnv(o *Options) {
	if v, ok := lookupEnv("SIXDOF_MAC_BACKEND"); ok {
		switch strings.ToLower(v) {
		case "rawusb", "raw", "raw-usb":
			o.MacBackend = BackendRawUSB
		case "featurereport", "feature-report", "feature":
			o.MacBackend = BackendFeatureReport
		}
	}
	if v, ok := lookupEnvUint("SIXDOF_UVC_MODE"); ok {
		o.UVCMode = uint8(v)
	}
	if v, ok := lookupEnvBool("SIXDOF_ROTATION_ENABLED"); ok {
		o.RotationEnabled = v
	}
	if v, ok := lookupEnvBool("SIXDOF_CLAIM_ALL_INTERFACES"); ok {
		o.ClaimAllInterfaces = v
	}
	if v, ok := lookupEnvUint("SIXDOF_PRECONDITION_CYCLES"); ok {
		o.PreconditionCycles = int(v)
	}
	if v, ok := lookupEnvBool("SIXDOF_ENABLE_STEREO_INIT"); ok {
		o.EnableStereoInit = v
	}
	if v, ok := lookupEnvBool("SIXDOF_REOPEN_AFTER_CONFIG"); ok {
		o.ReopenAfterConfig = v
	}
	if v, ok := lookupEnvBool("SIXDOF_REOPEN_AFTER_EDGE_START"); ok {
		o.ReopenAfterEdgeStart = v
	}
	if v, ok := lookupEnvBool("SIXDOF_ALLOW_DETACH_FALLBACK"); ok {
		o.AllowDetachFallback = v
	}
	if v, ok := lookupEnv("SIXDOF_ROTATION_PARSE"); ok {
		switch strings.ToLower(v) {
		case "matrix":
			o.RotationParse = RotationMatrix
		case "quaternion", "quat":
			o.RotationParse = RotationQuaternion
		default:
			o.RotationParse = RotationAuto
		}
	}
	if v, ok := lookupEnv("SIXDOF_SLAM_MODE"); ok {
		switch strings.ToLower(v) {
		case "mixed":
			o.SLAMMode = SLAMModeMixed
		default:
			o.SLAMMode = SLAMModeEdge
		}
	}
	if v, ok := lookupEnvBool("SIXDOF_DEBUG_RAW_FRAMES"); ok {
		o.DebugRawFrames = v
	}
}

func lookupEnv(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return "", false
	}
	return v, true
}

func lookupEnvBool(key string) (bool, bool) {
	v, ok := lookupEnv(key)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func lookupEnvUint(key string) (uint64, bool) {
	v, ok := lookupEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, false
	}
	return n, true
}
