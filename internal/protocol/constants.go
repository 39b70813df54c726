// Package protocol implements the wire codec for the tracker's HID command
// frames and interrupt pose packets: pure functions over byte buffers, no
// I/O.
package protocol

// USB identity.
const (
	VendorID     = 0x040E
	ProductID    = 0xF408
	HIDInterface = 3
	SLAMEndpoint = 0x83
)

// Frame geometry. Every command, response, and pose packet is exactly this
// many bytes.
const ReportSize = 63

// Scale is the fixed-point conversion factor 2^-14 applied to every scaled
// field on the wire (translation, rotation, IMU, confidence).
const Scale = 1.0 / 16384.0

// Direction prefixes.
const (
	PrefixHostToDevice byte = 0x02
	PrefixDeviceToHost byte = 0x01
)

// Command opcodes, the bytes that follow PrefixHostToDevice.
var (
	CmdUUID        = []byte{0xFD, 0x66, 0x00, 0x02}
	CmdVersion     = []byte{0x1C, 0x99}
	CmdFeatures    = []byte{0xDE, 0x62, 0x01}
	CmdConfigure   = []byte{0x19, 0x95}
	CmdEdgeStream  = []byte{0xA2, 0x33}
	CmdStereoInit  = []byte{0xFE, 0x20, 0x21}
	CmdStereoStart = []byte{0xFE, 0x20, 0x22}
)

// PoseHeader is the 3-byte tag identifying a pose packet on the interrupt
// endpoint: report tag followed by the EDGE_STREAM opcode echo.
var PoseHeader = [3]byte{PrefixDeviceToHost, 0xA2, 0x33}

// Feature bitmap bits.
const (
	FeatureEdgeMode    uint32 = 1 << 0
	FeatureMixedMode   uint32 = 1 << 1
	FeatureStereo      uint32 = 1 << 2
	FeatureRGB         uint32 = 1 << 3
	FeatureTOF         uint32 = 1 << 4
	FeatureIA          uint32 = 1 << 5
	FeatureSGBM        uint32 = 1 << 6
	FeatureEyeTracking uint32 = 1 << 10
	FeatureFaceID      uint32 = 1 << 12
)

// Features is the 32-bit feature bitmap reported by the device.
type Features uint32

// Has reports whether every bit set in mask is also set in f.
func (f Features) Has(mask uint32) bool { return uint32(f)&mask == mask }

func (f Features) String() string {
	names := []struct {
		bit  uint32
		name string
	}{
		{FeatureEdgeMode, "EDGE_MODE"},
		{FeatureMixedMode, "MIXED_MODE"},
		{FeatureStereo, "STEREO"},
		{FeatureRGB, "RGB"},
		{FeatureTOF, "TOF"},
		{FeatureIA, "IA"},
		{FeatureSGBM, "SGBM"},
		{FeatureEyeTracking, "EYE_TRACKING"},
		{FeatureFaceID, "FACE_ID"},
	}
	out := ""
	for _, n := range names {
		if f.Has(n.bit) {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	if out == "" {
		return "NONE"
	}
	return out
}
