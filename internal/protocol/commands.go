package protocol

import (
	"encoding/binary"

	"sixdof/internal/xerrors"
)

// BuildCommand writes a 63-byte host->device command frame: byte 0 is the
// direction prefix, followed by opcode and params concatenated, with the
// remainder zero-padded. Input past 62 bytes is truncated — this must never
// happen in practice, as every defined command is at most 5 bytes.
func BuildCommand(opcode []byte, params ...byte) [ReportSize]byte {
	var buf [ReportSize]byte
	buf[0] = PrefixHostToDevice

	n := copy(buf[1:], opcode)
	if 1+n < ReportSize {
		copy(buf[1+n:], params)
	}
	return buf
}

// BuildConfigureCmd builds the CONFIGURE command:
// [0x19, 0x95, edge, uvcMode, embeddedAlgo].
func BuildConfigureCmd(edge bool, uvcMode uint8, embeddedAlgo bool) [ReportSize]byte {
	return BuildCommand(CmdConfigure, boolByte(edge), uvcMode, boolByte(embeddedAlgo))
}

// BuildEdgeStreamCmd builds the EDGE_STREAM command:
// [0xA2, 0x33, mode, rotationEnabled, flipped].
func BuildEdgeStreamCmd(mode uint8, rotationEnabled bool, flipped bool) [ReportSize]byte {
	return BuildCommand(CmdEdgeStream, mode, boolByte(rotationEnabled), boolByte(flipped))
}

// BuildStereoInitCmd builds the STEREO_INIT command.
func BuildStereoInitCmd() [ReportSize]byte { return BuildCommand(CmdStereoInit) }

// BuildStereoStartCmd builds the STEREO_START command.
func BuildStereoStartCmd() [ReportSize]byte { return BuildCommand(CmdStereoStart) }

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// ValidateResponse checks a device->host response frame against the opcode
// that was sent, and returns the payload offset.
//
// Fails with KindInvalidResponse if byte 0 is not the device->host prefix;
// fails with KindCommandMismatch if the echoed opcode doesn't equal
// expectedOpcode; otherwise returns 1+len(expectedOpcode).
func ValidateResponse(frame []byte, expectedOpcode []byte) (int, error) {
	if len(frame) == 0 || frame[0] != PrefixDeviceToHost {
		var got byte
		if len(frame) > 0 {
			got = frame[0]
		}
		return 0, xerrors.InvalidResponse("validate_response", got)
	}

	offset := 1 + len(expectedOpcode)
	if len(frame) < offset {
		return 0, xerrors.CommandMismatch("validate_response")
	}
	for i, b := range expectedOpcode {
		if frame[1+i] != b {
			return 0, xerrors.CommandMismatch("validate_response")
		}
	}
	return offset, nil
}

// ParseFeatures reads a little-endian 32-bit feature bitmap from payload.
// An empty Features value is returned if payload is shorter than 4 bytes.
func ParseFeatures(payload []byte) Features {
	if len(payload) < 4 {
		return 0
	}
	return Features(binary.LittleEndian.Uint32(payload[:4]))
}

// ExtractCString reads bytes up to the first NUL, or the whole slice if no
// NUL is present.
func ExtractCString(payload []byte) string {
	end := len(payload)
	for i, b := range payload {
		if b == 0 {
			end = i
			break
		}
	}
	return string(payload[:end])
}
