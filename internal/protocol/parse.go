package protocol

import (
	"encoding/binary"
	"time"

	"sixdof/internal/config"
)

// ParsePose validates and decodes a 63-byte interrupt pose packet. epoch is
// the stream's start time; the returned sample's HostTimestampS is
// time.Since(epoch) at parse time. Returns false (never panics) for any
// packet shorter than ReportSize or with a header mismatch.
func ParsePose(packet []byte, epoch time.Time, mode config.RotationParse) (PoseSample, bool) {
	var sample PoseSample
	if len(packet) < ReportSize {
		return sample, false
	}
	if packet[0] != PoseHeader[0] || packet[1] != PoseHeader[1] || packet[2] != PoseHeader[2] {
		return sample, false
	}

	sample.HostTimestampS = time.Since(epoch).Seconds()
	sample.TimestampUS = uint64(binary.LittleEndian.Uint32(packet[3:7]))

	sample.Translation = [3]float64{
		float64(int32(binary.LittleEndian.Uint32(packet[7:11]))) * Scale,
		float64(int32(binary.LittleEndian.Uint32(packet[11:15]))) * Scale,
		float64(int32(binary.LittleEndian.Uint32(packet[15:19]))) * Scale,
	}

	matrix, quatWXYZ, usedMatrix := decodeRotationPayload(packet[19:37], mode)
	sample.Rotation = matrix
	sample.Quaternion = [4]float64{quatWXYZ[1], quatWXYZ[2], quatWXYZ[3], quatWXYZ[0]}
	sample.UsedMatrixEncoding = usedMatrix
	sample.EulerDeg = QuaternionToEuler(quatWXYZ[0], quatWXYZ[1], quatWXYZ[2], quatWXYZ[3])

	sample.IMU = ImuData{
		Accelerometer: [3]float64{
			float64(int16(binary.LittleEndian.Uint16(packet[37:39]))) * Scale,
			float64(int16(binary.LittleEndian.Uint16(packet[39:41]))) * Scale,
			float64(int16(binary.LittleEndian.Uint16(packet[41:43]))) * Scale,
		},
		Gyroscope: [3]float64{
			float64(int16(binary.LittleEndian.Uint16(packet[43:45]))) * Scale,
			float64(int16(binary.LittleEndian.Uint16(packet[45:47]))) * Scale,
			float64(int16(binary.LittleEndian.Uint16(packet[47:49]))) * Scale,
		},
	}

	confidenceRaw := float64(int16(binary.LittleEndian.Uint16(packet[57:59]))) * Scale
	sample.Confidence = clamp(confidenceRaw, 0, 1)

	copy(sample.RawExtended[:], packet[37:63])

	return sample, true
}
