package protocol

// DeviceInfo identifies a discovered device and its reported capabilities.
type DeviceInfo struct {
	UUID     string
	Version  string
	Features Features
	// BusID is an opaque bus/path identifier used to re-open this exact
	// device later (not guaranteed stable across replug on every platform).
	BusID string
}

// ImuData is the embedded accelerometer/gyroscope reading carried in every
// pose packet at offsets [37..48].
type ImuData struct {
	Accelerometer [3]float64
	Gyroscope     [3]float64
}

// PoseSample is the in-memory decoded form of one interrupt pose packet.
type PoseSample struct {
	// Translation [x, y, z] in meters.
	Translation [3]float64
	// Rotation is a 3x3 row-major rotation matrix.
	Rotation [3][3]float64
	// Quaternion is stored [qx, qy, qz, qw] regardless of wire encoding.
	Quaternion [4]float64
	// TimestampUS is the device's own microsecond timestamp.
	TimestampUS uint64
	// HostTimestampS is seconds since the stream's epoch (host monotonic).
	HostTimestampS float64
	// Confidence is clamped to [0, 1].
	Confidence float64
	// EulerDeg is [roll, pitch, yaw] in degrees (YXZ order, Z-axis flipped).
	EulerDeg [3]float64
	// IMU is the embedded accelerometer/gyroscope reading.
	IMU ImuData
	// RawExtended preserves packet bytes [37..63) verbatim (IMU, reserved
	// bytes, confidence and padding) for downstream analysis.
	RawExtended [26]byte
	// UsedMatrixEncoding records which rotation wire encoding this sample
	// was decoded from, for triage of the per-packet ambiguity.
	UsedMatrixEncoding bool
}
