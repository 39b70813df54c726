package protocol

import (
	"math"

	"sixdof/internal/config"
)

// rotationNormLow/High and rotationDotMax define the plausibility gate used
// by RotationAuto to decide whether the 18-byte rotation payload is a 3x3
// matrix: every row must have Euclidean norm in this range, and every
// pairwise row dot product must be smaller in magnitude than the max.
const (
	rotationNormLow  = 0.5
	rotationNormHigh = 1.5
	rotationDotMax   = 0.7
)

// decodeRotationPayload interprets the 18-byte rotation region of a pose
// packet as either a 3x3 matrix or a quaternion, per mode. In
// config.RotationAuto it first tries the matrix interpretation and falls
// back to quaternion if the plausibility gate rejects it. Returns the
// resulting rotation matrix, the quaternion in [w, x, y, z] wire order
// scaled to unit length (a zero-length quaternion becomes the identity), and
// whether the matrix encoding was used.
func decodeRotationPayload(payload []byte, mode config.RotationParse) (matrix [3][3]float64, quatWXYZ [4]float64, usedMatrix bool) {
	tryMatrix := func() [3][3]float64 {
		var m [3][3]float64
		for row := 0; row < 3; row++ {
			for col := 0; col < 3; col++ {
				off := (row*3 + col) * 2
				m[row][col] = float64(int16(uint16(payload[off])|uint16(payload[off+1])<<8)) * Scale
			}
		}
		return m
	}

	tryQuaternion := func() [4]float64 {
		var q [4]float64 // [w, x, y, z]
		for i := 0; i < 4; i++ {
			off := i * 2
			q[i] = float64(int16(uint16(payload[off])|uint16(payload[off+1])<<8)) * Scale
		}
		return q
	}

	unit := func(q [4]float64) [4]float64 {
		n := math.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
		if !(n > 1e-9) {
			return [4]float64{1, 0, 0, 0}
		}
		return [4]float64{q[0] / n, q[1] / n, q[2] / n, q[3] / n}
	}

	switch mode {
	case config.RotationMatrix:
		m := tryMatrix()
		return m, unit(MatrixToQuaternionWXYZ(m)), true
	case config.RotationQuaternion:
		q := unit(tryQuaternion())
		return QuaternionToMatrix(q), q, false
	default:
		m := tryMatrix()
		if matrixPlausible(m) {
			return m, unit(MatrixToQuaternionWXYZ(m)), true
		}
		q := unit(tryQuaternion())
		return QuaternionToMatrix(q), q, false
	}
}

func matrixPlausible(m [3][3]float64) bool {
	norm := func(row [3]float64) float64 {
		return math.Sqrt(row[0]*row[0] + row[1]*row[1] + row[2]*row[2])
	}
	dot := func(a, b [3]float64) float64 {
		return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
	}

	rows := [3][3]float64{m[0], m[1], m[2]}
	for _, r := range rows {
		n := norm(r)
		if n < rotationNormLow || n > rotationNormHigh {
			return false
		}
	}
	for i := 0; i < 3; i++ {
		for j := i + 1; j < 3; j++ {
			if math.Abs(dot(rows[i], rows[j])) >= rotationDotMax {
				return false
			}
		}
	}
	return true
}

// MatrixToQuaternionWXYZ converts a row-major rotation matrix to a
// quaternion [w, x, y, z] using the trace-dispatched method: branch on
// whether the trace is positive, else on which diagonal entry is largest.
func MatrixToQuaternionWXYZ(m [3][3]float64) [4]float64 {
	trace := m[0][0] + m[1][1] + m[2][2]

	var w, x, y, z float64
	switch {
	case trace > 0:
		s := math.Sqrt(trace+1.0) * 2
		w = 0.25 * s
		x = (m[2][1] - m[1][2]) / s
		y = (m[0][2] - m[2][0]) / s
		z = (m[1][0] - m[0][1]) / s
	case m[0][0] > m[1][1] && m[0][0] > m[2][2]:
		s := math.Sqrt(1.0+m[0][0]-m[1][1]-m[2][2]) * 2
		w = (m[2][1] - m[1][2]) / s
		x = 0.25 * s
		y = (m[0][1] + m[1][0]) / s
		z = (m[0][2] + m[2][0]) / s
	case m[1][1] > m[2][2]:
		s := math.Sqrt(1.0+m[1][1]-m[0][0]-m[2][2]) * 2
		w = (m[0][2] - m[2][0]) / s
		x = (m[0][1] + m[1][0]) / s
		y = 0.25 * s
		z = (m[1][2] + m[2][1]) / s
	default:
		s := math.Sqrt(1.0+m[2][2]-m[0][0]-m[1][1]) * 2
		w = (m[1][0] - m[0][1]) / s
		x = (m[0][2] + m[2][0]) / s
		y = (m[1][2] + m[2][1]) / s
		z = 0.25 * s
	}
	return [4]float64{w, x, y, z}
}

// QuaternionToMatrix converts a quaternion [w, x, y, z] to a row-major
// rotation matrix via the standard Hamilton-convention expansion.
func QuaternionToMatrix(q [4]float64) [3][3]float64 {
	w, x, y, z := q[0], q[1], q[2], q[3]
	return [3][3]float64{
		{1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w)},
		{2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w)},
		{2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y)},
	}
}

// QuaternionToEuler converts a quaternion [w, x, y, z] to [roll, pitch, yaw]
// in degrees: a YXZ extraction on the Z-axis-flipped rotation. The device
// emits Z-forward; consumers expect Z-backward.
func QuaternionToEuler(w, x, y, z float64) [3]float64 {
	roll := math.Atan2(2*(x*y+w*z), 1-2*(x*x+z*z))
	pitch := math.Asin(clamp(2*(y*z-w*x), -1, 1))
	yaw := math.Atan2(-2*(x*z+w*y), 1-2*(x*x+y*y))
	return [3]float64{degrees(roll), degrees(pitch), degrees(yaw)}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
