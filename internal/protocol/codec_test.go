package protocol

import (
	"encoding/hex"
	"math"
	"strings"
	"testing"
	"time"

	"sixdof/internal/config"
)

func mustPacket(t *testing.T, hexWithSpaces string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.ReplaceAll(hexWithSpaces, " ", ""))
	if err != nil {
		t.Fatalf("bad test hex: %v", err)
	}
	return b
}

const canonicalPoseHex = "01 A2 33 6B D1 25 5F 58 01 00 00 1E 00 00 00 C3 01 00 00 62 C0 3A 03 2D 06 5A FD 56 C0 F3 05 72 06 A9 05 6C 3F A0 56 7D 00 F3 FF F2 FF 00 00 00 00 00 00 04 00 09 00 07 00 2B 41 00 00 00 00"

func quatMagnitude(q [4]float64) float64 {
	return math.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
}

// A captured pose packet decodes to the known timestamp and translation,
// and its quaternion is unit magnitude regardless of which rotation
// encoding the auto selector picked for this packet.
func TestParsePose_CanonicalPacket(t *testing.T) {
	packet := mustPacket(t, canonicalPoseHex)
	epoch := time.Now()

	sample, ok := ParsePose(packet, epoch, config.RotationAuto)
	if !ok {
		t.Fatal("ParsePose rejected the canonical packet")
	}

	if sample.TimestampUS != 1596313963 {
		t.Errorf("timestamp_us = %d, want 1596313963", sample.TimestampUS)
	}

	wantTranslation := [3]float64{0.0210, 0.0018, 0.0275}
	for i, want := range wantTranslation {
		if math.Abs(sample.Translation[i]-want) > 1e-3 {
			t.Errorf("translation[%d] = %v, want ~%v", i, sample.Translation[i], want)
		}
	}

	mag := quatMagnitude(sample.Quaternion)
	if math.Abs(mag-1) > 0.05 {
		t.Errorf("quaternion magnitude = %v, want ~1", mag)
	}
}

// Forcing RotationQuaternion on the same packet recovers the known
// quaternion components, independent of what the auto selector would have
// picked.
func TestParsePose_CanonicalPacket_ForcedQuaternion(t *testing.T) {
	packet := mustPacket(t, canonicalPoseHex)
	sample, ok := ParsePose(packet, time.Now(), config.RotationQuaternion)
	if !ok {
		t.Fatal("ParsePose rejected the canonical packet")
	}
	if sample.UsedMatrixEncoding {
		t.Fatal("forced quaternion mode reported UsedMatrixEncoding")
	}

	// sample.Quaternion is stored [qx, qy, qz, qw].
	wantW, wantX := -0.994, 0.050
	if math.Abs(sample.Quaternion[3]-wantW) > 1e-2 {
		t.Errorf("qw = %v, want ~%v", sample.Quaternion[3], wantW)
	}
	if math.Abs(sample.Quaternion[0]-wantX) > 1e-2 {
		t.Errorf("qx = %v, want ~%v", sample.Quaternion[0], wantX)
	}
}

// Any 63-byte buffer with a valid pose header parses and produces a
// near-unit quaternion.
func TestParsePose_HeaderOnlyZeroBody(t *testing.T) {
	packet := make([]byte, ReportSize)
	packet[0], packet[1], packet[2] = PoseHeader[0], PoseHeader[1], PoseHeader[2]

	sample, ok := ParsePose(packet, time.Now(), config.RotationAuto)
	if !ok {
		t.Fatal("ParsePose rejected an all-zero-body header-valid packet")
	}
	mag := quatMagnitude(sample.Quaternion)
	if mag < 0.95 || mag > 1.05 {
		t.Errorf("quaternion magnitude = %v, want in [0.95, 1.05]", mag)
	}
}

// Short or empty buffers never panic and are rejected.
func TestParsePose_ShortBuffer(t *testing.T) {
	for _, n := range []int{0, ReportSize - 1} {
		packet := make([]byte, n)
		if _, ok := ParsePose(packet, time.Now(), config.RotationAuto); ok {
			t.Errorf("ParsePose accepted a %d-byte buffer", n)
		}
	}
}

func TestParsePose_BadHeader(t *testing.T) {
	packet := mustPacket(t, canonicalPoseHex)
	packet[1] = 0x00
	if _, ok := ParsePose(packet, time.Now(), config.RotationAuto); ok {
		t.Fatal("ParsePose accepted a packet with a mismatched header")
	}
}

// A matrix payload that passes the plausibility gate round trips through
// quaternion conversion to within 1e-3 per element.
func TestMatrixQuaternion_PlausibleMatrixRoundTrip(t *testing.T) {
	identity := [3][3]float64{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}
	if !matrixPlausible(identity) {
		t.Fatal("identity matrix rejected by plausibility gate")
	}

	q := MatrixToQuaternionWXYZ(identity)
	back := QuaternionToMatrix(q)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			if math.Abs(back[r][c]-identity[r][c]) > 1e-3 {
				t.Errorf("round trip[%d][%d] = %v, want %v", r, c, back[r][c], identity[r][c])
			}
		}
	}
}

// Quaternion -> matrix -> quaternion is identity up to sign.
func TestQuaternionMatrixRoundTrip(t *testing.T) {
	cases := [][4]float64{
		{1, 0, 0, 0},
		{0.7071, 0.7071, 0, 0},
		{-0.994, 0.050, 0.097, -0.041},
	}
	for _, q := range cases {
		m := QuaternionToMatrix(q)
		back := MatrixToQuaternionWXYZ(m)

		if back[0] < 0 {
			back = [4]float64{-back[0], -back[1], -back[2], -back[3]}
		}
		want := q
		if want[0] < 0 {
			want = [4]float64{-want[0], -want[1], -want[2], -want[3]}
		}
		for i := range want {
			if math.Abs(back[i]-want[i]) > 1e-2 {
				t.Errorf("q=%v round trip[%d] = %v, want %v", q, i, back[i], want[i])
			}
		}
	}
}

// Euler extraction of the identity quaternion is [0,0,0].
func TestQuaternionToEuler_Identity(t *testing.T) {
	got := QuaternionToEuler(1, 0, 0, 0)
	for i, v := range got {
		if math.Abs(v) > 1e-9 {
			t.Errorf("euler[%d] = %v, want 0", i, v)
		}
	}
}

func TestMatrixPlausible_RejectsOutOfRangeNorm(t *testing.T) {
	m := [3][3]float64{
		{3, 0, 0},
		{0, 3, 0},
		{0, 0, 3},
	}
	if matrixPlausible(m) {
		t.Fatal("plausibility gate accepted an out-of-range-norm matrix")
	}
}

func TestMatrixPlausible_RejectsNonOrthogonalRows(t *testing.T) {
	m := [3][3]float64{
		{1, 0, 0},
		{1, 0, 0},
		{0, 0, 1},
	}
	if matrixPlausible(m) {
		t.Fatal("plausibility gate accepted rows with dot product 1")
	}
}

// BuildCommand produces a 63-byte buffer: prefix, opcode, zero pad.
func TestBuildCommand(t *testing.T) {
	buf := BuildCommand(CmdUUID)
	if len(buf) != ReportSize {
		t.Fatalf("len = %d, want %d", len(buf), ReportSize)
	}
	want := []byte{0x02, 0xFD, 0x66, 0x00, 0x02}
	for i, b := range want {
		if buf[i] != b {
			t.Errorf("buf[%d] = %#x, want %#x", i, buf[i], b)
		}
	}
	for i := len(want); i < ReportSize; i++ {
		if buf[i] != 0 {
			t.Errorf("buf[%d] = %#x, want 0", i, buf[i])
		}
	}
}

func TestBuildConfigureCmd(t *testing.T) {
	buf := BuildConfigureCmd(true, 1, false)
	want := []byte{0x02, 0x19, 0x95, 1, 1, 0}
	for i, b := range want {
		if buf[i] != b {
			t.Errorf("buf[%d] = %#x, want %#x", i, buf[i], b)
		}
	}
}

func TestBuildEdgeStreamCmd(t *testing.T) {
	buf := BuildEdgeStreamCmd(1, true, false)
	want := []byte{0x02, 0xA2, 0x33, 1, 1, 0}
	for i, b := range want {
		if buf[i] != b {
			t.Errorf("buf[%d] = %#x, want %#x", i, buf[i], b)
		}
	}
}

// ValidateResponse on a matching frame returns 1+len(opcode).
func TestValidateResponse_Match(t *testing.T) {
	frame := mustPacket(t, "01 FD 66 00 02 58")
	frame = append(frame, make([]byte, ReportSize-len(frame))...)

	n, err := ValidateResponse(frame, CmdUUID)
	if err != nil {
		t.Fatalf("ValidateResponse error: %v", err)
	}
	if n != 5 {
		t.Errorf("n = %d, want 5", n)
	}
}

func TestValidateResponse_BadPrefix(t *testing.T) {
	frame := mustPacket(t, "02 FD 66 00 02")
	if _, err := ValidateResponse(frame, CmdUUID); err == nil {
		t.Fatal("expected error on bad direction prefix")
	}
}

func TestValidateResponse_OpcodeMismatch(t *testing.T) {
	frame := mustPacket(t, "01 00 00 00 00")
	if _, err := ValidateResponse(frame, CmdUUID); err == nil {
		t.Fatal("expected error on opcode mismatch")
	}
}

// An empty response buffer is rejected as an invalid response.
func TestValidateResponse_Empty(t *testing.T) {
	_, err := ValidateResponse(nil, CmdUUID)
	if err == nil {
		t.Fatal("expected error on empty buffer")
	}
}

func TestParseFeatures(t *testing.T) {
	payload := []byte{0x07, 0x00, 0x00, 0x00} // EDGE_MODE|MIXED_MODE|STEREO
	f := ParseFeatures(payload)
	if !f.Has(FeatureEdgeMode) || !f.Has(FeatureMixedMode) || !f.Has(FeatureStereo) {
		t.Errorf("unexpected features: %s", f)
	}
	if f.Has(FeatureRGB) {
		t.Errorf("unexpected RGB bit set: %s", f)
	}
}

func TestParseFeatures_Short(t *testing.T) {
	if f := ParseFeatures([]byte{0x01}); f != 0 {
		t.Errorf("short payload should yield 0, got %s", f)
	}
}

func TestExtractCString(t *testing.T) {
	payload := append([]byte("v1.2.3"), 0, 0xAA, 0xBB)
	if got := ExtractCString(payload); got != "v1.2.3" {
		t.Errorf("got %q, want %q", got, "v1.2.3")
	}
}

func TestExtractCString_NoNul(t *testing.T) {
	payload := []byte("no-nul")
	if got := ExtractCString(payload); got != "no-nul" {
		t.Errorf("got %q, want %q", got, "no-nul")
	}
}

func TestFeaturesString_None(t *testing.T) {
	if got := Features(0).String(); got != "NONE" {
		t.Errorf("got %q, want NONE", got)
	}
}
