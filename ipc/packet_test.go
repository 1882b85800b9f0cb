package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/NYU-robot-learning/AnySense/types"
)

var (
	testIntrinsics = types.Intrinsics{Fx: 1450.5, Fy: 1450.5, Cx: 959.25, Cy: 719.75}
	testPose       = types.Pose{Qx: 0.1, Qy: -0.2, Qz: 0.3, Qw: 0.9, Tx: 1.25, Ty: -0.5, Tz: 2}
)

func testPayloads() *types.Payloads {
	return &types.Payloads{
		Color:          []byte("color-jpeg"),
		ColorSize:      types.Size{Width: 720, Height: 960},
		Depth:          []byte("depth"),
		DepthSize:      types.Size{Width: 192, Height: 256},
		Confidence:     []byte("conf-png!"),
		ConfidenceSize: types.Size{Width: 192, Height: 256},
	}
}

func TestEncode_Layout(t *testing.T) {
	pk := NewPacket(testPayloads(), testIntrinsics, testPose, true)
	b := Encode(pk)

	if len(b) != PreambleSize+10+5+9 {
		t.Fatalf("len = %d, want %d", len(b), PreambleSize+24)
	}

	wantHeader := []uint32{720, 960, 192, 256, 192, 256, 10, 5, 9, 0, 1}
	for i, want := range wantHeader {
		if got := binary.LittleEndian.Uint32(b[i*4:]); got != want {
			t.Errorf("header[%d] = %d, want %d", i, got, want)
		}
	}
	if got := math.Float32frombits(binary.LittleEndian.Uint32(b[HeaderSize:])); got != testIntrinsics.Fx {
		t.Errorf("fx = %v, want %v", got, testIntrinsics.Fx)
	}
	if got := math.Float32frombits(binary.LittleEndian.Uint32(b[HeaderSize+IntrinsicsSize+6*4:])); got != testPose.Tz {
		t.Errorf("tz = %v, want %v", got, testPose.Tz)
	}
	if got := string(b[PreambleSize:]); got != "color-jpegdepthconf-png!" {
		t.Errorf("payloads = %q", got)
	}
}

func TestNewPacket_DepthUnavailable(t *testing.T) {
	pk := NewPacket(testPayloads(), testIntrinsics, testPose, false)
	h := pk.Header
	if h.DepthSize != 0 || h.ConfidenceSize != 0 ||
		h.DepthWidth != 0 || h.DepthHeight != 0 ||
		h.ConfidenceWidth != 0 || h.ConfidenceHeight != 0 {
		t.Errorf("depth fields must be zero when depth is unavailable: %+v", h)
	}
	if h.ColorSize != 10 || h.DeviceType != types.DeviceType || h.MiscSize != 0 {
		t.Errorf("header = %+v", h)
	}
	if len(Encode(pk)) != PreambleSize+10 {
		t.Error("encoded packet must contain only the color payload")
	}
}

func TestDecode_RoundTripByteExact(t *testing.T) {
	tests := []struct {
		name  string
		depth bool
	}{
		{"with depth", true},
		{"color only", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pk := NewPacket(testPayloads(), testIntrinsics, testPose, tt.depth)
			b := Encode(pk)

			got, err := Decode(b)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if diff := cmp.Diff(pk, got); diff != "" {
				t.Errorf("packet mismatch (-want +got):\n%s", diff)
			}
			if !bytes.Equal(Encode(got), b) {
				t.Error("re-encoding is not byte-exact")
			}
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	valid := Encode(NewPacket(testPayloads(), testIntrinsics, testPose, true))

	tests := []struct {
		name  string
		input []byte
		kind  PacketErrorKind
		fatal bool
	}{
		{"short preamble", valid[:PreambleSize-1], PacketErrorPartial, true},
		{"truncated payload", valid[:len(valid)-1], PacketErrorPartial, true},
		{"trailing bytes", append(append([]byte{}, valid...), 0), PacketErrorMalformed, false},
		{"oversized", func() []byte {
			b := append([]byte{}, valid...)
			binary.LittleEndian.PutUint32(b[6*4:], MaxPayloadSize+1)
			return b
		}(), PacketErrorTooLarge, true},
		{"dimensions without payload", func() []byte {
			pk := NewPacket(testPayloads(), testIntrinsics, testPose, false)
			pk.Header.DepthWidth = 192
			return Encode(pk)
		}(), PacketErrorMalformed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.input)
			var pe *PacketError
			if !errors.As(err, &pe) {
				t.Fatalf("Decode = %v, want *PacketError", err)
			}
			if pe.Kind != tt.kind {
				t.Errorf("Kind = %s, want %s", pe.Kind, tt.kind)
			}
			if IsFatalPacketError(err) != tt.fatal {
				t.Errorf("IsFatalPacketError = %v, want %v", !tt.fatal, tt.fatal)
			}
		})
	}
}

func TestPacketReader_Stream(t *testing.T) {
	first := NewPacket(testPayloads(), testIntrinsics, testPose, true)
	second := NewPacket(testPayloads(), testIntrinsics, types.IdentityPose, false)
	second.Misc = []byte{9, 9}

	var stream bytes.Buffer
	stream.Write(Encode(first))
	stream.Write(Encode(second))

	r := NewPacketReader(&stream)
	got1, err := r.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket 1: %v", err)
	}
	if diff := cmp.Diff(first, got1); diff != "" {
		t.Errorf("packet 1 mismatch (-want +got):\n%s", diff)
	}

	got2, err := r.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket 2: %v", err)
	}
	if got2.Header.MiscSize != 2 || !bytes.Equal(got2.Misc, []byte{9, 9}) {
		t.Errorf("misc = %v (size %d)", got2.Misc, got2.Header.MiscSize)
	}
	if got2.Depth != nil || got2.Header.DepthSize != 0 {
		t.Error("second packet must not carry depth")
	}

	if _, err := r.ReadPacket(); err != io.EOF {
		t.Errorf("ReadPacket at end = %v, want io.EOF", err)
	}
}

func TestPacketReader_Truncated(t *testing.T) {
	b := Encode(NewPacket(testPayloads(), testIntrinsics, testPose, true))
	for _, n := range []int{2, PreambleSize, len(b) - 1} {
		r := NewPacketReader(bytes.NewReader(b[:n]))
		_, err := r.ReadPacket()
		if !IsFatalPacketError(err) {
			t.Errorf("cut at %d: err = %v, want fatal", n, err)
		}
	}
}

func TestPacketReader_MalformedStaysAligned(t *testing.T) {
	bad := NewPacket(testPayloads(), testIntrinsics, testPose, false)
	bad.Header.ConfidenceHeight = 5
	good := NewPacket(testPayloads(), testIntrinsics, testPose, true)

	var stream bytes.Buffer
	stream.Write(Encode(bad))
	stream.Write(Encode(good))

	r := NewPacketReader(&stream)
	if _, err := r.ReadPacket(); err == nil || IsFatalPacketError(err) {
		t.Fatalf("first ReadPacket = %v, want non-fatal malformed error", err)
	}
	got, err := r.ReadPacket()
	if err != nil {
		t.Fatalf("second ReadPacket: %v", err)
	}
	if diff := cmp.Diff(good, got); diff != "" {
		t.Errorf("packet mismatch (-want +got):\n%s", diff)
	}
}

func TestPacketError_Unwrap(t *testing.T) {
	err := &PacketError{Kind: PacketErrorPartial, Msg: "read", Err: io.ErrUnexpectedEOF}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("Unwrap should expose the underlying error")
	}
	if err.Error() != "read: unexpected EOF" {
		t.Errorf("Error() = %q", err.Error())
	}
	if IsFatalPacketError(nil) || IsFatalPacketError(io.EOF) {
		t.Error("non-packet errors are not fatal packet errors")
	}
}
