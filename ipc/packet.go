// Package ipc implements the streaming wire format: one self-describing
// little-endian packet per frame.
//
// Layout:
//
//	header      11 x uint32  colorW colorH depthW depthH confW confH
//	                         colorSize depthSize confSize miscSize deviceType
//	intrinsics   4 x float32 fx fy cx cy
//	pose         7 x float32 qx qy qz qw tx ty tz
//	payloads     color | depth | confidence | misc
//
// Depth and confidence dimensions and sizes are zero when absent.
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/NYU-robot-learning/AnySense/types"
)

// Packet size constants.
const (
	// HeaderSize is the size of the uint32 header block.
	HeaderSize = 11 * 4
	// IntrinsicsSize is the size of the intrinsics block.
	IntrinsicsSize = 4 * 4
	// PoseSize is the size of the pose block.
	PoseSize = 7 * 4
	// PreambleSize is everything before the payloads.
	PreambleSize = HeaderSize + IntrinsicsSize + PoseSize
	// MaxPayloadSize bounds the combined payload bytes of one packet.
	MaxPayloadSize = 64 * 1024 * 1024
)

// PacketErrorKind classifies packet decoding errors.
type PacketErrorKind int

const (
	// PacketErrorPartial indicates a truncated packet.
	PacketErrorPartial PacketErrorKind = iota
	// PacketErrorTooLarge indicates payload sizes exceeding MaxPayloadSize.
	PacketErrorTooLarge
	// PacketErrorMalformed indicates an inconsistent header.
	PacketErrorMalformed
)

func (k PacketErrorKind) String() string {
	switch k {
	case PacketErrorPartial:
		return "partial"
	case PacketErrorTooLarge:
		return "too_large"
	default:
		return "malformed"
	}
}

// PacketError represents a packet decoding error.
type PacketError struct {
	Kind PacketErrorKind
	Msg  string
	Err  error
}

func (e *PacketError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *PacketError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether the stream is unusable after this error.
// A partial or oversized packet leaves the reader out of sync.
func (e *PacketError) IsFatal() bool {
	return e.Kind == PacketErrorPartial || e.Kind == PacketErrorTooLarge
}

// IsFatalPacketError returns true if err is a fatal packet error.
func IsFatalPacketError(err error) bool {
	var pe *PacketError
	if errors.As(err, &pe) {
		return pe.IsFatal()
	}
	return false
}

// Header is the fixed uint32 block at the start of every packet.
type Header struct {
	ColorWidth       uint32
	ColorHeight      uint32
	DepthWidth       uint32
	DepthHeight      uint32
	ConfidenceWidth  uint32
	ConfidenceHeight uint32
	ColorSize        uint32
	DepthSize        uint32
	ConfidenceSize   uint32
	MiscSize         uint32
	DeviceType       uint32
}

// PayloadSize returns the combined payload bytes announced by the header.
func (h Header) PayloadSize() uint64 {
	return uint64(h.ColorSize) + uint64(h.DepthSize) + uint64(h.ConfidenceSize) + uint64(h.MiscSize)
}

func (h Header) fields() [11]uint32 {
	return [11]uint32{
		h.ColorWidth, h.ColorHeight,
		h.DepthWidth, h.DepthHeight,
		h.ConfidenceWidth, h.ConfidenceHeight,
		h.ColorSize, h.DepthSize, h.ConfidenceSize,
		h.MiscSize, h.DeviceType,
	}
}

// validate checks that absent planes carry no dimensions.
func (h Header) validate() error {
	if h.DepthSize == 0 && (h.DepthWidth != 0 || h.DepthHeight != 0) {
		return &PacketError{Kind: PacketErrorMalformed, Msg: "depth dimensions without depth payload"}
	}
	if h.ConfidenceSize == 0 && (h.ConfidenceWidth != 0 || h.ConfidenceHeight != 0) {
		return &PacketError{Kind: PacketErrorMalformed, Msg: "confidence dimensions without confidence payload"}
	}
	if h.PayloadSize() > MaxPayloadSize {
		return &PacketError{
			Kind: PacketErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", h.PayloadSize(), MaxPayloadSize),
		}
	}
	return nil
}

// Packet is one decoded streaming packet.
type Packet struct {
	Header     Header
	Intrinsics types.Intrinsics
	Pose       types.Pose
	Color      []byte
	Depth      []byte
	Confidence []byte
	Misc       []byte
}

// NewPacket builds a packet from processed payloads. Depth and confidence
// are included only when depth is true and the payload exists.
func NewPacket(p *types.Payloads, in types.Intrinsics, pose types.Pose, depth bool) *Packet {
	pk := &Packet{
		Header:     Header{DeviceType: types.DeviceType},
		Intrinsics: in,
		Pose:       pose,
	}
	if p == nil {
		return pk
	}
	if p.HasColor() {
		pk.Color = p.Color
		pk.Header.ColorWidth = uint32(p.ColorSize.Width)
		pk.Header.ColorHeight = uint32(p.ColorSize.Height)
		pk.Header.ColorSize = uint32(len(p.Color))
	}
	if depth && p.HasDepth() {
		pk.Depth = p.Depth
		pk.Header.DepthWidth = uint32(p.DepthSize.Width)
		pk.Header.DepthHeight = uint32(p.DepthSize.Height)
		pk.Header.DepthSize = uint32(len(p.Depth))
	}
	if depth && p.HasConfidence() {
		pk.Confidence = p.Confidence
		pk.Header.ConfidenceWidth = uint32(p.ConfidenceSize.Width)
		pk.Header.ConfidenceHeight = uint32(p.ConfidenceSize.Height)
		pk.Header.ConfidenceSize = uint32(len(p.Confidence))
	}
	return pk
}

// Size returns the encoded length of the packet.
func (pk *Packet) Size() int {
	return PreambleSize + len(pk.Color) + len(pk.Depth) + len(pk.Confidence) + len(pk.Misc)
}

// Encode serializes the packet. The header sizes are taken from the
// payload lengths, so a packet built by hand still encodes consistently.
func Encode(pk *Packet) []byte {
	return AppendEncode(make([]byte, 0, pk.Size()), pk)
}

// AppendEncode appends the encoded packet to dst.
func AppendEncode(dst []byte, pk *Packet) []byte {
	h := pk.Header
	h.ColorSize = uint32(len(pk.Color))
	h.DepthSize = uint32(len(pk.Depth))
	h.ConfidenceSize = uint32(len(pk.Confidence))
	h.MiscSize = uint32(len(pk.Misc))

	for _, v := range h.fields() {
		dst = binary.LittleEndian.AppendUint32(dst, v)
	}
	for _, v := range [4]float32{pk.Intrinsics.Fx, pk.Intrinsics.Fy, pk.Intrinsics.Cx, pk.Intrinsics.Cy} {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	}
	for _, v := range pk.Pose.Fields() {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	}
	dst = append(dst, pk.Color...)
	dst = append(dst, pk.Depth...)
	dst = append(dst, pk.Confidence...)
	return append(dst, pk.Misc...)
}

// decodePreamble parses the fixed-size prefix of a packet.
func decodePreamble(b []byte) (Header, types.Intrinsics, types.Pose) {
	u := func(i int) uint32 { return binary.LittleEndian.Uint32(b[i*4:]) }
	f := func(i int) float32 { return math.Float32frombits(u(i)) }

	h := Header{
		ColorWidth: u(0), ColorHeight: u(1),
		DepthWidth: u(2), DepthHeight: u(3),
		ConfidenceWidth: u(4), ConfidenceHeight: u(5),
		ColorSize: u(6), DepthSize: u(7), ConfidenceSize: u(8),
		MiscSize: u(9), DeviceType: u(10),
	}
	in := types.Intrinsics{Fx: f(11), Fy: f(12), Cx: f(13), Cy: f(14)}
	pose := types.Pose{Qx: f(15), Qy: f(16), Qz: f(17), Qw: f(18), Tx: f(19), Ty: f(20), Tz: f(21)}
	return h, in, pose
}

// Decode parses exactly one packet from b.
func Decode(b []byte) (*Packet, error) {
	if len(b) < PreambleSize {
		return nil, &PacketError{
			Kind: PacketErrorPartial,
			Msg:  fmt.Sprintf("packet of %d bytes is shorter than the %d byte preamble", len(b), PreambleSize),
		}
	}
	h, in, pose := decodePreamble(b)
	if err := h.validate(); err != nil {
		return nil, err
	}
	want := uint64(PreambleSize) + h.PayloadSize()
	if uint64(len(b)) < want {
		return nil, &PacketError{
			Kind: PacketErrorPartial,
			Msg:  fmt.Sprintf("packet of %d bytes, header announces %d", len(b), want),
		}
	}
	if uint64(len(b)) > want {
		return nil, &PacketError{
			Kind: PacketErrorMalformed,
			Msg:  fmt.Sprintf("%d trailing bytes after packet", uint64(len(b))-want),
		}
	}

	pk := &Packet{Header: h, Intrinsics: in, Pose: pose}
	rest := b[PreambleSize:]
	pk.Color, rest = split(rest, h.ColorSize)
	pk.Depth, rest = split(rest, h.DepthSize)
	pk.Confidence, rest = split(rest, h.ConfidenceSize)
	pk.Misc, _ = split(rest, h.MiscSize)
	return pk, nil
}

func split(b []byte, n uint32) ([]byte, []byte) {
	if n == 0 {
		return nil, b
	}
	out := make([]byte, n)
	copy(out, b[:n])
	return out, b[n:]
}

// PacketReader reads consecutive packets from a byte stream.
type PacketReader struct {
	reader io.Reader
}

// NewPacketReader creates a packet reader.
func NewPacketReader(r io.Reader) *PacketReader {
	return &PacketReader{reader: r}
}

// ReadPacket reads a single packet from the stream.
//
// Errors:
//   - io.EOF: stream ended cleanly between packets
//   - *PacketError with Kind=PacketErrorPartial: truncated packet (fatal)
//   - *PacketError with Kind=PacketErrorTooLarge: oversized payload (fatal)
//   - *PacketError with Kind=PacketErrorMalformed: inconsistent header; the
//     payload bytes were consumed so the stream is still aligned
func (r *PacketReader) ReadPacket() (*Packet, error) {
	var pre [PreambleSize]byte
	if _, err := io.ReadFull(r.reader, pre[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &PacketError{
			Kind: PacketErrorPartial,
			Msg:  "failed to read packet preamble",
			Err:  err,
		}
	}

	h, in, pose := decodePreamble(pre[:])
	if h.PayloadSize() > MaxPayloadSize {
		return nil, &PacketError{
			Kind: PacketErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", h.PayloadSize(), MaxPayloadSize),
		}
	}

	payload := make([]byte, h.PayloadSize())
	if _, err := io.ReadFull(r.reader, payload); err != nil {
		return nil, &PacketError{
			Kind: PacketErrorPartial,
			Msg:  "failed to read packet payload",
			Err:  err,
		}
	}
	if err := h.validate(); err != nil {
		return nil, err
	}

	pk := &Packet{Header: h, Intrinsics: in, Pose: pose}
	rest := payload
	pk.Color, rest = sub(rest, h.ColorSize)
	pk.Depth, rest = sub(rest, h.DepthSize)
	pk.Confidence, rest = sub(rest, h.ConfidenceSize)
	pk.Misc, _ = sub(rest, h.MiscSize)
	return pk, nil
}

// sub slices without copying; the reader owns a fresh buffer per packet.
func sub(b []byte, n uint32) ([]byte, []byte) {
	if n == 0 {
		return nil, b
	}
	return b[:n:n], b[n:]
}
