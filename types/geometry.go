//nolint:revive // types is a common Go package naming convention
package types

import (
	"fmt"
	"math"
)

// Size is a width and height in pixels.
type Size struct {
	Width  int `yaml:"width" json:"width" msgpack:"width"`
	Height int `yaml:"height" json:"height" msgpack:"height"`
}

// String formats the size as WxH.
func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Empty reports whether either dimension is non-positive.
func (s Size) Empty() bool {
	return s.Width <= 0 || s.Height <= 0
}

// Default output viewports.
var (
	// DefaultViewport is the color output resolution (portrait).
	DefaultViewport = Size{Width: 720, Height: 960}
	// DefaultDepthViewport is the depth and confidence output resolution.
	DefaultDepthViewport = Size{Width: 192, Height: 256}
)

// Orientation is the interface orientation the output is rendered for.
type Orientation string

// Supported orientations.
const (
	OrientationPortrait           Orientation = "portrait"
	OrientationPortraitUpsideDown Orientation = "portrait_upside_down"
	OrientationLandscapeLeft      Orientation = "landscape_left"
	OrientationLandscapeRight     Orientation = "landscape_right"
)

// IsPortrait reports whether the orientation is one of the portrait variants.
func (o Orientation) IsPortrait() bool {
	return o == OrientationPortrait || o == OrientationPortraitUpsideDown
}

// ParseOrientation parses an orientation name. Empty means portrait.
func ParseOrientation(s string) (Orientation, error) {
	switch Orientation(s) {
	case "":
		return OrientationPortrait, nil
	case OrientationPortrait, OrientationPortraitUpsideDown,
		OrientationLandscapeLeft, OrientationLandscapeRight:
		return Orientation(s), nil
	default:
		return "", fmt.Errorf("invalid orientation: %q", s)
	}
}

// Affine is a 2-D affine transform mapping (x, y) to
// (A*x + C*y + Tx, B*x + D*y + Ty).
type Affine struct {
	A, B, C, D, Tx, Ty float64
}

// Identity returns the identity transform.
func Identity() Affine {
	return Affine{A: 1, D: 1}
}

// Scale returns a scaling transform.
func Scale(sx, sy float64) Affine {
	return Affine{A: sx, D: sy}
}

// Translate returns a translation transform.
func Translate(tx, ty float64) Affine {
	return Affine{A: 1, D: 1, Tx: tx, Ty: ty}
}

// Then returns the transform that applies t first and u second.
func (t Affine) Then(u Affine) Affine {
	return Affine{
		A:  u.A*t.A + u.C*t.B,
		B:  u.B*t.A + u.D*t.B,
		C:  u.A*t.C + u.C*t.D,
		D:  u.B*t.C + u.D*t.D,
		Tx: u.A*t.Tx + u.C*t.Ty + u.Tx,
		Ty: u.B*t.Tx + u.D*t.Ty + u.Ty,
	}
}

// Apply maps a point through the transform.
func (t Affine) Apply(x, y float64) (float64, float64) {
	return t.A*x + t.C*y + t.Tx, t.B*x + t.D*y + t.Ty
}

// Det returns the determinant of the linear part.
func (t Affine) Det() float64 {
	return t.A*t.D - t.B*t.C
}

// Invert returns the inverse transform. ok is false for singular transforms.
func (t Affine) Invert() (inv Affine, ok bool) {
	det := t.Det()
	if math.Abs(det) < 1e-12 {
		return Affine{}, false
	}
	a := t.D / det
	b := -t.B / det
	c := -t.C / det
	d := t.A / det
	return Affine{
		A: a, B: b, C: c, D: d,
		Tx: -(a*t.Tx + c*t.Ty),
		Ty: -(b*t.Tx + d*t.Ty),
	}, true
}

// PortraitFlip maps normalized coordinates (x, y) to (1-x, 1-y).
func PortraitFlip() Affine {
	return Scale(-1, -1).Then(Translate(1, 1))
}

// ComposeViewport builds the transform from a raw plane of size src into
// the output viewport: normalize by src, flip for portrait, apply the
// session display transform, then scale to the viewport.
func ComposeViewport(src Size, orientation Orientation, displayTransform Affine, viewport Size) Affine {
	t := Scale(1/float64(src.Width), 1/float64(src.Height))
	if orientation.IsPortrait() {
		t = t.Then(PortraitFlip())
	}
	return t.Then(displayTransform).Then(Scale(float64(viewport.Width), float64(viewport.Height)))
}

// DepthAvailability is the tri-state depth capability of a session.
type DepthAvailability int32

const (
	// DepthUnknown means the initializer has not settled yet.
	DepthUnknown DepthAvailability = iota
	// DepthAvailable means a depth transform was computed.
	DepthAvailable
	// DepthUnavailable means depth is unsupported or the retry budget ran out.
	DepthUnavailable
)

// String returns the availability name.
func (d DepthAvailability) String() string {
	switch d {
	case DepthAvailable:
		return "available"
	case DepthUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Terminal reports whether the availability can no longer change.
func (d DepthAvailability) Terminal() bool {
	return d == DepthAvailable || d == DepthUnavailable
}

// GeometryTransforms holds the per-session viewport transforms.
type GeometryTransforms struct {
	// Color maps the raw color plane into the color viewport.
	Color *Affine
	// Depth maps the raw depth plane into the depth viewport.
	// Nil until depth becomes available, and forever nil if it never does.
	Depth *Affine
}
