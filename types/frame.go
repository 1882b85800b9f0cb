// Package types defines the core domain types for the AnySense capture pipeline.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"image"
	"time"
)

// Intrinsics are the pinhole camera intrinsics for the color plane.
type Intrinsics struct {
	Fx float32 `msgpack:"fx" json:"fx"`
	Fy float32 `msgpack:"fy" json:"fy"`
	Cx float32 `msgpack:"cx" json:"cx"`
	Cy float32 `msgpack:"cy" json:"cy"`
}

// Pose is the camera pose in world space: a unit quaternion rotation
// followed by a translation in meters.
type Pose struct {
	Qx float32 `msgpack:"qx" json:"qx"`
	Qy float32 `msgpack:"qy" json:"qy"`
	Qz float32 `msgpack:"qz" json:"qz"`
	Qw float32 `msgpack:"qw" json:"qw"`
	Tx float32 `msgpack:"tx" json:"tx"`
	Ty float32 `msgpack:"ty" json:"ty"`
	Tz float32 `msgpack:"tz" json:"tz"`
}

// Fields returns the pose components in wire order (qx, qy, qz, qw, tx, ty, tz).
func (p Pose) Fields() [7]float32 {
	return [7]float32{p.Qx, p.Qy, p.Qz, p.Qw, p.Tx, p.Ty, p.Tz}
}

// IdentityPose is the pose of a camera at the origin with no rotation.
var IdentityPose = Pose{Qw: 1}

// DepthMap is a row-major plane of depth samples in meters.
type DepthMap struct {
	Width  int
	Height int
	Data   []float32
}

// NewDepthMap allocates a zeroed depth map.
func NewDepthMap(width, height int) *DepthMap {
	return &DepthMap{
		Width:  width,
		Height: height,
		Data:   make([]float32, width*height),
	}
}

// At returns the depth at (x, y). Out-of-range coordinates return 0.
func (d *DepthMap) At(x, y int) float32 {
	if x < 0 || y < 0 || x >= d.Width || y >= d.Height {
		return 0
	}
	return d.Data[y*d.Width+x]
}

// Size returns the plane dimensions.
func (d *DepthMap) Size() Size {
	return Size{Width: d.Width, Height: d.Height}
}

// Frame is one synchronized capture of color plus optional depth and
// confidence planes, with the intrinsics and pose at capture time.
//
// A Frame is immutable once produced. Consumers must not modify the planes.
type Frame struct {
	// Color is the color plane. Always present.
	Color image.Image
	// Depth is the depth plane, nil when depth is not captured.
	Depth *DepthMap
	// Confidence is the per-pixel depth confidence, nil with Depth.
	Confidence *image.Gray
	// Intrinsics are the camera intrinsics for Color.
	Intrinsics Intrinsics
	// Pose is the camera pose at capture time.
	Pose Pose
	// Timestamp is the capture time.
	Timestamp time.Time
	// Seq is the per-session frame sequence number, starting at 1.
	Seq uint64
	// Generation identifies the capture session that produced the frame.
	// It changes every time the source is reset.
	Generation uint64
}

// HasDepth reports whether the frame carries a depth plane.
func (f *Frame) HasDepth() bool {
	return f != nil && f.Depth != nil
}

// ColorSize returns the dimensions of the color plane.
func (f *Frame) ColorSize() Size {
	b := f.Color.Bounds()
	return Size{Width: b.Dx(), Height: b.Dy()}
}

// EpochMillis returns t as milliseconds since the Unix epoch.
func EpochMillis(t time.Time) int64 {
	return t.UnixMilli()
}
