//nolint:revive // types is a common Go package naming convention
package types

import "time"

// Payloads is the output of processing one frame: compressed planes ready
// for a sink. A nil payload means that stream is skipped for this frame.
type Payloads struct {
	// Seq and Timestamp identify the source frame.
	Seq       uint64
	Timestamp time.Time

	// Color is the compressed color plane (JPEG).
	Color     []byte
	ColorSize Size

	// Depth is the compressed, optionally false-coloured depth plane (JPEG).
	Depth     []byte
	DepthSize Size

	// Confidence is the compressed 8-bit confidence plane (PNG).
	Confidence     []byte
	ConfidenceSize Size

	// RawDepth is the unfiltered depth plane in meters, kept for snapshots.
	RawDepth *DepthMap
}

// HasColor reports whether a color payload was produced.
func (p *Payloads) HasColor() bool {
	return p != nil && len(p.Color) > 0
}

// HasDepth reports whether a depth payload was produced.
func (p *Payloads) HasDepth() bool {
	return p != nil && len(p.Depth) > 0
}

// HasConfidence reports whether a confidence payload was produced.
func (p *Payloads) HasConfidence() bool {
	return p != nil && len(p.Confidence) > 0
}

// Complete reports whether every stream expected for the given depth mode
// produced a payload.
func (p *Payloads) Complete(depth bool) bool {
	if !p.HasColor() {
		return false
	}
	if !depth {
		return true
	}
	return p.HasDepth() && p.HasConfidence()
}
