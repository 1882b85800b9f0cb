package source

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/NYU-robot-learning/AnySense/types"
)

// DepthMode controls how a SyntheticSession produces depth.
type DepthMode string

// Depth modes.
const (
	// DepthNone reports depth as unsupported.
	DepthNone DepthMode = "none"
	// DepthReady attaches depth to every frame.
	DepthReady DepthMode = "ready"
	// DepthLate attaches depth only after DepthAfterPolls frame requests.
	DepthLate DepthMode = "late"
	// DepthNever reports depth as supported but never produces it.
	DepthNever DepthMode = "never"
)

// ParseDepthMode parses a depth mode name. Empty means ready.
func ParseDepthMode(s string) (DepthMode, error) {
	switch DepthMode(s) {
	case "":
		return DepthReady, nil
	case DepthNone, DepthReady, DepthLate, DepthNever:
		return DepthMode(s), nil
	default:
		return "", fmt.Errorf("invalid depth mode: %q", s)
	}
}

// SyntheticOptions configures a SyntheticSession.
type SyntheticOptions struct {
	// ColorSize is the raw color plane size (default 640x480).
	ColorSize types.Size
	// DepthSize is the raw depth plane size (default 256x192).
	DepthSize types.Size
	// Depth selects depth behavior (default DepthReady).
	Depth DepthMode
	// DepthAfterPolls is the number of frame requests before depth appears
	// in DepthLate mode.
	DepthAfterPolls int
	// FirstFrameAfterPolls delays the first frame by this many requests.
	FirstFrameAfterPolls int
	// Clock stamps frames. Defaults to the wall clock.
	Clock clock.Clock
}

// SyntheticSession generates deterministic frames without hardware.
// The planes are rendered once and shared across frames; pose and
// timestamp advance per request.
type SyntheticSession struct {
	opts SyntheticOptions

	color      *image.RGBA
	depth      *types.DepthMap
	confidence *image.Gray

	mu      sync.Mutex
	running bool
	closed  bool
	polls   int
	seq     uint64
}

// NewSyntheticSession renders the planes and returns a paused session.
func NewSyntheticSession(opts SyntheticOptions) *SyntheticSession {
	if opts.ColorSize.Empty() {
		opts.ColorSize = types.Size{Width: 640, Height: 480}
	}
	if opts.DepthSize.Empty() {
		opts.DepthSize = types.Size{Width: 256, Height: 192}
	}
	if opts.Depth == "" {
		opts.Depth = DepthReady
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	s := &SyntheticSession{opts: opts}
	s.color = renderColor(opts.ColorSize)
	if opts.Depth != DepthNone {
		s.depth, s.confidence = renderDepth(opts.DepthSize)
	}
	return s
}

// SyntheticFactory returns a SessionFactory producing sessions with opts.
func SyntheticFactory(opts SyntheticOptions) SessionFactory {
	return func() (Session, error) {
		return NewSyntheticSession(opts), nil
	}
}

// Run implements Session.
func (s *SyntheticSession) Run() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("synthetic session closed")
	}
	s.running = true
	return nil
}

// Pause implements Session.
func (s *SyntheticSession) Pause() error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

// Close implements Session.
func (s *SyntheticSession) Close() error {
	s.mu.Lock()
	s.running = false
	s.closed = true
	s.mu.Unlock()
	return nil
}

// SupportsDepth implements Session.
func (s *SyntheticSession) SupportsDepth() bool {
	return s.opts.Depth != DepthNone
}

// DisplayTransform implements Session.
func (s *SyntheticSession) DisplayTransform(o types.Orientation, _ types.Size) types.Affine {
	return DisplayTransform(o)
}

// CurrentFrame implements Session.
func (s *SyntheticSession) CurrentFrame() (*types.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil, false
	}
	s.polls++
	if s.polls <= s.opts.FirstFrameAfterPolls {
		return nil, false
	}
	s.seq++

	f := &types.Frame{
		Color:     s.color,
		Timestamp: s.opts.Clock.Now(),
		Seq:       s.seq,
		Intrinsics: types.Intrinsics{
			Fx: float32(s.opts.ColorSize.Width),
			Fy: float32(s.opts.ColorSize.Width),
			Cx: float32(s.opts.ColorSize.Width) / 2,
			Cy: float32(s.opts.ColorSize.Height) / 2,
		},
		Pose: orbitPose(s.seq),
	}

	switch s.opts.Depth {
	case DepthReady:
		f.Depth, f.Confidence = s.depth, s.confidence
	case DepthLate:
		if s.polls > s.opts.DepthAfterPolls {
			f.Depth, f.Confidence = s.depth, s.confidence
		}
	}
	return f, true
}

// orbitPose walks the camera around a unit circle, one degree per frame,
// yawing to face the origin.
func orbitPose(seq uint64) types.Pose {
	theta := float64(seq%360) * math.Pi / 180
	half := theta / 2
	return types.Pose{
		Qy: float32(math.Sin(half)),
		Qw: float32(math.Cos(half)),
		Tx: float32(math.Cos(theta)),
		Tz: float32(math.Sin(theta)),
	}
}

func renderColor(size types.Size) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	for y := range size.Height {
		for x := range size.Width {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x * 255 / max(size.Width-1, 1)),
				G: uint8(y * 255 / max(size.Height-1, 1)),
				B: 128,
				A: 255,
			})
		}
	}
	return img
}

// renderDepth produces a tilted plane from 0.2m to 1.2m with confidence
// falling off toward the edges.
func renderDepth(size types.Size) (*types.DepthMap, *image.Gray) {
	depth := types.NewDepthMap(size.Width, size.Height)
	conf := image.NewGray(image.Rect(0, 0, size.Width, size.Height))
	for y := range size.Height {
		for x := range size.Width {
			depth.Data[y*size.Width+x] = 0.2 + float32(x)/float32(max(size.Width, 1))
			edge := min(x, y, size.Width-1-x, size.Height-1-y)
			level := uint8(2)
			if edge < 4 {
				level = 0
			} else if edge < 12 {
				level = 1
			}
			conf.SetGray(x, y, color.Gray{Y: level})
		}
	}
	return depth, conf
}

// Verify SyntheticSession implements Session.
var _ Session = (*SyntheticSession)(nil)
