package geometry

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/NYU-robot-learning/AnySense/log"
	"github.com/NYU-robot-learning/AnySense/types"
)

// Defaults for the depth initialization loop.
const (
	DefaultMaxDepthRetries = 50
	DefaultRetryDelay      = 10 * time.Millisecond
	DefaultPollInterval    = 10 * time.Millisecond
)

// FrameSource is the subset of the capture source the initializer polls.
type FrameSource interface {
	CurrentFrame() (*types.Frame, bool)
	SupportsDepth() bool
	DisplayTransform(o types.Orientation, viewport types.Size) types.Affine
}

// Config configures an Initializer.
type Config struct {
	Orientation   types.Orientation
	Viewport      types.Size
	DepthViewport types.Size
	// MaxDepthRetries bounds the depth transform attempts (default 50).
	MaxDepthRetries int
	// RetryDelay is the pause between depth attempts (default 10ms).
	RetryDelay time.Duration
	// PollInterval is the pause between first-frame polls (default 10ms).
	PollInterval time.Duration
	Clock        clock.Clock
	Logger       *log.Logger
}

// Initializer computes the color and depth transforms for one session.
type Initializer struct {
	cfg   Config
	state *State
}

// NewInitializer creates an initializer with a fresh State.
func NewInitializer(cfg Config) *Initializer {
	if cfg.Orientation == "" {
		cfg.Orientation = types.OrientationPortrait
	}
	if cfg.Viewport.Empty() {
		cfg.Viewport = types.DefaultViewport
	}
	if cfg.DepthViewport.Empty() {
		cfg.DepthViewport = types.DefaultDepthViewport
	}
	if cfg.MaxDepthRetries <= 0 {
		cfg.MaxDepthRetries = DefaultMaxDepthRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	return &Initializer{cfg: cfg, state: NewState()}
}

// State returns the state this initializer publishes into.
func (i *Initializer) State() *State {
	return i.state
}

// Start runs the initializer on its own goroutine. The returned channel
// receives Run's result and is then closed.
func (i *Initializer) Start(ctx context.Context, src FrameSource) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- i.Run(ctx, src)
	}()
	return done
}

// Run waits for the first frame, publishes the color transform, then
// tries to publish the depth transform within the retry budget.
//
// Waiting for the first frame does not consume depth attempts. A frame
// without a depth plane does. Exhausting the budget, or a source without
// depth support, settles depth as Unavailable and returns nil.
// Cancellation returns ctx.Err() and leaves depth Unknown.
func (i *Initializer) Run(ctx context.Context, src FrameSource) error {
	frame, err := i.waitFirstFrame(ctx, src)
	if err != nil {
		return err
	}

	if i.state.Transforms().Color == nil {
		t := types.ComposeViewport(
			frame.ColorSize(),
			i.cfg.Orientation,
			src.DisplayTransform(i.cfg.Orientation, i.cfg.Viewport),
			i.cfg.Viewport,
		)
		i.state.SetColor(t)
		i.cfg.Logger.Debug("color transform initialized", map[string]any{
			"source":   frame.ColorSize().String(),
			"viewport": i.cfg.Viewport.String(),
		})
	}

	if !src.SupportsDepth() {
		i.state.MarkUnavailable()
		i.cfg.Logger.Info("depth unsupported by capture session", nil)
		return nil
	}

	for attempt := 1; attempt <= i.cfg.MaxDepthRetries; attempt++ {
		i.state.attempts.Store(int32(attempt))

		if frame != nil && frame.Depth != nil {
			t := types.ComposeViewport(
				frame.Depth.Size(),
				i.cfg.Orientation,
				src.DisplayTransform(i.cfg.Orientation, i.cfg.DepthViewport),
				i.cfg.DepthViewport,
			)
			i.state.SetDepth(t)
			i.cfg.Logger.Info("depth transform initialized", map[string]any{
				"attempts": attempt,
				"source":   frame.Depth.Size().String(),
				"viewport": i.cfg.DepthViewport.String(),
			})
			return nil
		}

		i.cfg.Logger.Debug("depth map unavailable, retrying", map[string]any{
			"attempt": attempt,
			"max":     i.cfg.MaxDepthRetries,
		})
		if attempt == i.cfg.MaxDepthRetries {
			break
		}
		if err := i.sleep(ctx, i.cfg.RetryDelay); err != nil {
			return err
		}
		frame, _ = src.CurrentFrame()
	}

	i.state.MarkUnavailable()
	i.cfg.Logger.Warn("depth initialization failed", map[string]any{
		"attempts": i.cfg.MaxDepthRetries,
	})
	return nil
}

func (i *Initializer) waitFirstFrame(ctx context.Context, src FrameSource) (*types.Frame, error) {
	for {
		if f, ok := src.CurrentFrame(); ok && f != nil && f.Color != nil {
			return f, nil
		}
		if err := i.sleep(ctx, i.cfg.PollInterval); err != nil {
			return nil, err
		}
	}
}

func (i *Initializer) sleep(ctx context.Context, d time.Duration) error {
	t := i.cfg.Clock.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
