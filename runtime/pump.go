// Package runtime runs the capture pipeline: a fixed-rate pump that moves
// frames from the source through the image processor into the active
// sink, and the controller that switches between recording and streaming.
package runtime

import (
	"context"
	"errors"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/NYU-robot-learning/AnySense/log"
	"github.com/NYU-robot-learning/AnySense/metrics"
	"github.com/NYU-robot-learning/AnySense/types"
)

// DefaultFPS is the pump rate when none is configured.
const DefaultFPS = 30

// ErrPumpStarted is returned by Start on a pump that was already started.
var ErrPumpStarted = errors.New("runtime: pump already started")

// FrameSource yields the most recent captured frame without blocking.
type FrameSource interface {
	CurrentFrame() (*types.Frame, bool)
}

// Geometry provides the published transforms.
type Geometry interface {
	Transforms() types.GeometryTransforms
}

// Processor renders a frame into output payloads.
type Processor interface {
	Process(ctx context.Context, f *types.Frame, tr types.GeometryTransforms) (*types.Payloads, error)
}

// PumpConfig configures a Pump.
type PumpConfig struct {
	FPS       int
	Clock     clock.Clock
	Source    FrameSource
	Geometry  Geometry
	Processor Processor
	Target    Target
	// Generation, when non-zero, rejects frames from another source
	// generation.
	Generation uint64
	Logger     *log.Logger
	Metrics    *metrics.Collector
}

// Pump ticks at a fixed rate and keeps at most one frame in flight.
type Pump struct {
	cfg PumpConfig

	mu   sync.Mutex
	loop *tickLoop
}

// NewPump creates a stopped pump.
func NewPump(cfg PumpConfig) *Pump {
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	return &Pump{cfg: cfg}
}

// Start begins ticking. Workers run under a context that is not canceled
// with ctx, so the last frame in flight is always completed.
func (p *Pump) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loop != nil {
		return ErrPumpStarted
	}
	workCtx := context.WithoutCancel(ctx)
	loop := newTickLoop(p.cfg.Clock, interval(p.cfg.FPS))
	loop.run(ctx, func() { p.tick(workCtx, loop) })
	p.loop = loop
	return nil
}

// Stop stops ticking and waits for the frame in flight. Safe to call more
// than once and on a pump that never started.
func (p *Pump) Stop() {
	p.mu.Lock()
	loop := p.loop
	p.mu.Unlock()
	if loop != nil {
		loop.stop()
	}
}

func (p *Pump) tick(ctx context.Context, loop *tickLoop) {
	p.cfg.Metrics.IncTick()
	if !loop.acquire() {
		if !loop.stopping.Load() {
			p.cfg.Metrics.IncSkippedInFlight()
		}
		return
	}

	f, ok := p.cfg.Source.CurrentFrame()
	if !ok || f == nil || (p.cfg.Generation != 0 && f.Generation != p.cfg.Generation) {
		loop.release()
		p.cfg.Metrics.IncSkippedNoFrame()
		return
	}
	tr := p.cfg.Geometry.Transforms()
	if tr.Color == nil {
		loop.release()
		p.cfg.Metrics.IncSkippedNoFrame()
		return
	}

	loop.spawn(func() { p.work(ctx, f, tr) })
}

func (p *Pump) work(ctx context.Context, f *types.Frame, tr types.GeometryTransforms) {
	out, err := p.cfg.Processor.Process(ctx, f, tr)
	if err != nil {
		p.cfg.Metrics.IncProcessFailure()
		p.cfg.Logger.Warn("frame dropped", map[string]any{
			"seq":   f.Seq,
			"error": err.Error(),
		})
		return
	}
	p.cfg.Metrics.IncProcessed()
	p.cfg.Target.Deliver(f, out)
}
