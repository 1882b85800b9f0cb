package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/NYU-robot-learning/AnySense/adapter"
	"github.com/NYU-robot-learning/AnySense/geometry"
	"github.com/NYU-robot-learning/AnySense/log"
	"github.com/NYU-robot-learning/AnySense/metrics"
	"github.com/NYU-robot-learning/AnySense/recording"
	"github.com/NYU-robot-learning/AnySense/session"
	"github.com/NYU-robot-learning/AnySense/streaming"
	"github.com/NYU-robot-learning/AnySense/types"
)

// ErrInvalidTransition is returned when a mode change is not allowed from
// the current mode.
var ErrInvalidTransition = errors.New("runtime: invalid mode transition")

// DefaultSettleTimeout bounds how long a mode start waits for depth
// availability to settle.
const DefaultSettleTimeout = 2 * time.Second

// DefaultPublishTimeout bounds publishing the completion event.
const DefaultPublishTimeout = 30 * time.Second

// Mode is the controller state.
type Mode int32

// Controller modes.
const (
	ModeIdle Mode = iota
	ModeRecording
	ModeStreaming
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeRecording:
		return "recording"
	case ModeStreaming:
		return "streaming"
	default:
		return fmt.Sprintf("mode(%d)", int32(m))
	}
}

// Source is the capture source the controller drives.
type Source interface {
	geometry.FrameSource
	Start() error
	Pause() error
	Reset() error
	Generation() uint64
}

// Config configures a Controller.
type Config struct {
	FPS       int
	OutputDir string
	// Container is the video file extension, e.g. "mjpeg" or "mp4".
	Container   string
	TactileRate int

	Geometry  geometry.Config
	Source    Source
	Processor Processor
	Recorder  *recording.Sink
	Streamer  *streaming.Sink

	// Optional collaborators.
	Radio               RadioLink
	Adapter             adapter.Adapter
	Catalog             *session.Catalog
	Classifier          Classifier
	ClassifierFrequency Frequency
	OnClassified        func(Result)
	// OnDepthSettled is called once per source generation when depth
	// availability becomes terminal.
	OnDepthSettled func(types.DepthAvailability)

	// SettleTimeout bounds the wait for depth availability (default 2s).
	// Depth still Unknown afterwards is treated as unavailable.
	SettleTimeout time.Duration
	Clock         clock.Clock
	NewID         func() string
	Logger        *log.Logger
	Metrics       *metrics.Collector
}

// Status is a point-in-time view of the controller.
type Status struct {
	Mode       string           `json:"mode" yaml:"mode"`
	SessionID  string           `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	Session    string           `json:"session,omitempty" yaml:"session,omitempty"`
	Started    *time.Time       `json:"started,omitempty" yaml:"started,omitempty"`
	Depth      string           `json:"depth" yaml:"depth"`
	Generation uint64           `json:"generation" yaml:"generation"`
	Demos      int              `json:"demos" yaml:"demos"`
	Last       *Result          `json:"last_classification,omitempty" yaml:"last_classification,omitempty"`
	Metrics    metrics.Snapshot `json:"metrics" yaml:"metrics"`
}

// Controller switches the pipeline between idle, recording and streaming.
// Operations are serialized; at most one sink is active.
type Controller struct {
	cfg    Config
	runCtx context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	mode      Mode
	sessionID string
	layout    session.Layout
	started   time.Time
	demos     int
	geom      *geometry.State
	geomGen   uint64
	pump      *Pump
	sampler   *Sampler

	lastMu sync.Mutex
	last   *Result
}

// New creates an idle controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Source == nil {
		return nil, errors.New("runtime: source is required")
	}
	if cfg.Processor == nil {
		return nil, errors.New("runtime: processor is required")
	}
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	if cfg.Container == "" {
		cfg.Container = "mjpeg"
	}
	if cfg.TactileRate <= 0 {
		cfg.TactileRate = DefaultTactileRate
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = DefaultSettleTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	if cfg.Geometry.Logger == nil {
		cfg.Geometry.Logger = cfg.Logger
	}

	c := &Controller{cfg: cfg}
	c.runCtx, c.cancel = context.WithCancel(context.Background())
	if cfg.Catalog != nil {
		n, err := cfg.Catalog.Count()
		if err != nil {
			cfg.Logger.Warn("could not count sessions", map[string]any{"error": err.Error()})
		}
		c.demos = n
	}
	return c, nil
}

// Mode returns the current mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Demos returns the number of recorded sessions.
func (c *Controller) Demos() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.demos
}

// Geometry returns the state of the current source generation, or nil
// before the first mode start.
func (c *Controller) Geometry() *geometry.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.geom
}

// Status reports the current mode, session and counters.
func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{
		Mode:       c.mode.String(),
		SessionID:  c.sessionID,
		Depth:      types.DepthUnknown.String(),
		Generation: c.cfg.Source.Generation(),
		Demos:      c.demos,
	}
	if c.mode == ModeRecording {
		st.Session = c.layout.Name
	}
	if c.mode != ModeIdle {
		started := c.started
		st.Started = &started
	}
	if c.geom != nil {
		st.Depth = c.geom.Availability().String()
	}
	c.mu.Unlock()

	c.lastMu.Lock()
	if c.last != nil {
		last := *c.last
		st.Last = &last
	}
	c.lastMu.Unlock()

	st.Metrics = c.cfg.Metrics.Snapshot()
	return st
}

// StartRecording moves Idle to Recording. It creates the session on disk,
// tells the radio link where to write tactile data and starts the pump.
func (c *Controller) StartRecording(ctx context.Context) (session.Layout, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeIdle {
		return session.Layout{}, fmt.Errorf("%w: %s to recording", ErrInvalidTransition, c.mode)
	}
	if c.cfg.Recorder == nil {
		return session.Layout{}, errors.New("runtime: no recorder configured")
	}

	geom, err := c.prepare(ctx)
	if err != nil {
		return session.Layout{}, err
	}
	depth := geom.Availability() == types.DepthAvailable

	id := c.cfg.NewID()
	now := c.cfg.Clock.Now()
	layout := session.NewLayout(c.cfg.OutputDir, now, c.cfg.Container)
	if err := c.cfg.Recorder.Start(ctx, layout, depth, id); err != nil {
		c.pauseSource()
		return session.Layout{}, err
	}

	if c.cfg.Radio != nil {
		if err := c.cfg.Radio.StartRecording(layout.TactilePath, c.cfg.TactileRate); err != nil {
			c.cfg.Logger.Warn("radio link did not start", map[string]any{
				"path":  layout.TactilePath,
				"error": err.Error(),
			})
		}
	}

	c.cfg.Metrics.SetDimensions(ModeRecording.String(), id)
	c.startActivity(geom, RecordingTarget(c.cfg.Recorder))
	c.mode = ModeRecording
	c.sessionID = id
	c.layout = layout
	c.started = now
	c.cfg.Logger.Info("mode changed", map[string]any{
		"mode":       c.mode.String(),
		"session_id": id,
		"session":    layout.Name,
		"depth":      depth,
	})
	return layout, nil
}

// StopRecording moves Recording to Idle. The pump finishes its frame in
// flight, the recorder finalizes, and the radio link is told to stop
// whatever the outcome. A completion event is published when an adapter
// is configured, after the controller is back to Idle.
func (c *Controller) StopRecording(ctx context.Context) (*recording.Summary, error) {
	c.mu.Lock()
	if c.mode != ModeRecording {
		mode := c.mode
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s to idle", ErrInvalidTransition, mode)
	}

	c.stopActivity()
	summary, err := c.cfg.Recorder.Stop(ctx)
	if c.cfg.Radio != nil {
		if rerr := c.cfg.Radio.StopRecording(); rerr != nil {
			err = multierr.Append(err, fmt.Errorf("radio link stop: %w", rerr))
		}
	}
	c.pauseSource()

	id := c.sessionID
	c.mode = ModeIdle
	c.sessionID = ""
	c.countDemo()
	c.cfg.Logger.Info("mode changed", map[string]any{
		"mode":       c.mode.String(),
		"session_id": id,
	})
	c.mu.Unlock()

	if summary != nil {
		c.publish(ctx, id, summary)
	}
	return summary, err
}

// StartStreaming moves Idle to Streaming.
func (c *Controller) StartStreaming(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeIdle {
		return fmt.Errorf("%w: %s to streaming", ErrInvalidTransition, c.mode)
	}
	if c.cfg.Streamer == nil {
		return errors.New("runtime: no streamer configured")
	}

	geom, err := c.prepare(ctx)
	if err != nil {
		return err
	}
	depth := geom.Availability() == types.DepthAvailable
	if err := c.cfg.Streamer.Connect(ctx, depth); err != nil {
		c.pauseSource()
		return err
	}

	id := c.cfg.NewID()
	c.cfg.Metrics.SetDimensions(ModeStreaming.String(), id)
	c.startActivity(geom, StreamingTarget(c.cfg.Streamer))
	c.mode = ModeStreaming
	c.sessionID = id
	c.started = c.cfg.Clock.Now()
	c.cfg.Logger.Info("mode changed", map[string]any{
		"mode":       c.mode.String(),
		"session_id": id,
		"depth":      depth,
	})
	return nil
}

// StopStreaming moves Streaming to Idle.
func (c *Controller) StopStreaming(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeStreaming {
		return fmt.Errorf("%w: %s to idle", ErrInvalidTransition, c.mode)
	}

	c.stopActivity()
	err := c.cfg.Streamer.Disconnect()
	c.pauseSource()
	c.mode = ModeIdle
	c.sessionID = ""
	c.cfg.Logger.Info("mode changed", map[string]any{"mode": c.mode.String()})
	return err
}

// ResetSource recreates the capture session to recover from a
// desynchronized device. Only valid in Idle. The next mode start reruns
// geometry initialization because the source generation changes.
func (c *Controller) ResetSource(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeIdle {
		return 0, fmt.Errorf("%w: reset source while %s", ErrInvalidTransition, c.mode)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := c.cfg.Source.Reset(); err != nil {
		return 0, fmt.Errorf("reset source: %w", err)
	}
	gen := c.cfg.Source.Generation()
	c.cfg.Logger.Info("source reset", map[string]any{"generation": gen})
	return gen, nil
}

// DeleteLatestSession removes the newest recorded session. It is refused
// while recording so the active session directory is never touched.
func (c *Controller) DeleteLatestSession() (session.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == ModeRecording {
		return session.Entry{}, fmt.Errorf("%w: delete session while recording", ErrInvalidTransition)
	}
	if c.cfg.Catalog == nil {
		return session.Entry{}, errors.New("runtime: no session catalog configured")
	}
	entry, err := c.cfg.Catalog.DeleteLatest()
	if err != nil {
		return session.Entry{}, err
	}
	if n, err := c.cfg.Catalog.Count(); err == nil {
		c.demos = n
	}
	c.cfg.Logger.Info("session deleted", map[string]any{"session": entry.Name})
	return entry, nil
}

// Stop returns to Idle from whichever mode is active.
func (c *Controller) Stop(ctx context.Context) error {
	switch c.Mode() {
	case ModeRecording:
		_, err := c.StopRecording(ctx)
		return err
	case ModeStreaming:
		return c.StopStreaming(ctx)
	default:
		return nil
	}
}

// Close stops any active mode, cancels background work and closes the
// adapter.
func (c *Controller) Close(ctx context.Context) error {
	err := c.Stop(ctx)
	c.cancel()
	if c.cfg.Adapter != nil {
		err = multierr.Append(err, c.cfg.Adapter.Close())
	}
	return err
}

// prepare starts the source and returns geometry settled for its current
// generation. The initializer is only rerun when the generation changed.
func (c *Controller) prepare(ctx context.Context) (*geometry.State, error) {
	if err := c.cfg.Source.Start(); err != nil {
		return nil, fmt.Errorf("start source: %w", err)
	}

	gen := c.cfg.Source.Generation()
	if c.geom == nil || c.geomGen != gen {
		initializer := geometry.NewInitializer(c.cfg.Geometry)
		c.geom = initializer.State()
		c.geomGen = gen
		c.geom.OnSettled(func(a types.DepthAvailability) {
			c.cfg.Logger.Info("depth availability settled", map[string]any{
				"generation": gen,
				"depth":      a.String(),
			})
			if c.cfg.OnDepthSettled != nil {
				c.cfg.OnDepthSettled(a)
			}
		})
		done := initializer.Start(c.runCtx, c.cfg.Source)
		go func() {
			if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
				c.cfg.Logger.Warn("geometry initialization ended", map[string]any{"error": err.Error()})
			}
		}()
	}

	wait, cancel := context.WithTimeout(ctx, c.cfg.SettleTimeout)
	defer cancel()
	select {
	case <-c.geom.Settled():
	case <-wait.Done():
		if ctx.Err() != nil {
			c.pauseSource()
			return nil, ctx.Err()
		}
		c.cfg.Logger.Warn("depth availability not settled, continuing without depth", map[string]any{
			"timeout": c.cfg.SettleTimeout.String(),
		})
	}
	return c.geom, nil
}

func (c *Controller) startActivity(geom *geometry.State, target Target) {
	c.pump = NewPump(PumpConfig{
		FPS:        c.cfg.FPS,
		Clock:      c.cfg.Clock,
		Source:     c.cfg.Source,
		Geometry:   geom,
		Processor:  c.cfg.Processor,
		Target:     target,
		Generation: c.geomGen,
		Logger:     c.cfg.Logger,
		Metrics:    c.cfg.Metrics,
	})
	_ = c.pump.Start(c.runCtx)

	if c.cfg.Classifier != nil {
		c.sampler = NewSampler(SamplerConfig{
			Classifier: c.cfg.Classifier,
			Frequency:  c.cfg.ClassifierFrequency,
			FPS:        c.cfg.FPS,
			Clock:      c.cfg.Clock,
			Source:     c.cfg.Source,
			Observer:   c.observe,
			Logger:     c.cfg.Logger,
			Metrics:    c.cfg.Metrics,
		})
		_ = c.sampler.Start(c.runCtx)
	}
}

func (c *Controller) stopActivity() {
	if c.sampler != nil {
		c.sampler.Stop()
		c.sampler = nil
	}
	if c.pump != nil {
		c.pump.Stop()
		c.pump = nil
	}
}

func (c *Controller) observe(r Result) {
	c.lastMu.Lock()
	c.last = &r
	c.lastMu.Unlock()
	if c.cfg.OnClassified != nil {
		c.cfg.OnClassified(r)
	}
}

func (c *Controller) pauseSource() {
	if err := c.cfg.Source.Pause(); err != nil {
		c.cfg.Logger.Debug("source pause", map[string]any{"error": err.Error()})
	}
}

func (c *Controller) countDemo() {
	if c.cfg.Catalog != nil {
		if n, err := c.cfg.Catalog.Count(); err == nil {
			c.demos = n
			return
		}
	}
	c.demos++
}

func (c *Controller) publish(ctx context.Context, id string, s *recording.Summary) {
	if c.cfg.Adapter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultPublishTimeout)
	defer cancel()

	event := &adapter.SessionCompletedEvent{
		Version:      types.Version,
		EventType:    adapter.EventSessionCompleted,
		SessionID:    id,
		Session:      s.Layout.Name,
		Start:        s.Layout.Start.UTC().Format(time.RFC3339),
		DurationMs:   s.Duration().Milliseconds(),
		Depth:        s.Depth,
		ColorFrames:  s.Counters.ColorFrames,
		ColorDropped: s.Counters.ColorDropped,
		DepthFrames:  s.Counters.DepthFrames,
		DepthDropped: s.Counters.DepthDropped,
		Snapshots:    s.Counters.Snapshots,
		Poses:        s.Counters.Poses,
		StoragePath:  s.Layout.Dir,
		Timestamp:    s.Stop.UTC().Format(time.RFC3339),
	}
	if err := c.cfg.Adapter.Publish(ctx, event); err != nil {
		c.cfg.Logger.Warn("session event not published", map[string]any{
			"session": s.Layout.Name,
			"error":   err.Error(),
		})
	}
}
