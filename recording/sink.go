// Package recording writes processed frames to a session directory: a
// color video, an optional depth video, a pose log and raw depth
// snapshots.
//
// The sink never blocks the frame path. A frame an encoder cannot take is
// dropped and counted. Start either creates every resource or none; Stop
// tears everything down even when individual steps fail.
package recording

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/NYU-robot-learning/AnySense/encoder"
	"github.com/NYU-robot-learning/AnySense/log"
	"github.com/NYU-robot-learning/AnySense/metrics"
	"github.com/NYU-robot-learning/AnySense/session"
	"github.com/NYU-robot-learning/AnySense/types"
)

// ErrAlreadyRunning is returned by Start while a session is active.
var ErrAlreadyRunning = errors.New("recording: session already active")

// Options configures a Sink.
type Options struct {
	FPS           int
	Viewport      types.Size
	DepthViewport types.Size
	QueueDepth    int
	Orientation   types.Orientation
	// Encoders creates the video writers. Defaults to the MJPEG backend.
	Encoders encoder.Factory
	Logger   *log.Logger
	Metrics  *metrics.Collector
	// Clock stamps the manifest stop time. Defaults to time.Now.
	Now func() time.Time
}

// Accepted reports which streams took a frame.
type Accepted struct {
	Color bool
	Depth bool
}

// Summary describes a stopped session.
type Summary struct {
	Layout   session.Layout
	Depth    bool
	Counters session.Counters
	Stop     time.Time
}

// Duration returns the session length.
func (s *Summary) Duration() time.Duration {
	return s.Stop.Sub(s.Layout.Start)
}

// Sink records one session at a time.
type Sink struct {
	opts Options

	mu     sync.Mutex // guards active and every field of the active handle
	active *handle
}

type handle struct {
	layout   session.Layout
	depth    bool
	color    encoder.Encoder
	depthEnc encoder.Encoder
	pose     *os.File
	manifest *session.Manifest
	counters session.Counters
}

// New creates a Sink.
func New(opts Options) *Sink {
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	if opts.Viewport.Empty() {
		opts.Viewport = types.DefaultViewport
	}
	if opts.DepthViewport.Empty() {
		opts.DepthViewport = types.DefaultDepthViewport
	}
	if opts.Orientation == "" {
		opts.Orientation = types.OrientationPortrait
	}
	if opts.Encoders == nil {
		opts.Encoders = func(o encoder.Options) (encoder.Encoder, error) { return encoder.NewMJPEG(o) }
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Sink{opts: opts}
}

// Active reports whether a session is being recorded.
func (s *Sink) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Start creates the session directory and every writer. depth selects
// whether the depth video and raw snapshots are produced. On failure
// nothing is left on disk and a *session.SetupError is returned.
func (s *Sink) Start(ctx context.Context, layout session.Layout, depth bool, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return ErrAlreadyRunning
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	h, err := s.open(layout, depth, sessionID)
	if err != nil {
		s.opts.Logger.Error("recording setup failed", map[string]any{
			"session": layout.Name,
			"error":   err.Error(),
		})
		return err
	}
	s.active = h
	s.opts.Logger.Info("recording started", map[string]any{
		"session": layout.Name,
		"dir":     layout.Dir,
		"depth":   depth,
	})
	return nil
}

func (s *Sink) open(layout session.Layout, depth bool, sessionID string) (h *handle, err error) {
	if err := os.MkdirAll(filepath.Dir(layout.Dir), 0o755); err != nil {
		return nil, &session.SetupError{Op: "create output dir", Path: filepath.Dir(layout.Dir), Err: err}
	}
	if err := os.Mkdir(layout.Dir, 0o755); err != nil {
		return nil, &session.SetupError{Op: "create session dir", Path: layout.Dir, Err: err}
	}

	h = &handle{layout: layout, depth: depth}
	defer func() {
		if err != nil {
			if cerr := h.abort(s.opts.Logger); cerr != nil {
				s.opts.Logger.Warn("cleanup after setup failure", map[string]any{"error": cerr.Error()})
			}
			_ = os.RemoveAll(layout.Dir)
		}
	}()

	h.color, err = s.opts.Encoders(encoder.Options{
		Path:       layout.ColorPath,
		Size:       s.opts.Viewport,
		FPS:        s.opts.FPS,
		QueueDepth: s.opts.QueueDepth,
		Logger:     s.opts.Logger,
	})
	if err != nil {
		return h, &session.SetupError{Op: "create color encoder", Path: layout.ColorPath, Err: err}
	}

	if depth {
		h.depthEnc, err = s.opts.Encoders(encoder.Options{
			Path:       layout.DepthPath,
			Size:       s.opts.DepthViewport,
			FPS:        s.opts.FPS,
			QueueDepth: s.opts.QueueDepth,
			Logger:     s.opts.Logger,
		})
		if err != nil {
			return h, &session.SetupError{Op: "create depth encoder", Path: layout.DepthPath, Err: err}
		}
		if err = os.Mkdir(layout.RawDepthDir, 0o755); err != nil {
			return h, &session.SetupError{Op: "create snapshot dir", Path: layout.RawDepthDir, Err: err}
		}
	}

	h.pose, err = os.OpenFile(layout.PosePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return h, &session.SetupError{Op: "open pose log", Path: layout.PosePath, Err: err}
	}

	h.manifest = &session.Manifest{
		Version:       types.ManifestVersion,
		Name:          layout.Name,
		SessionID:     sessionID,
		Start:         layout.Start,
		FPS:           s.opts.FPS,
		Depth:         depth,
		Container:     layout.Container,
		Orientation:   string(s.opts.Orientation),
		Viewport:      s.opts.Viewport,
		DepthViewport: s.opts.DepthViewport,
	}
	if err = session.WriteManifest(layout.ManifestPath, h.manifest); err != nil {
		return h, &session.SetupError{Op: "write manifest", Path: layout.ManifestPath, Err: err}
	}
	return h, nil
}

// WriteFrame hands the payloads to the encoders. A stream whose encoder is
// not ready drops the frame. Raw depth, when present, is snapshotted
// regardless of encoder readiness.
func (s *Sink) WriteFrame(p *types.Payloads, ts time.Time) Accepted {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.active
	if h == nil || p == nil {
		return Accepted{}
	}

	var acc Accepted
	if p.HasColor() {
		acc.Color = s.append(h.color, metrics.StreamColor, p.Color, ts, &h.counters.ColorFrames, &h.counters.ColorDropped)
	}

	if h.depth {
		if p.HasDepth() {
			acc.Depth = s.append(h.depthEnc, metrics.StreamDepth, p.Depth, ts, &h.counters.DepthFrames, &h.counters.DepthDropped)
		}
		if p.RawDepth != nil {
			if err := writeSnapshot(h.layout.SnapshotPath(ts), p.RawDepth); err != nil {
				h.counters.SnapshotErrors++
				s.opts.Metrics.IncSnapshot(true)
				s.opts.Logger.Warn("depth snapshot failed", map[string]any{"error": err.Error()})
			} else {
				h.counters.Snapshots++
				s.opts.Metrics.IncSnapshot(false)
			}
		}
	}
	return acc
}

func (s *Sink) append(enc encoder.Encoder, stream string, data []byte, ts time.Time, accepted, dropped *int64) bool {
	if !enc.Ready() {
		*dropped++
		s.opts.Metrics.IncDropped(stream)
		s.opts.Logger.Debug("encoder not ready, frame dropped", map[string]any{"stream": stream})
		return false
	}
	if err := enc.Append(data, ts); err != nil {
		*dropped++
		s.opts.Metrics.IncDropped(stream)
		s.opts.Logger.Debug("append failed, frame dropped", map[string]any{
			"stream": stream,
			"error":  err.Error(),
		})
		return false
	}
	*accepted++
	s.opts.Metrics.IncAccepted(stream)
	return true
}

// WritePose appends one line to the pose log. Failures are logged and
// counted.
func (s *Sink) WritePose(pose types.Pose, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.active
	if h == nil {
		return
	}
	if _, err := h.pose.Write(FormatPose(pose, ts)); err != nil {
		h.counters.PoseErrors++
		s.opts.Metrics.IncPose(true)
		s.opts.Logger.Warn("pose write failed", map[string]any{"error": err.Error()})
		return
	}
	h.counters.Poses++
	s.opts.Metrics.IncPose(false)
}

// Stop finishes the active session. It marks every encoder finished,
// waits for each to finalize, closes the pose log and rewrites the
// manifest with the final counters. Every step runs even if an earlier
// one fails; the errors are combined. Calling Stop with no active session
// returns nil, nil.
//
// Stop does not return before every encoder has finalized, even when ctx
// is done; ctx only decides whether the wait is logged.
func (s *Sink) Stop(ctx context.Context) (*Summary, error) {
	s.mu.Lock()
	h := s.active
	s.active = nil
	s.mu.Unlock()

	if h == nil {
		return nil, nil
	}

	var errs error
	if err := h.finish(ctx, s.opts.Logger); err != nil {
		errs = multierr.Append(errs, err)
	}

	stop := s.opts.Now()
	h.manifest.Stop = &stop
	h.manifest.Counters = h.counters
	if err := session.WriteManifest(h.layout.ManifestPath, h.manifest); err != nil {
		errs = multierr.Append(errs, err)
	}

	summary := &Summary{
		Layout:   h.layout,
		Depth:    h.depth,
		Counters: h.counters,
		Stop:     stop,
	}

	fields := map[string]any{
		"session":       h.layout.Name,
		"color_frames":  h.counters.ColorFrames,
		"color_dropped": h.counters.ColorDropped,
		"depth_frames":  h.counters.DepthFrames,
		"depth_dropped": h.counters.DepthDropped,
		"snapshots":     h.counters.Snapshots,
		"poses":         h.counters.Poses,
	}
	if errs != nil {
		fields["error"] = errs.Error()
		s.opts.Logger.Error("recording stopped with errors", fields)
	} else {
		s.opts.Logger.Info("recording stopped", fields)
	}
	return summary, errs
}

// finish drains the encoders and closes the pose log.
func (h *handle) finish(ctx context.Context, logger *log.Logger) error {
	encs := h.encoders()
	for _, enc := range encs {
		enc.MarkFinished()
	}

	var errs error
	for _, enc := range encs {
		done := enc.Finalize()
		select {
		case err := <-done:
			errs = multierr.Append(errs, err)
			continue
		case <-ctx.Done():
		}
		logger.Warn("stop context done, waiting for encoder to finalize", map[string]any{
			"session": h.layout.Name,
			"error":   ctx.Err().Error(),
		})
		errs = multierr.Append(errs, <-done)
	}
	if h.pose != nil {
		errs = multierr.Append(errs, h.pose.Close())
		h.pose = nil
	}
	return errs
}

// abort releases a partially opened handle without flushing queued frames.
func (h *handle) abort(logger *log.Logger) error {
	for _, enc := range h.encoders() {
		encoder.Abort(enc)
	}
	return h.finish(context.Background(), logger)
}

func (h *handle) encoders() []encoder.Encoder {
	var out []encoder.Encoder
	if h.color != nil {
		out = append(out, h.color)
	}
	if h.depthEnc != nil {
		out = append(out, h.depthEnc)
	}
	return out
}

// FormatPose renders a pose log line: "<epoch_ms>" ,qx,qy,qz,qw,tx,ty,tz
func FormatPose(p types.Pose, ts time.Time) []byte {
	b := make([]byte, 0, 128)
	b = append(b, '"')
	b = strconv.AppendInt(b, types.EpochMillis(ts), 10)
	b = append(b, '"', ' ')
	for _, v := range p.Fields() {
		b = append(b, ',')
		b = strconv.AppendFloat(b, float64(v), 'f', -1, 32)
	}
	return append(b, '\n')
}

// writeSnapshot stores a depth map as little-endian float32 samples.
func writeSnapshot(path string, d *types.DepthMap) error {
	var buf bytes.Buffer
	buf.Grow(len(d.Data) * 4)
	if err := binary.Write(&buf, binary.LittleEndian, d.Data); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// ReadSnapshot loads a raw depth snapshot written by the sink.
func ReadSnapshot(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("snapshot %s: size %d is not a multiple of 4", path, len(data))
	}
	out := make([]float32, len(data)/4)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, out); err != nil {
		return nil, err
	}
	return out, nil
}
