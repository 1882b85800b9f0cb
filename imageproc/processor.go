// Package imageproc turns a captured frame into the compressed payloads
// consumed by the recording and streaming sinks.
//
// Each plane is warped into its output viewport with the session's
// geometry transform. Color, depth and confidence run as independent
// stages; a stage that cannot complete is skipped and the others still
// produce output.
package imageproc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	"golang.org/x/sync/errgroup"

	"github.com/NYU-robot-learning/AnySense/log"
	"github.com/NYU-robot-learning/AnySense/metrics"
	"github.com/NYU-robot-learning/AnySense/types"
)

// Processing defaults.
const (
	DefaultJPEGQuality    = 50
	DefaultDepthMaxMeters = 5.0
	DefaultPoolCapacity   = 4

	// Depth filter strengths, as imaging percentages.
	depthContrast   = 100
	depthSaturation = 100
)

var (
	// ErrNotInitialized is returned when the color transform has not been
	// published yet.
	ErrNotInitialized = errors.New("imageproc: color transform not initialized")

	// ErrNoFrame is returned for a nil frame.
	ErrNoFrame = errors.New("imageproc: no frame")

	// ErrNoBuffer is reported by a stage when its pool is exhausted.
	ErrNoBuffer = errors.New("imageproc: buffer pool exhausted")
)

// Options configures a Processor.
type Options struct {
	Viewport      types.Size
	DepthViewport types.Size
	// ColorMap renders depth through the false-colour gradient instead of
	// gray.
	ColorMap bool
	// JPEGQuality is the JPEG quality for color and depth (1-100).
	JPEGQuality int
	// DepthMaxMeters maps to full intensity in the depth plane.
	DepthMaxMeters float32
	// PoolCapacity bounds the buffers per plane kind.
	PoolCapacity int
	Logger       *log.Logger
	Metrics      *metrics.Collector
}

// Processor renders frames into payloads. It is safe for concurrent use;
// concurrency is bounded by the buffer pools.
type Processor struct {
	opts      Options
	colorPool *BufferPool[*image.RGBA]
	depthPool *BufferPool[*image.Gray]
	confPool  *BufferPool[*image.Gray]
	gradient  *ColorMap
}

// New creates a Processor, filling unset options with defaults.
func New(opts Options) *Processor {
	if opts.Viewport.Empty() {
		opts.Viewport = types.DefaultViewport
	}
	if opts.DepthViewport.Empty() {
		opts.DepthViewport = types.DefaultDepthViewport
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = DefaultJPEGQuality
	}
	if opts.DepthMaxMeters <= 0 {
		opts.DepthMaxMeters = DefaultDepthMaxMeters
	}
	if opts.PoolCapacity <= 0 {
		opts.PoolCapacity = DefaultPoolCapacity
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	return &Processor{
		opts:      opts,
		colorPool: NewRGBAPool(opts.Viewport, opts.PoolCapacity),
		depthPool: NewGrayPool(opts.DepthViewport, opts.PoolCapacity),
		confPool:  NewGrayPool(opts.DepthViewport, opts.PoolCapacity),
		gradient:  DefaultColorMap(),
	}
}

// Process renders one frame. The color stage always runs; depth and
// confidence run when the frame carries the plane and a depth transform
// exists. All stages finish before Process returns. Stage failures are
// logged and leave the corresponding payload nil.
func (p *Processor) Process(ctx context.Context, f *types.Frame, tr types.GeometryTransforms) (*types.Payloads, error) {
	if f == nil || f.Color == nil {
		return nil, ErrNoFrame
	}
	if tr.Color == nil {
		return nil, ErrNotInitialized
	}

	out := &types.Payloads{Seq: f.Seq, Timestamp: f.Timestamp}

	var g errgroup.Group
	g.Go(p.stage(ctx, "color", func() error { return p.processColor(f, *tr.Color, out) }))

	if f.Depth != nil && tr.Depth != nil {
		g.Go(p.stage(ctx, "depth", func() error { return p.processDepth(f.Depth, *tr.Depth, out) }))
	}
	if f.Confidence != nil && tr.Depth != nil {
		g.Go(p.stage(ctx, "confidence", func() error { return p.processConfidence(f.Confidence, *tr.Depth, out) }))
	}

	// Stages swallow their own errors.
	_ = g.Wait()
	return out, nil
}

func (p *Processor) stage(ctx context.Context, name string, fn func() error) func() error {
	return func() error {
		if ctx.Err() != nil {
			return nil
		}
		if err := fn(); err != nil {
			p.opts.Metrics.IncStageFailure()
			p.opts.Logger.Warn("stage skipped", map[string]any{
				"stage": name,
				"error": err.Error(),
			})
		}
		return nil
	}
}

func (p *Processor) processColor(f *types.Frame, t types.Affine, out *types.Payloads) error {
	buf, ok := p.colorPool.Get()
	if !ok {
		return ErrNoBuffer
	}
	defer p.colorPool.Put(buf)

	warp(draw.BiLinear, buf, f.Color, t)

	data, err := encodeJPEG(buf, p.opts.JPEGQuality)
	if err != nil {
		return err
	}
	out.Color = data
	out.ColorSize = p.opts.Viewport
	return nil
}

func (p *Processor) processDepth(d *types.DepthMap, t types.Affine, out *types.Payloads) error {
	buf, ok := p.depthPool.Get()
	if !ok {
		return ErrNoBuffer
	}
	defer p.depthPool.Put(buf)

	warp(draw.BiLinear, buf, DepthToGray(d, p.opts.DepthMaxMeters), t)

	filtered := imaging.AdjustContrast(buf, depthContrast)
	filtered = imaging.AdjustSaturation(filtered, depthSaturation)

	// Without a color map the plane goes back into the gray buffer so the
	// JPEG carries a single channel.
	var img image.Image = buf
	if p.opts.ColorMap {
		img = p.gradient.Apply(filtered)
	} else {
		draw.Draw(buf, buf.Bounds(), filtered, image.Point{}, draw.Src)
	}

	data, err := encodeJPEG(img, p.opts.JPEGQuality)
	if err != nil {
		return err
	}

	raw := &types.DepthMap{Width: d.Width, Height: d.Height, Data: make([]float32, len(d.Data))}
	copy(raw.Data, d.Data)

	out.Depth = data
	out.DepthSize = p.opts.DepthViewport
	out.RawDepth = raw
	return nil
}

func (p *Processor) processConfidence(c *image.Gray, t types.Affine, out *types.Payloads) error {
	buf, ok := p.confPool.Get()
	if !ok {
		return ErrNoBuffer
	}
	defer p.confPool.Put(buf)

	// Confidence levels are classes; interpolating them is meaningless.
	warp(draw.NearestNeighbor, buf, c, t)

	var b bytes.Buffer
	if err := imaging.Encode(&b, buf, imaging.PNG); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	out.Confidence = b.Bytes()
	out.ConfidenceSize = p.opts.DepthViewport
	return nil
}

// warp draws src into dst through t, which maps source pixel coordinates
// to destination pixel coordinates.
func warp(interp draw.Transformer, dst draw.Image, src image.Image, t types.Affine) {
	interp.Transform(dst, ToAff3(t), src, src.Bounds(), draw.Src, nil)
}

// ToAff3 converts t to the matrix form used by x/image/draw.
func ToAff3(t types.Affine) f64.Aff3 {
	return f64.Aff3{t.A, t.C, t.Tx, t.B, t.D, t.Ty}
}

// DepthToGray maps depth in meters to 8-bit intensity, clamping at
// maxMeters. Non-positive and NaN samples render black.
func DepthToGray(d *types.DepthMap, maxMeters float32) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, d.Width, d.Height))
	for i, v := range d.Data {
		if !(v > 0) {
			continue
		}
		if v >= maxMeters {
			img.Pix[i] = 0xff
			continue
		}
		img.Pix[i] = uint8(v / maxMeters * 255)
	}
	return img
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var b bytes.Buffer
	if err := imaging.Encode(&b, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return b.Bytes(), nil
}
