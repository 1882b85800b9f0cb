// Package classify provides an on-device capture quality classifier.
package classify

import (
	"context"
	"errors"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/NYU-robot-learning/AnySense/runtime"
)

// Labels produced by Quality.
const (
	LabelDark        = "dark"
	LabelOverexposed = "overexposed"
	LabelBlurry      = "blurry"
	LabelOK          = "ok"
)

// Defaults for Quality.
const (
	DefaultThumbWidth   = 64
	DefaultDarkMean     = 0.15
	DefaultBrightMean   = 0.9
	DefaultBlurVariance = 0.0015
)

// ErrEmptyImage is returned for nil or zero-sized input.
var ErrEmptyImage = errors.New("classify: empty image")

var laplacian = [9]float64{
	0, 1, 0,
	1, -4, 1,
	0, 1, 0,
}

// Quality labels a frame by exposure and sharpness. It works on a small
// grayscale thumbnail so it is cheap enough to run at every tick.
type Quality struct {
	ThumbWidth   int
	DarkMean     float64
	BrightMean   float64
	BlurVariance float64
}

// NewQuality returns a classifier with default thresholds.
func NewQuality() *Quality {
	return &Quality{
		ThumbWidth:   DefaultThumbWidth,
		DarkMean:     DefaultDarkMean,
		BrightMean:   DefaultBrightMean,
		BlurVariance: DefaultBlurVariance,
	}
}

// Measure returns the mean luminance and the Laplacian variance of img,
// both on a 0..1 scale.
func (q *Quality) Measure(img image.Image) (mean, sharpness float64, err error) {
	if img == nil || img.Bounds().Empty() {
		return 0, 0, ErrEmptyImage
	}
	w := q.ThumbWidth
	if w <= 0 {
		w = DefaultThumbWidth
	}
	thumb := imaging.Grayscale(imaging.Resize(img, w, 0, imaging.Box))
	mean = meanLuma(thumb)
	edges := imaging.Convolve3x3(thumb, laplacian, &imaging.ConvolveOptions{Abs: true})
	sharpness = varianceLuma(edges)
	return mean, sharpness, nil
}

// Classify implements runtime.Classifier.
func (q *Quality) Classify(ctx context.Context, img image.Image) (runtime.Result, error) {
	if err := ctx.Err(); err != nil {
		return runtime.Result{}, err
	}
	mean, sharp, err := q.Measure(img)
	if err != nil {
		return runtime.Result{}, err
	}
	switch {
	case mean < q.DarkMean:
		return runtime.Result{Label: LabelDark, Confidence: confidence(q.DarkMean-mean, q.DarkMean)}, nil
	case mean > q.BrightMean:
		return runtime.Result{Label: LabelOverexposed, Confidence: confidence(mean-q.BrightMean, 1-q.BrightMean)}, nil
	case sharp < q.BlurVariance:
		return runtime.Result{Label: LabelBlurry, Confidence: confidence(q.BlurVariance-sharp, q.BlurVariance)}, nil
	default:
		return runtime.Result{Label: LabelOK, Confidence: 1}, nil
	}
}

func meanLuma(img *image.NRGBA) float64 {
	var sum float64
	n := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			sum += float64(img.Pix[img.PixOffset(x, y)]) / 255
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func varianceLuma(img *image.NRGBA) float64 {
	mean := meanLuma(img)
	var sum float64
	n := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			d := float64(img.Pix[img.PixOffset(x, y)])/255 - mean
			sum += d * d
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// confidence maps how far a measure is past its threshold to (0.5, 1].
func confidence(excess, span float64) float32 {
	if span <= 0 {
		return 1
	}
	return float32(0.5 + 0.5*math.Min(excess/span, 1))
}

var _ runtime.Classifier = (*Quality)(nil)
