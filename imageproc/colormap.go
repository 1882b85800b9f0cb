package imageproc

import (
	"image"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// Endpoints of the depth false-colour gradient. Near samples render yellow,
// far samples render blue.
var (
	gradientNear = colorful.Color{R: 1, G: 1, B: 0}
	gradientFar  = colorful.Color{R: 0, G: 0, B: 1}
)

// ColorMap maps 8-bit intensities to colours through a lookup table.
type ColorMap struct {
	lut [256]color.RGBA
}

// NewGradient builds a ColorMap that blends from near to far in Lab space.
func NewGradient(near, far colorful.Color) *ColorMap {
	m := &ColorMap{}
	for i := range m.lut {
		c := near.BlendLab(far, float64(i)/255).Clamped()
		r, g, b := c.RGB255()
		m.lut[i] = color.RGBA{R: r, G: g, B: b, A: 0xff}
	}
	return m
}

// DefaultColorMap is the yellow to blue depth gradient.
func DefaultColorMap() *ColorMap {
	return NewGradient(gradientNear, gradientFar)
}

// At returns the colour for intensity v.
func (m *ColorMap) At(v uint8) color.RGBA {
	return m.lut[v]
}

// Apply remaps img by luminance into a new RGBA image.
func (m *ColorMap) Apply(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			out.SetRGBA(x-b.Min.X, y-b.Min.Y, m.lut[g.Y])
		}
	}
	return out
}
