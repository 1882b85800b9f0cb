package imageproc

import (
	"image"
	"sync"

	"github.com/NYU-robot-learning/AnySense/types"
)

// BufferPool hands out fixed-size image buffers. At most Cap buffers are
// checked out at once; Get never blocks and reports false when the pool is
// exhausted.
type BufferPool[T image.Image] struct {
	size  types.Size
	sem   chan struct{}
	pool  sync.Pool
	reset func(T)
}

// NewRGBAPool returns a pool of RGBA buffers of the given size.
func NewRGBAPool(size types.Size, capacity int) *BufferPool[*image.RGBA] {
	return newBufferPool(size, capacity,
		func() *image.RGBA { return image.NewRGBA(image.Rect(0, 0, size.Width, size.Height)) },
		func(img *image.RGBA) { clear(img.Pix) },
	)
}

// NewGrayPool returns a pool of 8-bit gray buffers of the given size.
func NewGrayPool(size types.Size, capacity int) *BufferPool[*image.Gray] {
	return newBufferPool(size, capacity,
		func() *image.Gray { return image.NewGray(image.Rect(0, 0, size.Width, size.Height)) },
		func(img *image.Gray) { clear(img.Pix) },
	)
}

func newBufferPool[T image.Image](size types.Size, capacity int, alloc func() T, reset func(T)) *BufferPool[T] {
	if capacity <= 0 {
		capacity = 1
	}
	p := &BufferPool[T]{
		size:  size,
		sem:   make(chan struct{}, capacity),
		reset: reset,
	}
	p.pool.New = func() any { return alloc() }
	return p
}

// Get returns a zeroed buffer, or false if all buffers are in use.
func (p *BufferPool[T]) Get() (T, bool) {
	select {
	case p.sem <- struct{}{}:
	default:
		var zero T
		return zero, false
	}
	buf := p.pool.Get().(T)
	p.reset(buf)
	return buf, true
}

// Put returns a buffer obtained from Get.
func (p *BufferPool[T]) Put(buf T) {
	p.pool.Put(buf)
	<-p.sem
}

// Size returns the dimensions of every buffer in the pool.
func (p *BufferPool[T]) Size() types.Size {
	return p.size
}

// InUse returns the number of buffers currently checked out.
func (p *BufferPool[T]) InUse() int {
	return len(p.sem)
}
