// Package encoder provides the video writers used by the recording sink.
//
// Encoders accept compressed frames without blocking. Each has a bounded
// queue drained by its own goroutine; when the queue is full Ready reports
// false and Append returns ErrNotReady so the caller can drop the frame.
package encoder

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/NYU-robot-learning/AnySense/log"
	"github.com/NYU-robot-learning/AnySense/types"
)

// Backend names.
const (
	BackendMJPEG  = "mjpeg"
	BackendFFmpeg = "ffmpeg"
)

// DefaultQueueDepth is the number of frames an encoder buffers.
const DefaultQueueDepth = 8

var (
	// ErrNotReady is returned by Append when the encoder cannot take a
	// frame right now.
	ErrNotReady = errors.New("encoder: not ready")

	// ErrFinished is returned by Append after MarkFinished.
	ErrFinished = errors.New("encoder: finished")
)

// Encoder writes a sequence of compressed frames into a video file.
type Encoder interface {
	// Ready reports whether Append would accept a frame.
	Ready() bool
	// Append enqueues one frame. It never blocks.
	Append(data []byte, ts time.Time) error
	// MarkFinished stops accepting frames. Queued frames are still written.
	MarkFinished()
	// Finalize returns a channel that receives the terminal error (nil on
	// success) once every queued frame is written and the file is closed.
	Finalize() <-chan error
}

// Options configures an encoder for one output file.
type Options struct {
	Path       string
	Size       types.Size
	FPS        int
	QueueDepth int
	Logger     *log.Logger
}

func (o *Options) defaults() {
	if o.FPS <= 0 {
		o.FPS = 30
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = DefaultQueueDepth
	}
	if o.Logger == nil {
		o.Logger = log.NewNop()
	}
}

// Factory creates an encoder primed for the given options.
type Factory func(opts Options) (Encoder, error)

// Aborter is implemented by encoders that can stop without writing their
// queued frames.
type Aborter interface {
	Abort()
}

// Abort stops enc without flushing when it implements Aborter and marks it
// finished otherwise. Finalize must still be awaited.
func Abort(enc Encoder) {
	if a, ok := enc.(Aborter); ok {
		a.Abort()
		return
	}
	enc.MarkFinished()
}

// NewFactory returns the factory for a backend name.
func NewFactory(backend string) (Factory, error) {
	switch backend {
	case "", BackendMJPEG:
		return func(opts Options) (Encoder, error) { return NewMJPEG(opts) }, nil
	case BackendFFmpeg:
		return func(opts Options) (Encoder, error) { return NewFFmpeg(opts) }, nil
	default:
		return nil, fmt.Errorf("encoder: unknown backend %q", backend)
	}
}

// Extension returns the file extension, without dot, for a backend.
func Extension(backend string) string {
	if backend == BackendFFmpeg {
		return "mp4"
	}
	return "mjpeg"
}

type queuedFrame struct {
	data []byte
	ts   time.Time
}

// queue is the bounded frame queue and writer goroutine shared by the
// backends.
type queue struct {
	mu       sync.Mutex // guards finished and the send side of frames
	finished bool
	frames   chan queuedFrame

	failed atomic.Bool
	done   chan struct{}
	err    error
}

// startQueue launches the writer. write is called for each frame in order;
// after the first write error frames are discarded. finish runs once the
// queue is drained and its error is joined with any write error.
func startQueue(depth int, write func(queuedFrame) error, finish func() error) *queue {
	q := &queue{
		frames: make(chan queuedFrame, depth),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(q.done)
		var werr error
		for f := range q.frames {
			if werr != nil {
				continue
			}
			if err := write(f); err != nil {
				werr = err
				q.failed.Store(true)
			}
		}
		q.err = multierr.Append(werr, finish())
	}()
	return q
}

func (q *queue) Ready() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.finished && !q.failed.Load() && len(q.frames) < cap(q.frames)
}

func (q *queue) Append(data []byte, ts time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.finished {
		return ErrFinished
	}
	if q.failed.Load() {
		return ErrNotReady
	}
	select {
	case q.frames <- queuedFrame{data: data, ts: ts}:
		return nil
	default:
		return ErrNotReady
	}
}

func (q *queue) MarkFinished() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.finished {
		return
	}
	q.finished = true
	close(q.frames)
}

func (q *queue) Finalize() <-chan error {
	ch := make(chan error, 1)
	go func() {
		<-q.done
		ch <- q.err
		close(ch)
	}()
	return ch
}
