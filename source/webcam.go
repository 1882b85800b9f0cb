package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os/exec"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/multierr"

	"github.com/NYU-robot-learning/AnySense/log"
	"github.com/NYU-robot-learning/AnySense/types"
)

// maxJPEGSize bounds a single frame in the MJPEG pipe. Larger runs of bytes
// without an end-of-image marker are discarded.
const maxJPEGSize = 10 * 1024 * 1024

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// WebcamOptions configures a WebcamSession.
type WebcamOptions struct {
	// Device is the capture device, e.g. /dev/video0 or "0" on macOS.
	Device string
	// Size is the requested capture size. Empty keeps the device default.
	Size types.Size
	// FPS is the requested capture rate (default 30).
	FPS int
	// Clock stamps frames. Defaults to the wall clock.
	Clock  clock.Clock
	Logger *log.Logger
}

// WebcamSession captures color frames from a local camera through an
// ffmpeg MJPEG pipe. It never produces depth.
type WebcamSession struct {
	opts WebcamOptions

	mu     sync.Mutex // guards cancel and done
	cancel context.CancelFunc
	done   chan struct{}

	latest atomic.Pointer[types.Frame]
	seq    atomic.Uint64
	runErr atomic.Pointer[error]
}

// NewWebcamSession checks for ffmpeg on PATH and returns a paused session.
func NewWebcamSession(opts WebcamOptions) (*WebcamSession, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("webcam: ffmpeg not found: %w", err)
	}
	if opts.Device == "" {
		return nil, errors.New("webcam: device is required")
	}
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	return &WebcamSession{opts: opts}, nil
}

// WebcamFactory returns a SessionFactory producing webcam sessions.
func WebcamFactory(opts WebcamOptions) SessionFactory {
	return func() (Session, error) {
		return NewWebcamSession(opts)
	}
}

// Run starts the ffmpeg process and the frame reader.
func (w *WebcamSession) Run() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done

	stream := ffmpeg.Input(w.opts.Device, w.inputArgs()).
		Output("pipe:", ffmpeg.KwArgs{"format": "mjpeg", "q:v": 3})
	stream.Context = ctx

	go func() {
		err := stream.WithOutput(pw).Run()
		if err != nil && ctx.Err() == nil {
			w.runErr.Store(&err)
			w.opts.Logger.Error("webcam ffmpeg exited", map[string]any{"error": err.Error()})
		}
		_ = pw.CloseWithError(io.EOF)
	}()

	go func() {
		defer close(done)
		err := SplitJPEG(pr, func(b []byte) {
			img, err := jpeg.Decode(bytes.NewReader(b))
			if err != nil {
				return
			}
			w.publish(img)
		})
		if err != nil && !errors.Is(err, io.EOF) {
			w.opts.Logger.Warn("webcam frame reader stopped", map[string]any{"error": err.Error()})
		}
	}()
	return nil
}

func (w *WebcamSession) inputArgs() ffmpeg.KwArgs {
	args := ffmpeg.KwArgs{"framerate": w.opts.FPS}
	switch runtime.GOOS {
	case "darwin":
		args["format"] = "avfoundation"
	case "windows":
		args["format"] = "dshow"
	default:
		args["format"] = "v4l2"
		args["input_format"] = "mjpeg"
	}
	if !w.opts.Size.Empty() {
		args["video_size"] = w.opts.Size.String()
	}
	return args
}

func (w *WebcamSession) publish(img image.Image) {
	b := img.Bounds()
	seq := w.seq.Add(1)
	w.latest.Store(&types.Frame{
		Color:     img,
		Timestamp: w.opts.Clock.Now(),
		Seq:       seq,
		Pose:      types.IdentityPose,
		Intrinsics: types.Intrinsics{
			Fx: float32(b.Dx()),
			Fy: float32(b.Dx()),
			Cx: float32(b.Dx()) / 2,
			Cy: float32(b.Dy()) / 2,
		},
	})
}

// Pause stops the ffmpeg process. The last frame is kept.
func (w *WebcamSession) Pause() error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Close stops capture and drops the last frame.
func (w *WebcamSession) Close() error {
	err := w.Pause()
	w.latest.Store(nil)
	if p := w.runErr.Load(); p != nil {
		return multierr.Append(err, *p)
	}
	return err
}

// CurrentFrame implements Session.
func (w *WebcamSession) CurrentFrame() (*types.Frame, bool) {
	f := w.latest.Load()
	return f, f != nil
}

// SupportsDepth implements Session. Webcams never produce depth.
func (w *WebcamSession) SupportsDepth() bool { return false }

// DisplayTransform implements Session.
func (w *WebcamSession) DisplayTransform(o types.Orientation, _ types.Size) types.Affine {
	return DisplayTransform(o)
}

// SplitJPEG reads a concatenated JPEG stream and calls emit with each
// complete image, delimited by SOI/EOI markers. Returns the read error that
// ended the stream.
func SplitJPEG(r io.Reader, emit func([]byte)) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var frame []byte
	inFrame := false
	var prev byte

	for {
		b, err := br.ReadByte()
		if err != nil {
			return err
		}

		if !inFrame {
			if prev == jpegSOI[0] && b == jpegSOI[1] {
				inFrame = true
				frame = append(frame[:0], jpegSOI...)
			}
			prev = b
			continue
		}

		frame = append(frame, b)
		if prev == jpegEOI[0] && b == jpegEOI[1] {
			out := make([]byte, len(frame))
			copy(out, frame)
			emit(out)
			inFrame = false
			frame = frame[:0]
			prev = 0
			continue
		}
		if len(frame) > maxJPEGSize {
			inFrame = false
			frame = frame[:0]
		}
		prev = b
	}
}

// Verify WebcamSession implements Session.
var _ Session = (*WebcamSession)(nil)
