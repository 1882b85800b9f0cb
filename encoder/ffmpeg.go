package encoder

import (
	"context"
	"fmt"
	"io"
	"os/exec"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// FFmpeg pipes JPEG frames into an external ffmpeg process that encodes
// an H.264 MP4 file.
type FFmpeg struct {
	*queue
	path   string
	cancel context.CancelFunc
}

// NewFFmpeg starts ffmpeg reading an image2pipe stream from stdin.
func NewFFmpeg(opts Options) (*FFmpeg, error) {
	opts.defaults()
	if opts.Size.Empty() {
		return nil, fmt.Errorf("encoder: empty frame size for %s", opts.Path)
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("encoder: ffmpeg not found: %w", err)
	}

	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	stream := ffmpeg.Input("pipe:", ffmpeg.KwArgs{
		"format":    "image2pipe",
		"vcodec":    "mjpeg",
		"framerate": opts.FPS,
	}).Output(opts.Path, ffmpeg.KwArgs{
		"c:v":     "libx264",
		"pix_fmt": "yuv420p",
		"s":       opts.Size.String(),
		"r":       opts.FPS,
	}).OverWriteOutput().WithInput(pr)
	stream.Context = ctx

	runDone := make(chan error, 1)
	go func() {
		err := stream.Run()
		// Unblock the writer if ffmpeg exits early.
		_ = pr.CloseWithError(io.ErrClosedPipe)
		runDone <- err
	}()

	logger := opts.Logger
	write := func(fr queuedFrame) error {
		_, err := pw.Write(fr.data)
		return err
	}
	finish := func() error {
		defer cancel()
		_ = pw.Close()
		if err := <-runDone; err != nil {
			logger.Error("ffmpeg encoder exited", map[string]any{
				"path":  opts.Path,
				"error": err.Error(),
			})
			return fmt.Errorf("encoder: ffmpeg %s: %w", opts.Path, err)
		}
		return nil
	}

	return &FFmpeg{
		queue:  startQueue(opts.QueueDepth, write, finish),
		path:   opts.Path,
		cancel: cancel,
	}, nil
}

// Path returns the output file path.
func (f *FFmpeg) Path() string { return f.path }

// Abort kills the ffmpeg process without waiting for queued frames.
// Finalize then reports the process exit.
func (f *FFmpeg) Abort() {
	f.cancel()
	f.MarkFinished()
}

// Verify FFmpeg implements Encoder and Aborter.
var (
	_ Encoder = (*FFmpeg)(nil)
	_ Aborter = (*FFmpeg)(nil)
)
