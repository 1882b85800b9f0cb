// Package tactile records raw tactile samples from a serial radio bridge
// into the session's Tactile_<ts>.bin file.
//
// The file is a sequence of frames:
//
//	int64  capture time, epoch milliseconds, little endian
//	uint32 payload length, little endian
//	[]byte payload as read from the port
package tactile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.bug.st/serial"
	"go.uber.org/multierr"

	"github.com/NYU-robot-learning/AnySense/log"
	"github.com/NYU-robot-learning/AnySense/transport"
)

// DefaultRate is the sampling rate in Hz used when none is given.
const DefaultRate = 100

// frameHeaderSize is the per-frame header length.
const frameHeaderSize = 12

// ErrAlreadyRecording is returned by StartRecording while a file is open.
var ErrAlreadyRecording = errors.New("tactile: already recording")

// Options configures a Recorder.
type Options struct {
	Device string
	Baud   int
	// Open defaults to serial.Open.
	Open   transport.OpenFunc
	Clock  clock.Clock
	Logger *log.Logger
}

// Recorder implements the radio link over a serial port. One recording is
// active at a time.
type Recorder struct {
	opts Options
	mode *serial.Mode

	mu     sync.Mutex
	active *capture
}

type capture struct {
	port     serial.Port
	file     *os.File
	w        *bufio.Writer
	stopping atomic.Bool
	done     chan struct{}
	err      error
	frames   atomic.Int64
}

// New creates an idle recorder.
func New(opts Options) *Recorder {
	if opts.Baud <= 0 {
		opts.Baud = transport.DefaultSerialBaud
	}
	if opts.Open == nil {
		opts.Open = serial.Open
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	return &Recorder{
		opts: opts,
		mode: &serial.Mode{
			BaudRate: opts.Baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
	}
}

// StartRecording opens the port and starts appending frames to path. The
// port read timeout is one sample period at rate Hz.
func (r *Recorder) StartRecording(path string, rate int) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return ErrAlreadyRecording
	}
	if rate <= 0 {
		rate = DefaultRate
	}

	port, err := r.opts.Open(r.opts.Device, r.mode)
	if err != nil {
		return fmt.Errorf("tactile: open %s: %w", r.opts.Device, err)
	}
	defer func() {
		if err != nil {
			_ = port.Close()
		}
	}()
	if err := port.SetReadTimeout(time.Second / time.Duration(rate)); err != nil {
		return fmt.Errorf("tactile: set read timeout: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("tactile: reset input: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("tactile: %w", err)
	}

	c := &capture{
		port: port,
		file: f,
		w:    bufio.NewWriter(f),
		done: make(chan struct{}),
	}
	r.active = c
	go r.read(c)

	r.opts.Logger.Info("tactile recording started", map[string]any{
		"device": r.opts.Device,
		"path":   path,
		"rate":   rate,
	})
	return nil
}

// StopRecording stops reading, then flushes and closes the file and port.
// Stopping an idle recorder is a no-op.
func (r *Recorder) StopRecording() error {
	r.mu.Lock()
	c := r.active
	r.active = nil
	r.mu.Unlock()
	if c == nil {
		return nil
	}

	c.stopping.Store(true)
	err := c.port.Close()
	<-c.done

	err = multierr.Combine(err, c.err, c.w.Flush(), c.file.Sync(), c.file.Close())
	r.opts.Logger.Info("tactile recording stopped", map[string]any{
		"frames": c.frames.Load(),
		"failed": err != nil,
	})
	return err
}

// Recording reports whether a capture is active.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

func (r *Recorder) read(c *capture) {
	defer close(c.done)
	buf := make([]byte, 4096)
	hdr := make([]byte, frameHeaderSize)
	for !c.stopping.Load() {
		n, err := c.port.Read(buf)
		if err != nil {
			if !c.stopping.Load() {
				c.err = fmt.Errorf("tactile: read: %w", err)
			}
			return
		}
		if n == 0 {
			continue
		}
		binary.LittleEndian.PutUint64(hdr[0:8], uint64(r.opts.Clock.Now().UnixMilli()))
		binary.LittleEndian.PutUint32(hdr[8:12], uint32(n))
		if _, err := c.w.Write(hdr); err != nil {
			c.err = err
			return
		}
		if _, err := c.w.Write(buf[:n]); err != nil {
			c.err = err
			return
		}
		c.frames.Add(1)
	}
}

// Frame is one decoded tactile read.
type Frame struct {
	EpochMillis int64
	Data        []byte
}

// ReadFrames decodes a tactile file.
func ReadFrames(rd io.Reader) ([]Frame, error) {
	br := bufio.NewReader(rd)
	hdr := make([]byte, frameHeaderSize)
	var out []Frame
	for {
		if _, err := io.ReadFull(br, hdr); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("tactile: frame header: %w", err)
		}
		n := binary.LittleEndian.Uint32(hdr[8:12])
		data := make([]byte, n)
		if _, err := io.ReadFull(br, data); err != nil {
			return out, fmt.Errorf("tactile: frame payload: %w", err)
		}
		out = append(out, Frame{
			EpochMillis: int64(binary.LittleEndian.Uint64(hdr[0:8])),
			Data:        data,
		})
	}
}
