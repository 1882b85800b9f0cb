package encoder

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/NYU-robot-learning/AnySense/types"
)

// MJPEG container layout, little-endian:
//
//	header: magic "AMJP" | version u16 | reserved u16 | width u32 | height u32 | fps u32
//	frame:  epoch_ms i64 | length u32 | JPEG bytes
const (
	mjpegMagic      = "AMJP"
	mjpegVersion    = 1
	mjpegHeaderSize = 20
	mjpegFrameHead  = 12

	// MaxMJPEGFrame bounds a single frame when reading a container.
	MaxMJPEGFrame = 32 * 1024 * 1024
)

// ErrBadContainer is returned when reading a file that is not an MJPEG
// container.
var ErrBadContainer = errors.New("encoder: not an mjpeg container")

// MJPEG writes JPEG frames into a length-prefixed container file.
type MJPEG struct {
	*queue
	path string
}

// NewMJPEG creates the output file, writes the header and starts the
// writer goroutine.
func NewMJPEG(opts Options) (*MJPEG, error) {
	opts.defaults()
	if opts.Size.Empty() {
		return nil, fmt.Errorf("encoder: empty frame size for %s", opts.Path)
	}

	f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("encoder: create %s: %w", opts.Path, err)
	}
	w := bufio.NewWriterSize(f, 256*1024)

	hdr := MJPEGHeader{Size: opts.Size, FPS: opts.FPS}
	if err := hdr.write(w); err != nil {
		_ = f.Close()
		_ = os.Remove(opts.Path)
		return nil, fmt.Errorf("encoder: write header: %w", err)
	}

	var head [mjpegFrameHead]byte
	write := func(fr queuedFrame) error {
		binary.LittleEndian.PutUint64(head[0:8], uint64(types.EpochMillis(fr.ts)))
		binary.LittleEndian.PutUint32(head[8:12], uint32(len(fr.data)))
		if _, err := w.Write(head[:]); err != nil {
			return err
		}
		_, err := w.Write(fr.data)
		return err
	}
	finish := func() error {
		ferr := w.Flush()
		cerr := f.Close()
		if ferr != nil {
			return ferr
		}
		return cerr
	}

	return &MJPEG{
		queue: startQueue(opts.QueueDepth, write, finish),
		path:  opts.Path,
	}, nil
}

// Path returns the output file path.
func (m *MJPEG) Path() string { return m.path }

// MJPEGHeader is the container header.
type MJPEGHeader struct {
	Size types.Size
	FPS  int
}

func (h MJPEGHeader) write(w io.Writer) error {
	var b [mjpegHeaderSize]byte
	copy(b[0:4], mjpegMagic)
	binary.LittleEndian.PutUint16(b[4:6], mjpegVersion)
	binary.LittleEndian.PutUint32(b[8:12], uint32(h.Size.Width))
	binary.LittleEndian.PutUint32(b[12:16], uint32(h.Size.Height))
	binary.LittleEndian.PutUint32(b[16:20], uint32(h.FPS))
	_, err := w.Write(b[:])
	return err
}

// MJPEGFrame is one frame read back from a container.
type MJPEGFrame struct {
	EpochMillis int64
	Data        []byte
}

// MJPEGReader reads frames from an MJPEG container.
type MJPEGReader struct {
	r      *bufio.Reader
	Header MJPEGHeader
}

// NewMJPEGReader reads and validates the container header.
func NewMJPEGReader(r io.Reader) (*MJPEGReader, error) {
	br := bufio.NewReader(r)
	var b [mjpegHeaderSize]byte
	if _, err := io.ReadFull(br, b[:]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadContainer, err)
	}
	if string(b[0:4]) != mjpegMagic {
		return nil, ErrBadContainer
	}
	if v := binary.LittleEndian.Uint16(b[4:6]); v != mjpegVersion {
		return nil, fmt.Errorf("%w: version %d", ErrBadContainer, v)
	}
	return &MJPEGReader{
		r: br,
		Header: MJPEGHeader{
			Size: types.Size{
				Width:  int(binary.LittleEndian.Uint32(b[8:12])),
				Height: int(binary.LittleEndian.Uint32(b[12:16])),
			},
			FPS: int(binary.LittleEndian.Uint32(b[16:20])),
		},
	}, nil
}

// Next returns the next frame, or io.EOF at a clean end of file.
func (r *MJPEGReader) Next() (MJPEGFrame, error) {
	var head [mjpegFrameHead]byte
	if _, err := io.ReadFull(r.r, head[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return MJPEGFrame{}, fmt.Errorf("%w: truncated frame header", ErrBadContainer)
		}
		return MJPEGFrame{}, err
	}
	n := binary.LittleEndian.Uint32(head[8:12])
	if n > MaxMJPEGFrame {
		return MJPEGFrame{}, fmt.Errorf("%w: frame of %d bytes", ErrBadContainer, n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r.r, data); err != nil {
		return MJPEGFrame{}, fmt.Errorf("%w: truncated frame: %w", ErrBadContainer, err)
	}
	return MJPEGFrame{
		EpochMillis: int64(binary.LittleEndian.Uint64(head[0:8])),
		Data:        data,
	}, nil
}

// CountMJPEGFrames opens a container and counts its frames.
func CountMJPEGFrames(path string) (MJPEGHeader, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return MJPEGHeader{}, 0, err
	}
	defer f.Close()

	r, err := NewMJPEGReader(f)
	if err != nil {
		return MJPEGHeader{}, 0, err
	}
	n := 0
	for {
		if _, err := r.Next(); err != nil {
			if errors.Is(err, io.EOF) {
				return r.Header, n, nil
			}
			return r.Header, n, err
		}
		n++
	}
}

// Verify MJPEG implements Encoder.
var _ Encoder = (*MJPEG)(nil)
