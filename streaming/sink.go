// Package streaming sends processed frames to a remote receiver as binary
// packets over a transport.
//
// Delivery is best effort. A packet that fails to send is dropped and
// counted; the next frame is sent independently. Whether packets carry
// depth is fixed when the sink connects.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/NYU-robot-learning/AnySense/ipc"
	"github.com/NYU-robot-learning/AnySense/log"
	"github.com/NYU-robot-learning/AnySense/metrics"
	"github.com/NYU-robot-learning/AnySense/transport"
	"github.com/NYU-robot-learning/AnySense/types"
)

var (
	// ErrAlreadyConnected is returned by Connect while the sink is connected.
	ErrAlreadyConnected = errors.New("streaming: already connected")
	// ErrNotConnected is returned by SendFrame before Connect.
	ErrNotConnected = errors.New("streaming: not connected")
)

// Options configures a Sink.
type Options struct {
	Transport transport.Transport
	Logger    *log.Logger
	Metrics   *metrics.Collector
}

// Sink encodes frames into packets and writes them to a transport.
type Sink struct {
	opts Options

	mu        sync.Mutex
	connected bool
	depth     bool
	buf       []byte
}

// New creates a disconnected sink.
func New(opts Options) *Sink {
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	return &Sink{opts: opts}
}

// Connect opens the transport. depth decides for the whole connection
// whether packets carry depth and confidence.
func (s *Sink) Connect(ctx context.Context, depth bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return ErrAlreadyConnected
	}
	if err := s.opts.Transport.Connect(ctx); err != nil {
		return fmt.Errorf("streaming connect: %w", err)
	}
	s.connected = true
	s.depth = depth
	s.opts.Logger.Info("streaming connected", map[string]any{"depth": depth})
	return nil
}

// Connected reports whether the sink is connected.
func (s *Sink) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Depth reports whether packets carry depth on the current connection.
func (s *Sink) Depth() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depth
}

// SendFrame encodes and sends one packet. It returns whether the packet was
// sent. Failures are counted and logged at debug level, never retried.
func (s *Sink) SendFrame(p *types.Payloads, in types.Intrinsics, pose types.Pose) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected || p == nil || !p.HasColor() {
		s.opts.Metrics.IncSendFailure()
		return false
	}

	s.buf = ipc.AppendEncode(s.buf[:0], ipc.NewPacket(p, in, pose, s.depth))
	if err := s.opts.Transport.Send(s.buf); err != nil {
		s.opts.Metrics.IncSendFailure()
		s.opts.Logger.Debug("packet dropped", map[string]any{
			"seq":   p.Seq,
			"bytes": len(s.buf),
			"error": err.Error(),
		})
		return false
	}
	s.opts.Metrics.IncPacketSent(len(s.buf))
	return true
}

// Disconnect closes the transport. Safe to call when not connected.
func (s *Sink) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	s.connected = false
	s.depth = false
	if err := s.opts.Transport.Disconnect(); err != nil {
		return fmt.Errorf("streaming disconnect: %w", err)
	}
	s.opts.Logger.Info("streaming disconnected", nil)
	return nil
}
