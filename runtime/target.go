package runtime

import (
	"sync"

	"github.com/NYU-robot-learning/AnySense/recording"
	"github.com/NYU-robot-learning/AnySense/streaming"
	"github.com/NYU-robot-learning/AnySense/types"
)

// Target receives processed frames from the pump worker.
type Target interface {
	Deliver(f *types.Frame, p *types.Payloads)
}

// TargetFunc adapts a function to Target.
type TargetFunc func(f *types.Frame, p *types.Payloads)

// Deliver calls fn.
func (fn TargetFunc) Deliver(f *types.Frame, p *types.Payloads) { fn(f, p) }

// RecordingTarget writes the frame's videos and snapshot, then its pose.
func RecordingTarget(s *recording.Sink) Target {
	return TargetFunc(func(f *types.Frame, p *types.Payloads) {
		s.WriteFrame(p, f.Timestamp)
		s.WritePose(f.Pose, f.Timestamp)
	})
}

// StreamingTarget sends one packet per frame.
func StreamingTarget(s *streaming.Sink) Target {
	return TargetFunc(func(f *types.Frame, p *types.Payloads) {
		s.SendFrame(p, f.Intrinsics, f.Pose)
	})
}

// StubTarget records delivered frames.
type StubTarget struct {
	mu       sync.Mutex
	frames   []*types.Frame
	payloads []*types.Payloads
}

// Deliver records the frame and payloads.
func (s *StubTarget) Deliver(f *types.Frame, p *types.Payloads) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	s.payloads = append(s.payloads, p)
}

// Frames returns the delivered frames in order.
func (s *StubTarget) Frames() []*types.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.Frame(nil), s.frames...)
}

// Payloads returns the delivered payloads in order.
func (s *StubTarget) Payloads() []*types.Payloads {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.Payloads(nil), s.payloads...)
}
