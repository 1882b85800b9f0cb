package source

import (
	"sync"

	"github.com/NYU-robot-learning/AnySense/types"
)

// StubSession is a scripted Session for tests.
// Frames are served from Frames in order; the last one repeats.
type StubSession struct {
	mu sync.Mutex

	Frames []*types.Frame
	Depth  bool
	// RunErr, when set, is returned by Run.
	RunErr error

	RunCalls   int
	PauseCalls int
	CloseCalls int
	Polls      int
	running    bool
	next       int
}

// NewStubSession creates a stub serving the given frames.
func NewStubSession(depth bool, frames ...*types.Frame) *StubSession {
	return &StubSession{Frames: frames, Depth: depth}
}

// Run implements Session.
func (s *StubSession) Run() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RunCalls++
	if s.RunErr != nil {
		return s.RunErr
	}
	s.running = true
	return nil
}

// Pause implements Session.
func (s *StubSession) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PauseCalls++
	s.running = false
	return nil
}

// Close implements Session.
func (s *StubSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	s.running = false
	return nil
}

// CurrentFrame implements Session. The running flag is not consulted so the
// stub can also drive components that poll a session directly.
func (s *StubSession) CurrentFrame() (*types.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Polls++
	if len(s.Frames) == 0 {
		return nil, false
	}
	f := s.Frames[s.next]
	if s.next < len(s.Frames)-1 {
		s.next++
	}
	return f, f != nil
}

// SupportsDepth implements Session.
func (s *StubSession) SupportsDepth() bool { return s.Depth }

// DisplayTransform implements Session.
func (s *StubSession) DisplayTransform(o types.Orientation, _ types.Size) types.Affine {
	return DisplayTransform(o)
}

// Running reports whether Run was called without a later Pause or Close.
func (s *StubSession) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Verify StubSession implements Session.
var _ Session = (*StubSession)(nil)
