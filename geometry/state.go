// Package geometry computes the per-session transforms that map raw color
// and depth planes into the fixed output viewports.
//
// The transforms and the depth availability flag are written exactly once
// by the Initializer and published through atomics. Every other component
// only reads them, so no locking is needed on the frame path.
package geometry

import (
	"sync"
	"sync/atomic"

	"github.com/NYU-robot-learning/AnySense/types"
)

// State holds the write-once geometry of one capture session.
type State struct {
	color    atomic.Pointer[types.Affine]
	depth    atomic.Pointer[types.Affine]
	avail    atomic.Int32
	attempts atomic.Int32

	colorReady chan struct{}
	colorOnce  sync.Once

	settled    chan struct{}
	settleOnce sync.Once

	mu        sync.Mutex // guards observers
	observers []func(types.DepthAvailability)
}

// NewState returns an empty state with depth availability Unknown.
func NewState() *State {
	return &State{
		colorReady: make(chan struct{}),
		settled:    make(chan struct{}),
	}
}

// SetColor publishes the color transform. Returns false if it was already set.
func (s *State) SetColor(t types.Affine) bool {
	if !s.color.CompareAndSwap(nil, &t) {
		return false
	}
	s.colorOnce.Do(func() { close(s.colorReady) })
	return true
}

// SetDepth publishes the depth transform and marks depth Available.
// Returns false if availability had already settled.
func (s *State) SetDepth(t types.Affine) bool {
	if types.DepthAvailability(s.avail.Load()) != types.DepthUnknown {
		return false
	}
	if !s.depth.CompareAndSwap(nil, &t) {
		return false
	}
	if !s.avail.CompareAndSwap(int32(types.DepthUnknown), int32(types.DepthAvailable)) {
		return false
	}
	s.settle(types.DepthAvailable)
	return true
}

// MarkUnavailable settles depth as Unavailable.
// Returns false if availability had already settled.
func (s *State) MarkUnavailable() bool {
	if !s.avail.CompareAndSwap(int32(types.DepthUnknown), int32(types.DepthUnavailable)) {
		return false
	}
	s.settle(types.DepthUnavailable)
	return true
}

func (s *State) settle(a types.DepthAvailability) {
	s.settleOnce.Do(func() {
		close(s.settled)
		s.mu.Lock()
		observers := s.observers
		s.observers = nil
		s.mu.Unlock()
		for _, fn := range observers {
			fn(a)
		}
	})
}

// OnSettled registers fn to be called once when depth availability becomes
// terminal. If it already is, fn runs immediately on the caller's goroutine.
func (s *State) OnSettled(fn func(types.DepthAvailability)) {
	s.mu.Lock()
	select {
	case <-s.settled:
		s.mu.Unlock()
		fn(s.Availability())
		return
	default:
	}
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Availability returns the current depth availability.
func (s *State) Availability() types.DepthAvailability {
	return types.DepthAvailability(s.avail.Load())
}

// Transforms returns the currently published transforms. Depth is nil
// unless availability is Available.
func (s *State) Transforms() types.GeometryTransforms {
	t := types.GeometryTransforms{Color: s.color.Load()}
	if s.Availability() == types.DepthAvailable {
		t.Depth = s.depth.Load()
	}
	return t
}

// ColorReady is closed once the color transform is published.
func (s *State) ColorReady() <-chan struct{} {
	return s.colorReady
}

// Settled is closed once depth availability is terminal.
func (s *State) Settled() <-chan struct{} {
	return s.settled
}

// DepthAttempts returns the number of depth transform attempts made.
func (s *State) DepthAttempts() int {
	return int(s.attempts.Load())
}
