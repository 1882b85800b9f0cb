// Package source wraps the live capture session and exposes pull-based
// access to the most recent frame.
//
// A Source owns exactly one hardware Session at a time. Reset discards the
// session and builds a fresh one from the factory; frames produced after a
// reset carry a new generation so stale frames can be recognized by value.
package source

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/NYU-robot-learning/AnySense/log"
	"github.com/NYU-robot-learning/AnySense/types"
)

// Session is the capture hardware collaborator.
// Implementations must be safe for concurrent CurrentFrame calls.
type Session interface {
	// Run starts or resumes capture.
	Run() error
	// Pause suspends capture without releasing the device.
	Pause() error
	// Close releases the device. The session is unusable afterwards.
	Close() error
	// CurrentFrame returns the latest frame without blocking.
	CurrentFrame() (*types.Frame, bool)
	// SupportsDepth reports whether the hardware can produce depth at all.
	SupportsDepth() bool
	// DisplayTransform maps normalized image coordinates to normalized
	// viewport coordinates for the given orientation.
	DisplayTransform(o types.Orientation, viewport types.Size) types.Affine
}

// SessionFactory creates a new capture session.
type SessionFactory func() (Session, error)

// State is the lifecycle state of a Source.
type State int32

// Source states.
const (
	StateStopped State = iota
	StateRunning
	StatePaused
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	default:
		return "stopped"
	}
}

// ErrInvalidState is returned when an operation is not valid in the
// current state.
var ErrInvalidState = errors.New("source: invalid state")

// Source wraps a capture Session with start/pause/reset lifecycle.
type Source struct {
	factory SessionFactory
	logger  *log.Logger

	mu         sync.RWMutex // guards session and state
	session    Session
	state      State
	generation atomic.Uint64
}

// New creates a Source and its first session. The source starts Stopped.
func New(factory SessionFactory, logger *log.Logger) (*Source, error) {
	if factory == nil {
		return nil, errors.New("source: nil session factory")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	sess, err := factory()
	if err != nil {
		return nil, fmt.Errorf("source: create session: %w", err)
	}
	s := &Source{
		factory: factory,
		logger:  logger,
		session: sess,
	}
	s.generation.Store(1)
	return s, nil
}

// Start begins or resumes capture. Valid from Stopped or Paused.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRunning {
		return nil
	}
	if s.session == nil {
		return fmt.Errorf("%w: source closed", ErrInvalidState)
	}
	if err := s.session.Run(); err != nil {
		return fmt.Errorf("source: run session: %w", err)
	}
	s.state = StateRunning
	return nil
}

// Pause suspends capture. Valid from Running.
func (s *Source) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning {
		return fmt.Errorf("%w: pause from %s", ErrInvalidState, s.state)
	}
	if err := s.session.Pause(); err != nil {
		return fmt.Errorf("source: pause session: %w", err)
	}
	s.state = StatePaused
	return nil
}

// Reset closes the current session and creates a new one.
// Valid only from Stopped or Paused; the source ends Stopped.
func (s *Source) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRunning {
		return fmt.Errorf("%w: reset while running", ErrInvalidState)
	}

	if s.session != nil {
		if err := s.session.Close(); err != nil {
			s.logger.Warn("closing session during reset failed", map[string]any{"error": err.Error()})
		}
		s.session = nil
	}

	sess, err := s.factory()
	if err != nil {
		s.state = StateStopped
		return fmt.Errorf("source: recreate session: %w", err)
	}
	s.session = sess
	s.state = StateStopped
	gen := s.generation.Add(1)

	s.logger.Info("capture session reset", map[string]any{"generation": gen})
	return nil
}

// State returns the current lifecycle state.
func (s *Source) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Generation returns the identifier of the current session.
func (s *Source) Generation() uint64 {
	return s.generation.Load()
}

// CurrentFrame returns the latest frame, stamped with the current
// generation. Returns false when not running or no frame exists yet.
func (s *Source) CurrentFrame() (*types.Frame, bool) {
	s.mu.RLock()
	sess, state := s.session, s.state
	s.mu.RUnlock()

	if state != StateRunning || sess == nil {
		return nil, false
	}
	f, ok := sess.CurrentFrame()
	if !ok || f == nil {
		return nil, false
	}
	stamped := *f
	stamped.Generation = s.generation.Load()
	return &stamped, true
}

// SupportsDepth reports whether the current session can produce depth.
func (s *Source) SupportsDepth() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session != nil && s.session.SupportsDepth()
}

// DisplayTransform delegates to the current session.
func (s *Source) DisplayTransform(o types.Orientation, viewport types.Size) types.Affine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return DisplayTransform(o)
	}
	return s.session.DisplayTransform(o, viewport)
}

// Close stops capture and releases the session.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateStopped
	if s.session == nil {
		return nil
	}
	err := s.session.Close()
	s.session = nil
	return err
}

// DisplayTransform is the orientation transform for a sensor whose native
// orientation is landscape-right, in normalized coordinates.
func DisplayTransform(o types.Orientation) types.Affine {
	switch o {
	case types.OrientationPortrait:
		// (x, y) -> (1-y, x)
		return types.Affine{A: 0, B: 1, C: -1, D: 0, Tx: 1, Ty: 0}
	case types.OrientationPortraitUpsideDown:
		// (x, y) -> (y, 1-x)
		return types.Affine{A: 0, B: -1, C: 1, D: 0, Tx: 0, Ty: 1}
	case types.OrientationLandscapeLeft:
		return types.Scale(-1, -1).Then(types.Translate(1, 1))
	default:
		return types.Identity()
	}
}
