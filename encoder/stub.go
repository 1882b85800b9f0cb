package encoder

import (
	"sync"
	"time"
)

// StubEncoder is a scriptable Encoder for tests.
type StubEncoder struct {
	mu sync.Mutex

	// NotReadyFor makes the next N Ready calls report false.
	NotReadyFor int
	// AppendErr, when set, is returned by every accepted Append.
	AppendErr error
	// FinalizeErr is delivered by Finalize.
	FinalizeErr error
	// FinalizeDelay holds back the Finalize result.
	FinalizeDelay time.Duration
	// Opts are the options the stub was created with.
	Opts Options

	frames    [][]byte
	stamps    []time.Time
	finished  bool
	aborted   bool
	finalized bool
	finals    int
}

// NewStubEncoder returns a ready stub.
func NewStubEncoder() *StubEncoder {
	return &StubEncoder{}
}

// Ready implements Encoder.
func (s *StubEncoder) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return false
	}
	if s.NotReadyFor > 0 {
		s.NotReadyFor--
		return false
	}
	return true
}

// Append implements Encoder.
func (s *StubEncoder) Append(data []byte, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return ErrFinished
	}
	if s.AppendErr != nil {
		return s.AppendErr
	}
	s.frames = append(s.frames, data)
	s.stamps = append(s.stamps, ts)
	return nil
}

// MarkFinished implements Encoder.
func (s *StubEncoder) MarkFinished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
}

// Abort implements Aborter.
func (s *StubEncoder) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = true
	s.finished = true
}

// Finalize implements Encoder.
func (s *StubEncoder) Finalize() <-chan error {
	s.mu.Lock()
	s.finals++
	delay, err := s.FinalizeDelay, s.FinalizeErr
	s.mu.Unlock()

	ch := make(chan error, 1)
	deliver := func() {
		s.mu.Lock()
		s.finalized = true
		s.mu.Unlock()
		ch <- err
		close(ch)
	}
	if delay <= 0 {
		deliver()
		return ch
	}
	go func() {
		time.Sleep(delay)
		deliver()
	}()
	return ch
}

// Frames returns the accepted frames.
func (s *StubEncoder) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.frames))
	copy(out, s.frames)
	return out
}

// Finished reports whether MarkFinished was called.
func (s *StubEncoder) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Aborted reports whether Abort was called.
func (s *StubEncoder) Aborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

// Finalized reports whether a Finalize result has been delivered.
func (s *StubEncoder) Finalized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalized
}

// FinalizeCalls returns how many times Finalize was called.
func (s *StubEncoder) FinalizeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finals
}

// StubFactory records every encoder it creates. Script configures each new
// stub before it is returned; Err fails creation for the path given.
type StubFactory struct {
	mu       sync.Mutex
	Script   func(opts Options, s *StubEncoder)
	FailPath string
	Err      error
	Created  []*StubEncoder
}

// New implements Factory.
func (f *StubFactory) New(opts Options) (Encoder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil && (f.FailPath == "" || f.FailPath == opts.Path) {
		return nil, f.Err
	}
	s := NewStubEncoder()
	s.Opts = opts
	if f.Script != nil {
		f.Script(opts, s)
	}
	f.Created = append(f.Created, s)
	return s, nil
}

// Verify StubEncoder implements Encoder and Aborter.
var (
	_ Encoder = (*StubEncoder)(nil)
	_ Aborter = (*StubEncoder)(nil)
)
