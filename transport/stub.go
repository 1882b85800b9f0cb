package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrStubSend is the error injected by StubTransport.
var ErrStubSend = errors.New("stub send failure")

// StubTransport records sent packets in memory.
//
// FailNext makes the next N sends fail. FailSends, when set, decides per
// send index (0-based, counting every attempt).
type StubTransport struct {
	ConnectErr error
	FailNext   int
	FailSends  func(i int) bool

	mu          sync.Mutex
	connected   bool
	attempts    int
	packets     [][]byte
	connects    int
	disconnects int
}

var _ Transport = (*StubTransport)(nil)

// Connect marks the stub connected unless ConnectErr is set.
func (s *StubTransport) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	if s.ConnectErr != nil {
		return s.ConnectErr
	}
	s.connected = true
	return nil
}

// Send copies and records the packet.
func (s *StubTransport) Send(packet []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.attempts
	s.attempts++
	if !s.connected {
		return ErrNotConnected
	}
	if s.FailNext > 0 {
		s.FailNext--
		return ErrStubSend
	}
	if s.FailSends != nil && s.FailSends(i) {
		return ErrStubSend
	}
	s.packets = append(s.packets, append([]byte(nil), packet...))
	return nil
}

// Disconnect marks the stub disconnected.
func (s *StubTransport) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects++
	s.connected = false
	return nil
}

// Packets returns the recorded packets.
func (s *StubTransport) Packets() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.packets))
	copy(out, s.packets)
	return out
}

// Attempts returns the number of Send calls, failed ones included.
func (s *StubTransport) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Connected reports whether the stub is connected.
func (s *StubTransport) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Calls returns the number of Connect and Disconnect calls.
func (s *StubTransport) Calls() (connects, disconnects int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects, s.disconnects
}
