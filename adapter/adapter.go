// Package adapter defines how finished recordings are announced to
// downstream systems.
//
// The controller publishes one SessionCompletedEvent after a recording
// stops. Implementations retry transient failures with exponential backoff.
package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// EventSessionCompleted is the EventType of every SessionCompletedEvent.
const EventSessionCompleted = "session_completed"

// DefaultBackoff is the delay before the first retry. Each later retry
// doubles it.
const DefaultBackoff = 500 * time.Millisecond

// SessionCompletedEvent is published when a recording session stops.
type SessionCompletedEvent struct {
	Version      string `json:"version"`
	EventType    string `json:"event_type"`
	SessionID    string `json:"session_id"`
	Session      string `json:"session"`
	Start        string `json:"start"` // RFC 3339
	DurationMs   int64  `json:"duration_ms"`
	Depth        bool   `json:"depth"`
	ColorFrames  int64  `json:"color_frames"`
	ColorDropped int64  `json:"color_dropped"`
	DepthFrames  int64  `json:"depth_frames"`
	DepthDropped int64  `json:"depth_dropped"`
	Snapshots    int64  `json:"snapshots"`
	Poses        int64  `json:"poses"`
	StoragePath  string `json:"storage_path"`
	Timestamp    string `json:"timestamp"` // RFC 3339
}

// Adapter publishes session completion events.
type Adapter interface {
	// Publish sends the event. Must respect context cancellation.
	Publish(ctx context.Context, event *SessionCompletedEvent) error
	// Close releases adapter resources.
	Close() error
}

// Backoff returns the wait before attempt i (0-based). Attempt 0 never waits.
func Backoff(base time.Duration, i int) time.Duration {
	if i <= 0 {
		return 0
	}
	if base <= 0 {
		base = DefaultBackoff
	}
	return time.Duration(1<<uint(i-1)) * base
}

// Retry runs fn up to 1+retries times with exponential backoff between
// attempts. stop reports errors that must not be retried.
func Retry(ctx context.Context, name string, retries int, base time.Duration, stop func(error) bool, fn func() error) error {
	attempts := 1 + retries
	var lastErr error
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}
		if wait := Backoff(base, i); wait > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-time.After(wait):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if stop != nil && stop(lastErr) {
			return fmt.Errorf("%s: non-retriable error: %w", name, lastErr)
		}
	}
	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}

// StubAdapter records published events.
type StubAdapter struct {
	Err error
	// Hold, when set, blocks Publish after the event is recorded until it
	// is closed or the context ends.
	Hold chan struct{}

	mu     sync.Mutex
	events []SessionCompletedEvent
	closed bool
}

// Publish records the event and returns Err.
func (s *StubAdapter) Publish(ctx context.Context, event *SessionCompletedEvent) error {
	s.mu.Lock()
	s.events = append(s.events, *event)
	hold, err := s.Hold, s.Err
	s.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Close marks the stub closed.
func (s *StubAdapter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Events returns the published events.
func (s *StubAdapter) Events() []SessionCompletedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SessionCompletedEvent(nil), s.events...)
}

// Closed reports whether Close was called.
func (s *StubAdapter) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var _ Adapter = (*StubAdapter)(nil)
