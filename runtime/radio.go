package runtime

import "sync"

// DefaultTactileRate is the sample rate passed to the radio link.
const DefaultTactileRate = 100

// RadioLink records the tactile stream of a peripheral. It is told where
// to write when a recording starts and to finalize when it stops.
type RadioLink interface {
	StartRecording(path string, rate int) error
	StopRecording() error
}

// StubRadioLink records calls.
type StubRadioLink struct {
	StartErr error
	StopErr  error

	mu    sync.Mutex
	paths []string
	rates []int
	stops int
}

// StartRecording records the path and rate and returns StartErr.
func (s *StubRadioLink) StartRecording(path string, rate int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, path)
	s.rates = append(s.rates, rate)
	return s.StartErr
}

// StopRecording counts the call and returns StopErr.
func (s *StubRadioLink) StopRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return s.StopErr
}

// Starts returns the paths and rates passed to StartRecording.
func (s *StubRadioLink) Starts() ([]string, []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...), append([]int(nil), s.rates...)
}

// Stops returns the number of StopRecording calls.
func (s *StubRadioLink) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}
