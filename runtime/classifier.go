package runtime

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/NYU-robot-learning/AnySense/log"
	"github.com/NYU-robot-learning/AnySense/metrics"
)

// Frequency selects how often the classifier samples a frame.
type Frequency string

// Classifier sampling frequencies.
const (
	FrequencyHigh   Frequency = "high"
	FrequencyMedium Frequency = "medium"
	FrequencyLow    Frequency = "low"
	FrequencyMinute Frequency = "minute"
)

// ParseFrequency validates a frequency name. Empty means high.
func ParseFrequency(s string) (Frequency, error) {
	switch f := Frequency(s); f {
	case "":
		return FrequencyHigh, nil
	case FrequencyHigh, FrequencyMedium, FrequencyLow, FrequencyMinute:
		return f, nil
	default:
		return "", fmt.Errorf("unknown classifier frequency %q (want high, medium, low or minute)", s)
	}
}

// Interval returns the sampling period. High samples on every pump tick.
func (f Frequency) Interval(fps int) time.Duration {
	switch f {
	case FrequencyMedium:
		return 2 * time.Second
	case FrequencyLow:
		return 10 * time.Second
	case FrequencyMinute:
		return time.Minute
	default:
		return interval(fps)
	}
}

// Result is one advisory classification.
type Result struct {
	Label      string    `json:"label"`
	Confidence float32   `json:"confidence"`
	Seq        uint64    `json:"seq"`
	Timestamp  time.Time `json:"timestamp"`
}

// Classifier labels a color image.
type Classifier interface {
	Classify(ctx context.Context, img image.Image) (Result, error)
}

// SamplerConfig configures a Sampler.
type SamplerConfig struct {
	Classifier Classifier
	Frequency  Frequency
	FPS        int
	Clock      clock.Clock
	Source     FrameSource
	// Observer receives each successful result on the worker goroutine.
	Observer func(Result)
	Logger   *log.Logger
	Metrics  *metrics.Collector
}

// Sampler feeds frames to a classifier in the background. It never
// touches the sinks and keeps at most one classification in flight.
type Sampler struct {
	cfg SamplerConfig

	mu   sync.Mutex
	loop *tickLoop
}

// NewSampler creates a stopped sampler.
func NewSampler(cfg SamplerConfig) *Sampler {
	if cfg.Frequency == "" {
		cfg.Frequency = FrequencyHigh
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	return &Sampler{cfg: cfg}
}

// Start begins sampling. Classification stops when ctx is canceled.
func (s *Sampler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loop != nil {
		return errors.New("runtime: sampler already started")
	}
	loop := newTickLoop(s.cfg.Clock, s.cfg.Frequency.Interval(s.cfg.FPS))
	loop.run(ctx, func() { s.tick(ctx, loop) })
	s.loop = loop
	return nil
}

// Stop stops sampling and waits for the classification in flight.
func (s *Sampler) Stop() {
	s.mu.Lock()
	loop := s.loop
	s.mu.Unlock()
	if loop != nil {
		loop.stop()
	}
}

func (s *Sampler) tick(ctx context.Context, loop *tickLoop) {
	if !loop.acquire() {
		return
	}
	f, ok := s.cfg.Source.CurrentFrame()
	if !ok || f == nil || f.Color == nil {
		loop.release()
		return
	}
	loop.spawn(func() {
		res, err := s.cfg.Classifier.Classify(ctx, f.Color)
		s.cfg.Metrics.IncClassifierRun(err != nil)
		if err != nil {
			s.cfg.Logger.Debug("classification failed", map[string]any{
				"seq":   f.Seq,
				"error": err.Error(),
			})
			return
		}
		res.Seq = f.Seq
		if res.Timestamp.IsZero() {
			res.Timestamp = f.Timestamp
		}
		if s.cfg.Observer != nil {
			s.cfg.Observer(res)
		}
	})
}

// StubClassifier returns a fixed label. When Block is set, Classify waits
// for a value on it or for ctx.
type StubClassifier struct {
	Label string
	Err   error
	Block chan struct{}

	calls   atomic.Int32
	active  atomic.Int32
	maxSeen atomic.Int32
}

// Classify returns Label with full confidence, or Err.
func (s *StubClassifier) Classify(ctx context.Context, img image.Image) (Result, error) {
	s.calls.Add(1)
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		m := s.maxSeen.Load()
		if n <= m || s.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if s.Block != nil {
		select {
		case <-s.Block:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	if s.Err != nil {
		return Result{}, s.Err
	}
	return Result{Label: s.Label, Confidence: 1}, nil
}

// Calls returns the number of Classify calls.
func (s *StubClassifier) Calls() int { return int(s.calls.Load()) }

// MaxConcurrent returns the highest number of overlapping calls seen.
func (s *StubClassifier) MaxConcurrent() int { return int(s.maxSeen.Load()) }
