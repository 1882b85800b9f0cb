package geometry

import (
	"context"
	"errors"
	"image"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NYU-robot-learning/AnySense/source"
	"github.com/NYU-robot-learning/AnySense/types"
)

func colorFrame() *types.Frame {
	return &types.Frame{Color: image.NewRGBA(image.Rect(0, 0, 64, 48))}
}

func depthFrame() *types.Frame {
	f := colorFrame()
	f.Depth = types.NewDepthMap(16, 12)
	f.Confidence = image.NewGray(image.Rect(0, 0, 16, 12))
	return f
}

func fastConfig(retries int) Config {
	return Config{
		Orientation:     types.OrientationLandscapeRight,
		Viewport:        types.Size{Width: 32, Height: 24},
		DepthViewport:   types.Size{Width: 8, Height: 6},
		MaxDepthRetries: retries,
		RetryDelay:      time.Millisecond,
		PollInterval:    time.Millisecond,
	}
}

func TestInitializer_DepthAvailableImmediately(t *testing.T) {
	stub := source.NewStubSession(true, depthFrame())
	init := NewInitializer(fastConfig(5))

	if err := init.Run(t.Context(), stub); err != nil {
		t.Fatalf("Run: %v", err)
	}

	st := init.State()
	if st.Availability() != types.DepthAvailable {
		t.Fatalf("Availability = %s, want available", st.Availability())
	}
	tr := st.Transforms()
	if tr.Color == nil || tr.Depth == nil {
		t.Fatalf("transforms = %+v, want both set", tr)
	}
	if st.DepthAttempts() != 1 {
		t.Errorf("DepthAttempts = %d, want 1", st.DepthAttempts())
	}

	// Landscape-right with identity display maps raw corners to viewport corners
	x, y := tr.Color.Apply(64, 48)
	if x != 32 || y != 24 {
		t.Errorf("color corner = (%v,%v), want (32,24)", x, y)
	}
	x, y = tr.Depth.Apply(16, 12)
	if x != 8 || y != 6 {
		t.Errorf("depth corner = (%v,%v), want (8,6)", x, y)
	}
}

func TestInitializer_DepthUnsupported(t *testing.T) {
	stub := source.NewStubSession(false, colorFrame())
	init := NewInitializer(fastConfig(5))

	if err := init.Run(t.Context(), stub); err != nil {
		t.Fatalf("Run: %v", err)
	}

	st := init.State()
	if st.Availability() != types.DepthUnavailable {
		t.Errorf("Availability = %s, want unavailable", st.Availability())
	}
	if st.DepthAttempts() != 0 {
		t.Errorf("DepthAttempts = %d, want 0", st.DepthAttempts())
	}
	if st.Transforms().Color == nil {
		t.Error("color transform should still be set")
	}
	if st.Transforms().Depth != nil {
		t.Error("depth transform must be nil when unavailable")
	}
}

func TestInitializer_NeverExceedsRetryBound(t *testing.T) {
	for _, max := range []int{1, 3, 7} {
		stub := source.NewStubSession(true, colorFrame())
		init := NewInitializer(fastConfig(max))

		if err := init.Run(t.Context(), stub); err != nil {
			t.Fatalf("Run: %v", err)
		}

		st := init.State()
		if st.Availability() != types.DepthUnavailable {
			t.Errorf("max=%d: Availability = %s, want unavailable", max, st.Availability())
		}
		if st.DepthAttempts() != max {
			t.Errorf("max=%d: DepthAttempts = %d, want %d", max, st.DepthAttempts(), max)
		}
		// One poll for the first frame plus one per retry after the first attempt
		if stub.Polls != max {
			t.Errorf("max=%d: Polls = %d, want %d", max, stub.Polls, max)
		}
	}
}

func TestInitializer_DepthArrivesLate(t *testing.T) {
	stub := source.NewStubSession(true, colorFrame(), colorFrame(), depthFrame())
	init := NewInitializer(fastConfig(10))

	if err := init.Run(t.Context(), stub); err != nil {
		t.Fatalf("Run: %v", err)
	}
	st := init.State()
	if st.Availability() != types.DepthAvailable {
		t.Fatalf("Availability = %s, want available", st.Availability())
	}
	if st.DepthAttempts() != 3 {
		t.Errorf("DepthAttempts = %d, want 3", st.DepthAttempts())
	}
}

func TestInitializer_FirstFrameWaitDoesNotConsumeRetries(t *testing.T) {
	stub := source.NewStubSession(true, nil, nil, nil, nil, depthFrame())
	init := NewInitializer(fastConfig(1))

	if err := init.Run(t.Context(), stub); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := init.State().Availability(); got != types.DepthAvailable {
		t.Errorf("Availability = %s, want available", got)
	}
}

func TestInitializer_CancelLeavesUnknown(t *testing.T) {
	stub := source.NewStubSession(true) // never produces a frame
	init := NewInitializer(fastConfig(5))

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	err := init.Run(ctx, stub)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run = %v, want deadline exceeded", err)
	}
	if got := init.State().Availability(); got != types.DepthUnknown {
		t.Errorf("Availability = %s, want unknown", got)
	}
	select {
	case <-init.State().ColorReady():
		t.Error("color must not be ready without a frame")
	default:
	}
}

func TestInitializer_StartSignalsSettled(t *testing.T) {
	stub := source.NewStubSession(true, colorFrame(), depthFrame())
	init := NewInitializer(fastConfig(5))

	var notified atomic.Int32
	var got atomic.Int32
	init.State().OnSettled(func(a types.DepthAvailability) {
		notified.Add(1)
		got.Store(int32(a))
	})

	done := init.Start(t.Context(), stub)

	select {
	case <-init.State().Settled():
	case <-time.After(2 * time.Second):
		t.Fatal("initializer did not settle")
	}
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if notified.Load() != 1 {
		t.Errorf("notifications = %d, want 1", notified.Load())
	}
	if types.DepthAvailability(got.Load()) != types.DepthAvailable {
		t.Errorf("notified availability = %d, want available", got.Load())
	}
}

func TestState_WriteOnce(t *testing.T) {
	st := NewState()

	if !st.SetColor(types.Scale(2, 2)) {
		t.Fatal("first SetColor should succeed")
	}
	if st.SetColor(types.Scale(3, 3)) {
		t.Error("second SetColor should fail")
	}
	if st.Transforms().Color.A != 2 {
		t.Error("color transform was overwritten")
	}

	if !st.MarkUnavailable() {
		t.Fatal("MarkUnavailable should succeed from unknown")
	}
	if st.SetDepth(types.Identity()) {
		t.Error("SetDepth after unavailable must fail")
	}
	if st.MarkUnavailable() {
		t.Error("second MarkUnavailable should fail")
	}
	if st.Availability() != types.DepthUnavailable {
		t.Errorf("Availability = %s, want unavailable", st.Availability())
	}
}

func TestState_OnSettledAfterSettle(t *testing.T) {
	st := NewState()
	st.SetDepth(types.Identity())

	called := false
	st.OnSettled(func(a types.DepthAvailability) {
		called = true
		if a != types.DepthAvailable {
			t.Errorf("availability = %s, want available", a)
		}
	})
	if !called {
		t.Error("OnSettled after settle should run immediately")
	}
}
