package metrics

import (
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector()

	c.IncTick()
	c.IncTick()
	c.IncTick()
	c.IncSkippedInFlight()
	c.IncSkippedNoFrame()
	c.IncProcessed()
	c.IncProcessed()
	c.IncProcessFailure()
	c.IncStageFailure()
	c.IncClassifierRun(false)
	c.IncClassifierRun(true)
	c.IncAccepted(StreamColor)
	c.IncAccepted(StreamColor)
	c.IncAccepted(StreamDepth)
	c.IncDropped(StreamDepth)
	c.IncSnapshot(false)
	c.IncSnapshot(true)
	c.IncPose(false)
	c.IncPose(true)
	c.IncPacketSent(100)
	c.IncPacketSent(50)
	c.IncSendFailure()

	s := c.Snapshot()

	checks := []struct {
		name string
		got  int64
		want int64
	}{
		{"Ticks", s.Ticks, 3},
		{"SkippedInFlight", s.SkippedInFlight, 1},
		{"SkippedNoFrame", s.SkippedNoFrame, 1},
		{"FramesProcessed", s.FramesProcessed, 2},
		{"ProcessFailures", s.ProcessFailures, 1},
		{"StageFailures", s.StageFailures, 1},
		{"ClassifierRuns", s.ClassifierRuns, 2},
		{"ClassifierErrors", s.ClassifierErrors, 1},
		{"Accepted[color]", s.Accepted[StreamColor], 2},
		{"Accepted[depth]", s.Accepted[StreamDepth], 1},
		{"Dropped[depth]", s.Dropped[StreamDepth], 1},
		{"Snapshots", s.Snapshots, 1},
		{"SnapshotErrors", s.SnapshotErrors, 1},
		{"Poses", s.Poses, 1},
		{"PoseErrors", s.PoseErrors, 1},
		{"PacketsSent", s.PacketsSent, 2},
		{"BytesSent", s.BytesSent, 150},
		{"SendFailures", s.SendFailures, 1},
	}
	for _, ch := range checks {
		if ch.got != ch.want {
			t.Errorf("%s = %d, want %d", ch.name, ch.got, ch.want)
		}
	}
}

func TestCollector_Dimensions(t *testing.T) {
	c := NewCollector()
	c.SetDimensions("recording", "session-7")
	s := c.Snapshot()

	if s.Mode != "recording" {
		t.Errorf("Mode = %q, want %q", s.Mode, "recording")
	}
	if s.SessionID != "session-7" {
		t.Errorf("SessionID = %q, want %q", s.SessionID, "session-7")
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector

	// None of these should panic
	c.IncTick()
	c.IncSkippedInFlight()
	c.IncSkippedNoFrame()
	c.IncProcessed()
	c.IncProcessFailure()
	c.IncStageFailure()
	c.IncClassifierRun(true)
	c.IncAccepted(StreamColor)
	c.IncDropped(StreamColor)
	c.IncSnapshot(false)
	c.IncPose(false)
	c.IncPacketSent(10)
	c.IncSendFailure()
	c.SetDimensions("streaming", "x")

	s := c.Snapshot()
	if s.Ticks != 0 {
		t.Errorf("nil collector snapshot Ticks = %d, want 0", s.Ticks)
	}
}

func TestCollector_SnapshotIsolation(t *testing.T) {
	c := NewCollector()
	c.IncDropped(StreamColor)

	s := c.Snapshot()
	s.Dropped[StreamColor] = 99

	if got := c.Snapshot().Dropped[StreamColor]; got != 1 {
		t.Errorf("collector mutated through snapshot: got %d, want 1", got)
	}
}

func TestCollector_ConcurrentIncrements(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	const goroutines = 50
	const perGoroutine = 100

	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perGoroutine {
				c.IncTick()
				c.IncAccepted(StreamColor)
			}
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	want := int64(goroutines * perGoroutine)
	if s.Ticks != want {
		t.Errorf("Ticks = %d, want %d", s.Ticks, want)
	}
	if s.Accepted[StreamColor] != want {
		t.Errorf("Accepted[color] = %d, want %d", s.Accepted[StreamColor], want)
	}
}
