package recording

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/NYU-robot-learning/AnySense/encoder"
	"github.com/NYU-robot-learning/AnySense/metrics"
	"github.com/NYU-robot-learning/AnySense/session"
	"github.com/NYU-robot-learning/AnySense/types"
)

var testStart = time.Date(2024, 6, 1, 9, 0, 0, 0, time.Local)

func payloads(seq uint64, depth bool) *types.Payloads {
	p := &types.Payloads{
		Seq:       seq,
		Timestamp: testStart.Add(time.Duration(seq) * 33 * time.Millisecond),
		Color:     []byte{0xFF, 0xD8, byte(seq), 0xFF, 0xD9},
		ColorSize: types.DefaultViewport,
	}
	if depth {
		p.Depth = []byte{0xFF, 0xD8, 0xEE, byte(seq), 0xFF, 0xD9}
		p.DepthSize = types.DefaultDepthViewport
		p.Confidence = []byte{0x89, 'P', 'N', 'G'}
		p.ConfidenceSize = types.DefaultDepthViewport
		p.RawDepth = &types.DepthMap{Width: 2, Height: 1, Data: []float32{1.5, float32(seq)}}
	}
	return p
}

func newStubSink(f *encoder.StubFactory, m *metrics.Collector) *Sink {
	return New(Options{FPS: 30, Encoders: f.New, Metrics: m})
}

func TestSink_StartCreatesLayout(t *testing.T) {
	for _, depth := range []bool{true, false} {
		f := &encoder.StubFactory{}
		sink := newStubSink(f, nil)
		layout := session.NewLayout(t.TempDir(), testStart, "mjpeg")

		if err := sink.Start(t.Context(), layout, depth, "sid"); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if !sink.Active() {
			t.Fatal("sink should be active")
		}

		wantEncoders := 1
		if depth {
			wantEncoders = 2
		}
		if len(f.Created) != wantEncoders {
			t.Errorf("depth=%v: encoders = %d, want %d", depth, len(f.Created), wantEncoders)
		}
		if f.Created[0].Opts.Size != types.DefaultViewport {
			t.Errorf("color encoder primed with %s", f.Created[0].Opts.Size)
		}
		if depth && f.Created[1].Opts.Size != types.DefaultDepthViewport {
			t.Errorf("depth encoder primed with %s", f.Created[1].Opts.Size)
		}

		_, err := os.Stat(layout.RawDepthDir)
		if depth && err != nil {
			t.Errorf("snapshot dir missing: %v", err)
		}
		if !depth && err == nil {
			t.Error("snapshot dir must not exist without depth")
		}
		if _, err := os.Stat(layout.PosePath); err != nil {
			t.Errorf("pose log missing: %v", err)
		}
		m, err := session.ReadManifest(layout.ManifestPath)
		if err != nil || m.Depth != depth || m.SessionID != "sid" {
			t.Errorf("manifest = %+v, %v", m, err)
		}

		if err := sink.Start(t.Context(), layout, depth, "sid"); !errors.Is(err, ErrAlreadyRunning) {
			t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
		}
		if _, err := sink.Stop(t.Context()); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}
}

func TestSink_SetupFailureLeavesNothing(t *testing.T) {
	root := t.TempDir()
	layout := session.NewLayout(root, testStart, "mjpeg")
	f := &encoder.StubFactory{FailPath: layout.DepthPath, Err: errors.New("no codec")}
	sink := newStubSink(f, nil)

	err := sink.Start(t.Context(), layout, true, "")
	if !session.IsSetupError(err) {
		t.Fatalf("Start = %v, want SetupError", err)
	}
	if sink.Active() {
		t.Error("sink must not be active after setup failure")
	}
	if _, err := os.Stat(layout.Dir); !errors.Is(err, os.ErrNotExist) {
		t.Error("session directory left behind")
	}
	if len(f.Created) != 1 || !f.Created[0].Aborted() || f.Created[0].FinalizeCalls() != 1 {
		t.Error("color encoder created before the failure must be aborted and finalized")
	}

	// A retry after the failure succeeds.
	f.Err = nil
	if err := sink.Start(t.Context(), layout, true, ""); err != nil {
		t.Fatalf("Start after failure: %v", err)
	}
	_, _ = sink.Stop(t.Context())
}

func TestSink_ExistingDirectoryIsNotClobbered(t *testing.T) {
	root := t.TempDir()
	layout := session.NewLayout(root, testStart, "mjpeg")
	if err := os.MkdirAll(layout.Dir, 0o755); err != nil {
		t.Fatal(err)
	}
	marker := layout.Dir + "/keep"
	_ = os.WriteFile(marker, nil, 0o644)

	sink := newStubSink(&encoder.StubFactory{}, nil)
	if err := sink.Start(t.Context(), layout, false, ""); !session.IsSetupError(err) {
		t.Fatalf("Start = %v, want SetupError", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Error("existing session directory was removed")
	}
}

func TestSink_NotReadyDropsThenAccepts(t *testing.T) {
	m := metrics.NewCollector()
	f := &encoder.StubFactory{Script: func(_ encoder.Options, s *encoder.StubEncoder) { s.NotReadyFor = 3 }}
	sink := newStubSink(f, m)
	layout := session.NewLayout(t.TempDir(), testStart, "mjpeg")
	if err := sink.Start(t.Context(), layout, true, ""); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var got []Accepted
	for i := uint64(1); i <= 4; i++ {
		p := payloads(i, true)
		got = append(got, sink.WriteFrame(p, p.Timestamp))
	}
	want := []Accepted{{}, {}, {}, {Color: true, Depth: true}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("accepted mismatch (-want +got):\n%s", diff)
	}

	colorEnc := f.Created[0]
	if frames := colorEnc.Frames(); len(frames) != 1 || frames[0][2] != 4 {
		t.Errorf("color frames = %v, want only frame 4", frames)
	}

	summary, err := sink.Stop(t.Context())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	wantCounters := session.Counters{
		ColorFrames: 1, ColorDropped: 3,
		DepthFrames: 1, DepthDropped: 3,
		Snapshots: 4,
	}
	if diff := cmp.Diff(wantCounters, summary.Counters); diff != "" {
		t.Errorf("counters mismatch (-want +got):\n%s", diff)
	}

	snap := m.Snapshot()
	if snap.Dropped[metrics.StreamColor] != 3 || snap.Accepted[metrics.StreamColor] != 1 {
		t.Errorf("metrics = %+v", snap)
	}

	entries, err := os.ReadDir(layout.RawDepthDir)
	if err != nil || len(entries) != 4 {
		t.Errorf("snapshots on disk = %d, %v; want 4", len(entries), err)
	}
}

func TestSink_NoDepthIgnoresDepthPayloads(t *testing.T) {
	f := &encoder.StubFactory{}
	sink := newStubSink(f, nil)
	layout := session.NewLayout(t.TempDir(), testStart, "mjpeg")
	if err := sink.Start(t.Context(), layout, false, ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p := payloads(1, true)
	acc := sink.WriteFrame(p, p.Timestamp)
	if !acc.Color || acc.Depth {
		t.Errorf("Accepted = %+v, want color only", acc)
	}
	summary, _ := sink.Stop(t.Context())
	if summary.Counters.Snapshots != 0 || summary.Counters.DepthFrames != 0 {
		t.Errorf("counters = %+v", summary.Counters)
	}
}

func TestSink_PoseLog(t *testing.T) {
	sink := newStubSink(&encoder.StubFactory{}, nil)
	layout := session.NewLayout(t.TempDir(), testStart, "mjpeg")
	if err := sink.Start(t.Context(), layout, false, ""); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ts := time.UnixMilli(1717232400123)
	sink.WritePose(types.Pose{Qx: 0, Qy: 0.5, Qz: -0.25, Qw: 1, Tx: 1.5, Ty: -2, Tz: 0.125}, ts)
	sink.WritePose(types.IdentityPose, ts.Add(33*time.Millisecond))

	if _, err := sink.Stop(t.Context()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	data, err := os.ReadFile(layout.PosePath)
	if err != nil {
		t.Fatal(err)
	}
	want := "\"1717232400123\" ,0,0.5,-0.25,1,1.5,-2,0.125\n" +
		"\"1717232400156\" ,0,0,0,1,0,0,0\n"
	if string(data) != want {
		t.Errorf("pose log =\n%q\nwant\n%q", data, want)
	}

	// Writes after stop are ignored.
	sink.WritePose(types.IdentityPose, ts)
	data, _ = os.ReadFile(layout.PosePath)
	if strings.Count(string(data), "\n") != 2 {
		t.Error("pose written after stop")
	}
}

func TestSink_StopIdempotentAndAggregatesErrors(t *testing.T) {
	boom := errors.New("moov atom missing")
	f := &encoder.StubFactory{Script: func(o encoder.Options, s *encoder.StubEncoder) {
		s.FinalizeErr = boom
	}}
	sink := newStubSink(f, nil)
	layout := session.NewLayout(t.TempDir(), testStart, "mjpeg")
	if err := sink.Start(t.Context(), layout, true, ""); err != nil {
		t.Fatalf("Start: %v", err)
	}

	summary, err := sink.Stop(t.Context())
	if !errors.Is(err, boom) {
		t.Fatalf("Stop = %v, want %v", err, boom)
	}
	if summary == nil {
		t.Fatal("summary must be returned even on error")
	}
	for i, enc := range f.Created {
		if !enc.Finished() || enc.FinalizeCalls() != 1 {
			t.Errorf("encoder %d not finalized", i)
		}
	}
	if sink.Active() {
		t.Error("sink still active after Stop")
	}

	// Manifest was still rewritten.
	m, err := session.ReadManifest(layout.ManifestPath)
	if err != nil || m.Stop == nil {
		t.Errorf("manifest after stop = %+v, %v", m, err)
	}

	again, err := sink.Stop(t.Context())
	if again != nil || err != nil {
		t.Errorf("second Stop = %v, %v; want nil, nil", again, err)
	}
}

func TestSink_StopWaitsForFinalizeAfterContextDone(t *testing.T) {
	const delay = 50 * time.Millisecond
	f := &encoder.StubFactory{Script: func(_ encoder.Options, s *encoder.StubEncoder) {
		s.FinalizeDelay = delay
	}}
	sink := newStubSink(f, nil)
	layout := session.NewLayout(t.TempDir(), testStart, "mjpeg")
	if err := sink.Start(t.Context(), layout, true, ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p := payloads(1, true)
	sink.WriteFrame(p, p.Timestamp)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	begin := time.Now()
	summary, err := sink.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(begin); elapsed < delay {
		t.Errorf("Stop returned after %v, before the encoders finalized", elapsed)
	}
	for i, enc := range f.Created {
		if !enc.Finalized() {
			t.Errorf("encoder %d not finalized when Stop returned", i)
		}
	}
	if summary == nil || summary.Counters.ColorFrames != 1 {
		t.Errorf("summary = %+v", summary)
	}
	m, err := session.ReadManifest(layout.ManifestPath)
	if err != nil || m.Stop == nil {
		t.Errorf("manifest after stop = %+v, %v", m, err)
	}
}

func TestSink_MJPEGEndToEnd(t *testing.T) {
	sink := New(Options{FPS: 30, QueueDepth: 64})
	layout := session.NewLayout(t.TempDir(), testStart, encoder.Extension(encoder.BackendMJPEG))
	if err := sink.Start(t.Context(), layout, true, ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := uint64(1); i <= 10; i++ {
		p := payloads(i, true)
		sink.WriteFrame(p, p.Timestamp)
		sink.WritePose(types.IdentityPose, p.Timestamp)
	}
	summary, err := sink.Stop(t.Context())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}

	_, n, err := encoder.CountMJPEGFrames(layout.ColorPath)
	if err != nil || int64(n) != summary.Counters.ColorFrames {
		t.Errorf("color file frames = %d, %v; summary %d", n, err, summary.Counters.ColorFrames)
	}
	_, n, err = encoder.CountMJPEGFrames(layout.DepthPath)
	if err != nil || int64(n) != summary.Counters.DepthFrames {
		t.Errorf("depth file frames = %d, %v; summary %d", n, err, summary.Counters.DepthFrames)
	}

	raw, err := ReadSnapshot(layout.SnapshotPath(payloads(3, true).Timestamp))
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if diff := cmp.Diff([]float32{1.5, 3}, raw); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}
