package encoder

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/NYU-robot-learning/AnySense/types"
)

func TestMJPEG_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "RGB.mjpeg")
	enc, err := NewMJPEG(Options{Path: path, Size: types.Size{Width: 720, Height: 960}, FPS: 30})
	if err != nil {
		t.Fatalf("NewMJPEG: %v", err)
	}

	base := time.UnixMilli(1700000000123)
	payloads := [][]byte{{0xFF, 0xD8, 1, 0xFF, 0xD9}, {0xFF, 0xD8, 2, 2, 0xFF, 0xD9}, {}}
	for i, p := range payloads {
		for !enc.Ready() {
			time.Sleep(time.Millisecond)
		}
		if err := enc.Append(p, base.Add(time.Duration(i)*33*time.Millisecond)); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	enc.MarkFinished()
	if err := <-enc.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	r, err := NewMJPEGReader(f)
	if err != nil {
		t.Fatalf("NewMJPEGReader: %v", err)
	}
	wantHdr := MJPEGHeader{Size: types.Size{Width: 720, Height: 960}, FPS: 30}
	if diff := cmp.Diff(wantHdr, r.Header); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}

	var got []MJPEGFrame
	for {
		fr, err := r.Next()
		if err != nil {
			break
		}
		got = append(got, fr)
	}
	want := []MJPEGFrame{
		{EpochMillis: 1700000000123, Data: payloads[0]},
		{EpochMillis: 1700000000156, Data: payloads[1]},
		{EpochMillis: 1700000000189, Data: []byte{}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("frames mismatch (-want +got):\n%s", diff)
	}

	hdr, n, err := CountMJPEGFrames(path)
	if err != nil || n != 3 || hdr.FPS != 30 {
		t.Errorf("CountMJPEGFrames = %+v, %d, %v", hdr, n, err)
	}
}

func TestMJPEG_RefusesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "RGB.mjpeg")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewMJPEG(Options{Path: path, Size: types.Size{Width: 1, Height: 1}}); err == nil {
		t.Fatal("expected error for existing file")
	}
}

func TestMJPEG_AppendAfterFinish(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Depth.mjpeg")
	enc, err := NewMJPEG(Options{Path: path, Size: types.Size{Width: 4, Height: 4}})
	if err != nil {
		t.Fatalf("NewMJPEG: %v", err)
	}
	enc.MarkFinished()
	enc.MarkFinished() // idempotent

	if enc.Ready() {
		t.Error("finished encoder must not be ready")
	}
	if err := enc.Append([]byte{1}, time.Now()); !errors.Is(err, ErrFinished) {
		t.Errorf("Append = %v, want ErrFinished", err)
	}
	if err := <-enc.Finalize(); err != nil {
		t.Errorf("Finalize: %v", err)
	}
	// A second Finalize still observes the result.
	if err := <-enc.Finalize(); err != nil {
		t.Errorf("second Finalize: %v", err)
	}
}

func TestQueue_FullQueueIsNotReady(t *testing.T) {
	release := make(chan struct{})
	var written [][]byte
	q := startQueue(2,
		func(f queuedFrame) error {
			<-release
			written = append(written, f.data)
			return nil
		},
		func() error { return nil },
	)

	// The writer takes the first frame and blocks; two more fill the queue.
	if err := q.Append([]byte{1}, time.Time{}); err != nil {
		t.Fatalf("Append 1: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for len(q.frames) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	for i := 2; i <= 3; i++ {
		if err := q.Append([]byte{byte(i)}, time.Time{}); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	if q.Ready() {
		t.Error("full queue must not be ready")
	}
	if err := q.Append([]byte{4}, time.Time{}); !errors.Is(err, ErrNotReady) {
		t.Errorf("Append on full queue = %v, want ErrNotReady", err)
	}

	close(release)
	q.MarkFinished()
	if err := <-q.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if diff := cmp.Diff([][]byte{{1}, {2}, {3}}, written); diff != "" {
		t.Errorf("written mismatch (-want +got):\n%s", diff)
	}
}

func TestQueue_WriteErrorSurfacesInFinalize(t *testing.T) {
	boom := errors.New("disk full")
	finished := false
	q := startQueue(4,
		func(queuedFrame) error { return boom },
		func() error { finished = true; return nil },
	)
	_ = q.Append([]byte{1}, time.Time{})
	q.MarkFinished()

	err := <-q.Finalize()
	if !errors.Is(err, boom) {
		t.Errorf("Finalize = %v, want %v", err, boom)
	}
	if !finished {
		t.Error("finish must run even after a write error")
	}
}

func TestNewFactory(t *testing.T) {
	for _, backend := range []string{"", BackendMJPEG, BackendFFmpeg} {
		if _, err := NewFactory(backend); err != nil {
			t.Errorf("NewFactory(%q): %v", backend, err)
		}
	}
	if _, err := NewFactory("avi"); err == nil {
		t.Error("expected error for unknown backend")
	}
	if Extension(BackendFFmpeg) != "mp4" || Extension(BackendMJPEG) != "mjpeg" {
		t.Error("unexpected extensions")
	}
}

func TestStubEncoder_NotReadyCountdown(t *testing.T) {
	s := NewStubEncoder()
	s.NotReadyFor = 3
	var accepted int
	for i := range 4 {
		if !s.Ready() {
			continue
		}
		if err := s.Append([]byte{byte(i)}, time.Time{}); err != nil {
			t.Fatalf("Append: %v", err)
		}
		accepted++
	}
	if accepted != 1 {
		t.Errorf("accepted = %d, want 1", accepted)
	}
	if got := s.Frames(); len(got) != 1 || got[0][0] != 3 {
		t.Errorf("frames = %v, want [[3]]", got)
	}
}

func TestAbort(t *testing.T) {
	stub := NewStubEncoder()
	Abort(stub)
	if !stub.Aborted() || !stub.Finished() {
		t.Errorf("stub aborted=%v finished=%v, want both", stub.Aborted(), stub.Finished())
	}

	// Encoders without Abort are marked finished.
	enc, err := NewMJPEG(Options{Path: filepath.Join(t.TempDir(), "RGB.mjpeg"), Size: types.Size{Width: 4, Height: 4}})
	if err != nil {
		t.Fatalf("NewMJPEG: %v", err)
	}
	Abort(enc)
	if err := enc.Append([]byte{1}, time.Now()); !errors.Is(err, ErrFinished) {
		t.Errorf("Append after Abort = %v, want ErrFinished", err)
	}
	if err := <-enc.Finalize(); err != nil {
		t.Errorf("Finalize: %v", err)
	}
}

func TestStubEncoder_FinalizeDelay(t *testing.T) {
	s := NewStubEncoder()
	s.FinalizeDelay = 20 * time.Millisecond
	done := s.Finalize()
	if s.Finalized() {
		t.Fatal("finalized before the delay elapsed")
	}
	if err := <-done; err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !s.Finalized() {
		t.Error("Finalized = false after the result was delivered")
	}
}
