package streaming

import (
	"errors"
	"testing"

	"github.com/NYU-robot-learning/AnySense/ipc"
	"github.com/NYU-robot-learning/AnySense/metrics"
	"github.com/NYU-robot-learning/AnySense/transport"
	"github.com/NYU-robot-learning/AnySense/types"
)

var (
	intrinsics = types.Intrinsics{Fx: 500, Fy: 500, Cx: 360, Cy: 480}
	pose       = types.Pose{Qw: 1, Tx: 0.5}
)

func payloads(seq uint64) *types.Payloads {
	return &types.Payloads{
		Seq:            seq,
		Color:          []byte("jpeg"),
		ColorSize:      types.DefaultViewport,
		Depth:          []byte("depth-jpeg"),
		DepthSize:      types.DefaultDepthViewport,
		Confidence:     []byte("png"),
		ConfidenceSize: types.DefaultDepthViewport,
	}
}

func TestSink_SendBeforeConnect(t *testing.T) {
	m := metrics.NewCollector()
	s := New(Options{Transport: &transport.StubTransport{}, Metrics: m})
	if s.SendFrame(payloads(1), intrinsics, pose) {
		t.Error("SendFrame before Connect should fail")
	}
	if got := m.Snapshot().SendFailures; got != 1 {
		t.Errorf("SendFailures = %d, want 1", got)
	}
}

func TestSink_DepthFieldsFollowConnectFlag(t *testing.T) {
	tests := []struct {
		name      string
		depth     bool
		wantDepth uint32
		wantConf  uint32
	}{
		{"depth available", true, 10, 3},
		{"depth unavailable", false, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &transport.StubTransport{}
			s := New(Options{Transport: tr})
			if err := s.Connect(t.Context(), tt.depth); err != nil {
				t.Fatalf("Connect: %v", err)
			}
			for i := range 5 {
				if !s.SendFrame(payloads(uint64(i)), intrinsics, pose) {
					t.Fatalf("SendFrame %d failed", i)
				}
			}
			for i, b := range tr.Packets() {
				pk, err := ipc.Decode(b)
				if err != nil {
					t.Fatalf("packet %d: %v", i, err)
				}
				if pk.Header.DepthSize != tt.wantDepth || pk.Header.ConfidenceSize != tt.wantConf {
					t.Errorf("packet %d depth/conf sizes = %d/%d, want %d/%d",
						i, pk.Header.DepthSize, pk.Header.ConfidenceSize, tt.wantDepth, tt.wantConf)
				}
				if !tt.depth && (pk.Header.DepthWidth != 0 || pk.Header.ConfidenceWidth != 0) {
					t.Errorf("packet %d carries depth dimensions", i)
				}
				if pk.Pose != pose || pk.Intrinsics != intrinsics {
					t.Errorf("packet %d pose/intrinsics mismatch", i)
				}
			}
		})
	}
}

func TestSink_FailedSendIsDroppedNotRetried(t *testing.T) {
	tr := &transport.StubTransport{FailSends: func(i int) bool { return i == 1 }}
	m := metrics.NewCollector()
	s := New(Options{Transport: tr, Metrics: m})
	if err := s.Connect(t.Context(), true); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	sent := []bool{
		s.SendFrame(payloads(1), intrinsics, pose),
		s.SendFrame(payloads(2), intrinsics, pose),
		s.SendFrame(payloads(3), intrinsics, pose),
	}
	if sent[0] != true || sent[1] != false || sent[2] != true {
		t.Errorf("sent = %v, want [true false true]", sent)
	}
	if tr.Attempts() != 3 {
		t.Errorf("Attempts = %d, want 3 (no retry)", tr.Attempts())
	}
	if len(tr.Packets()) != 2 {
		t.Fatalf("packets = %d, want 2", len(tr.Packets()))
	}

	snap := m.Snapshot()
	if snap.PacketsSent != 2 || snap.SendFailures != 1 {
		t.Errorf("sent/failures = %d/%d, want 2/1", snap.PacketsSent, snap.SendFailures)
	}
	if want := int64(2 * (ipc.PreambleSize + 4 + 10 + 3)); snap.BytesSent != want {
		t.Errorf("BytesSent = %d, want %d", snap.BytesSent, want)
	}
}

func TestSink_ConnectLifecycle(t *testing.T) {
	connectErr := errors.New("refused")
	s := New(Options{Transport: &transport.StubTransport{ConnectErr: connectErr}})
	if err := s.Connect(t.Context(), true); !errors.Is(err, connectErr) {
		t.Fatalf("Connect = %v, want wrapped refusal", err)
	}
	if s.Connected() {
		t.Fatal("failed Connect must leave the sink disconnected")
	}

	tr := &transport.StubTransport{}
	s = New(Options{Transport: tr})
	if err := s.Connect(t.Context(), true); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := s.Connect(t.Context(), false); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect = %v, want ErrAlreadyConnected", err)
	}
	if !s.Depth() {
		t.Error("depth flag must not change while connected")
	}
	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := s.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
	if c, d := tr.Calls(); c != 1 || d != 1 {
		t.Errorf("transport calls = %d/%d, want 1/1", c, d)
	}
}
