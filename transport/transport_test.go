package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.bug.st/serial"
)

func TestNew(t *testing.T) {
	tests := []struct {
		kind    string
		want    string
		wantErr bool
	}{
		{KindTCP, "*transport.TCP", false},
		{KindUDP, "*transport.UDP", false},
		{KindSerial, "*transport.Serial", false},
		{KindStub, "*transport.StubTransport", false},
		{"carrier-pigeon", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			tr, err := New(tt.kind, "127.0.0.1:0", 0)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if got := fmt.Sprintf("%T", tr); got != tt.want {
				t.Errorf("type = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTCP_SendBackToBack(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		b, _ := io.ReadAll(conn)
		received <- b
	}()

	tr := NewTCP(ln.Addr().String())
	if err := tr.Send([]byte("early")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send before Connect = %v, want ErrNotConnected", err)
	}
	if err := tr.Connect(t.Context()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := tr.Connect(t.Context()); err != nil {
		t.Fatalf("second Connect should be a no-op: %v", err)
	}
	for _, p := range []string{"one", "two", "three"} {
		if err := tr.Send([]byte(p)); err != nil {
			t.Fatalf("Send(%s): %v", p, err)
		}
	}
	if err := tr.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	select {
	case b := <-received:
		if string(b) != "onetwothree" {
			t.Errorf("received %q", b)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for server")
	}

	if err := tr.Disconnect(); err != nil {
		t.Errorf("Disconnect when closed: %v", err)
	}
}

func TestTCP_WriteErrorDropsConnection(t *testing.T) {
	client, server := net.Pipe()
	server.Close()
	client.Close()

	tr := NewTCP("unused")
	tr.conn = client

	if err := tr.Send([]byte("x")); err == nil {
		t.Fatal("Send on closed pipe should fail")
	}
	if tr.Addr() != nil {
		t.Error("connection should be dropped after a write error")
	}
	if err := tr.Send([]byte("y")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send after failure = %v, want ErrNotConnected", err)
	}
}

func TestTCP_ConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	if err := NewTCP(addr).Connect(t.Context()); err == nil {
		t.Error("Connect to closed port should fail")
	}
}

func TestUDP_OneDatagramPerPacket(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer pc.Close()

	tr := NewUDP(pc.LocalAddr().String())
	if err := tr.Connect(t.Context()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Disconnect()

	packets := [][]byte{[]byte("first"), bytes.Repeat([]byte{7}, 1000)}
	for _, p := range packets {
		if err := tr.Send(p); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	_ = pc.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 2048)
	for i, want := range packets {
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			t.Fatalf("ReadFrom %d: %v", i, err)
		}
		if !bytes.Equal(buf[:n], want) {
			t.Errorf("datagram %d = %d bytes, want %d", i, n, len(want))
		}
	}
}

type fakePort struct {
	bytes.Buffer
	chunk    int
	writeErr error
	closed   bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	if p.chunk > 0 && len(b) > p.chunk {
		b = b[:p.chunk]
	}
	return p.Buffer.Write(b)
}
func (p *fakePort) SetMode(mode *serial.Mode) error                      { return nil }
func (p *fakePort) Drain() error                                         { return nil }
func (p *fakePort) ResetInputBuffer() error                              { return nil }
func (p *fakePort) ResetOutputBuffer() error                             { return nil }
func (p *fakePort) SetDTR(dtr bool) error                                { return nil }
func (p *fakePort) SetRTS(rts bool) error                                { return nil }
func (p *fakePort) GetModemStatusBits() (*serial.ModemStatusBits, error) { return nil, nil }
func (p *fakePort) SetReadTimeout(t time.Duration) error                 { return nil }
func (p *fakePort) Break(time.Duration) error                            { return nil }
func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func TestSerial_OpensWithConfiguredMode(t *testing.T) {
	port := &fakePort{chunk: 3}
	var gotName string
	var gotMode serial.Mode
	tr := NewSerial("/dev/ttyUSB0", 57600).WithOpener(func(name string, mode *serial.Mode) (serial.Port, error) {
		gotName, gotMode = name, *mode
		return port, nil
	})

	if err := tr.Send([]byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send before Connect = %v", err)
	}
	if err := tr.Connect(t.Context()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	want := serial.Mode{BaudRate: 57600, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}
	if gotName != "/dev/ttyUSB0" {
		t.Errorf("name = %q", gotName)
	}
	if diff := cmp.Diff(want, gotMode); diff != "" {
		t.Errorf("mode mismatch (-want +got):\n%s", diff)
	}

	if err := tr.Send([]byte("packet-bytes")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if port.String() != "packet-bytes" {
		t.Errorf("port received %q", port.String())
	}
	if err := tr.Disconnect(); err != nil || !port.closed {
		t.Errorf("Disconnect = %v, closed = %v", err, port.closed)
	}
}

func TestSerial_Errors(t *testing.T) {
	openErr := errors.New("no such device")
	tr := NewSerial("/dev/missing", 0).WithOpener(func(string, *serial.Mode) (serial.Port, error) {
		return nil, openErr
	})
	if tr.Baud() != DefaultSerialBaud {
		t.Errorf("Baud = %d, want %d", tr.Baud(), DefaultSerialBaud)
	}
	if err := tr.Connect(t.Context()); !errors.Is(err, openErr) {
		t.Errorf("Connect = %v, want wrapped open error", err)
	}

	writeErr := errors.New("unplugged")
	tr = NewSerial("/dev/ttyACM0", 9600).WithOpener(func(string, *serial.Mode) (serial.Port, error) {
		return &fakePort{writeErr: writeErr}, nil
	})
	if err := tr.Connect(t.Context()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := tr.Send([]byte("x")); !errors.Is(err, writeErr) {
		t.Errorf("Send = %v, want wrapped write error", err)
	}
}

func TestStubTransport_FailureInjection(t *testing.T) {
	s := &StubTransport{FailNext: 1, FailSends: func(i int) bool { return i == 3 }}
	if err := s.Send([]byte("a")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send before Connect = %v", err)
	}
	if err := s.Connect(t.Context()); err != nil {
		t.Fatal(err)
	}

	var errs []bool
	for _, p := range []string{"b", "c", "d", "e"} {
		errs = append(errs, s.Send([]byte(p)) != nil)
	}
	if diff := cmp.Diff([]bool{true, false, true, false}, errs); diff != "" {
		t.Errorf("failure pattern mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]byte{[]byte("c"), []byte("e")}, s.Packets()); diff != "" {
		t.Errorf("packets mismatch (-want +got):\n%s", diff)
	}
	if s.Attempts() != 5 {
		t.Errorf("Attempts = %d, want 5", s.Attempts())
	}
	_ = s.Disconnect()
	if c, d := s.Calls(); c != 1 || d != 1 || s.Connected() {
		t.Errorf("Calls = %d/%d, connected = %v", c, d, s.Connected())
	}
}
