// Package transport provides the point-to-point links a streaming sink
// writes packets to.
//
// Transports are unreliable by contract: a failed Send is reported to the
// caller and never retried here. TCP drops its connection on a write error
// so later sends fail fast until the next Connect.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Kinds accepted by New.
const (
	KindTCP    = "tcp"
	KindUDP    = "udp"
	KindSerial = "serial"
	KindStub   = "stub"
)

// DefaultDialTimeout bounds Connect for network transports.
const DefaultDialTimeout = 5 * time.Second

// DefaultSerialBaud is used when no baud rate is configured.
const DefaultSerialBaud = 115200

// ErrNotConnected is returned by Send before Connect or after the link failed.
var ErrNotConnected = errors.New("transport not connected")

// Transport is a packet link to the receiving peer.
type Transport interface {
	// Connect opens the link. Connecting an open link is a no-op.
	Connect(ctx context.Context) error
	// Send writes one encoded packet.
	Send(packet []byte) error
	// Disconnect closes the link. Safe to call when not connected.
	Disconnect() error
}

// New constructs a transport by kind.
func New(kind, address string, baud int) (Transport, error) {
	switch kind {
	case KindTCP:
		return NewTCP(address), nil
	case KindUDP:
		return NewUDP(address), nil
	case KindSerial:
		return NewSerial(address, baud), nil
	case KindStub:
		return &StubTransport{}, nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q (want tcp, udp, serial or stub)", kind)
	}
}

// netLink is the shared connection handling for TCP and UDP.
type netLink struct {
	network string
	address string
	timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

func (l *netLink) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return nil
	}
	d := net.Dialer{Timeout: l.timeout}
	conn, err := d.DialContext(ctx, l.network, l.address)
	if err != nil {
		return fmt.Errorf("dial %s %s: %w", l.network, l.address, err)
	}
	l.conn = conn
	return nil
}

func (l *netLink) Disconnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}

// Addr returns the local address of the open connection, or nil.
func (l *netLink) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// TCP streams packets back to back over one connection.
type TCP struct {
	netLink
}

// NewTCP creates an unconnected TCP transport.
func NewTCP(address string) *TCP {
	return &TCP{netLink{network: "tcp", address: address, timeout: DefaultDialTimeout}}
}

// Send writes the whole packet. On error the connection is closed.
func (t *TCP) Send(packet []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ErrNotConnected
	}
	if _, err := t.conn.Write(packet); err != nil {
		_ = t.conn.Close()
		t.conn = nil
		return fmt.Errorf("tcp write: %w", err)
	}
	return nil
}

// UDP sends each packet as a single datagram.
type UDP struct {
	netLink
}

// NewUDP creates an unconnected UDP transport.
func NewUDP(address string) *UDP {
	return &UDP{netLink{network: "udp", address: address, timeout: DefaultDialTimeout}}
}

// Send writes one datagram. A short write is an error.
func (u *UDP) Send(packet []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return ErrNotConnected
	}
	n, err := u.conn.Write(packet)
	if err != nil {
		return fmt.Errorf("udp write: %w", err)
	}
	if n != len(packet) {
		return fmt.Errorf("udp write: short datagram %d/%d bytes", n, len(packet))
	}
	return nil
}

// OpenFunc opens a serial port. Replaced in tests.
type OpenFunc func(name string, mode *serial.Mode) (serial.Port, error)

// Serial writes packets to a serial device at a fixed baud rate.
type Serial struct {
	name string
	mode *serial.Mode
	open OpenFunc

	mu   sync.Mutex
	port serial.Port
}

// NewSerial creates an unopened serial transport. baud <= 0 uses
// DefaultSerialBaud.
func NewSerial(name string, baud int) *Serial {
	if baud <= 0 {
		baud = DefaultSerialBaud
	}
	return &Serial{
		name: name,
		mode: &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
		open: serial.Open,
	}
}

// WithOpener overrides how the port is opened.
func (s *Serial) WithOpener(open OpenFunc) *Serial {
	s.open = open
	return s
}

// Baud returns the configured baud rate.
func (s *Serial) Baud() int {
	return s.mode.BaudRate
}

// Connect opens the port. The context is only checked before opening.
func (s *Serial) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		return nil
	}
	port, err := s.open(s.name, s.mode)
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", s.name, err)
	}
	s.port = port
	return nil
}

// Send writes the packet to the port.
func (s *Serial) Send(packet []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return ErrNotConnected
	}
	for off := 0; off < len(packet); {
		n, err := s.port.Write(packet[off:])
		if err != nil {
			return fmt.Errorf("serial write: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("serial write: no progress at %d/%d bytes", off, len(packet))
		}
		off += n
	}
	return nil
}

// Disconnect closes the port.
func (s *Serial) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}
