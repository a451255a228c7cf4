// Package transport implements the Peer Connection (C3) and Listener (C4)
// components: one owned byte stream per remote peer, and the accept loop
// that turns inbound connections into fresh, not-yet-admitted Peer
// Connections. In the shape of ReliableTransport's poll/consume split,
// generalized from a broadcast-group abstraction to a point-to-point TCP
// stream per peer, and grounded on original_source's TcpListener.h/.cpp
// for bind/accept lifecycle.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/swessel1/overlay/internal/log"
	"github.com/swessel1/overlay/pkg/overlay/event"
	"github.com/swessel1/overlay/pkg/overlay/wire"
)

// Sink is anything that can accept events, satisfied by *bus.Bus. Defined
// here (rather than importing package bus) to keep transport from depending
// upward on the bus package; event already supplies the Peer interface
// transport implements.
type Sink interface {
	Push(event.Event)
}

const (
	// ConnectRetries and ConnectRetryDelay implement spec.md §4.3's
	// retry-with-fixed-delay policy for Open().
	ConnectRetries    = 3
	ConnectRetryDelay = 3 * time.Second
)

// PeerConn owns one outbound or inbound byte stream to a remote peer. It
// never mutates topology state; it only emits Events onto whatever Sink
// Listen was given (spec.md §4.3).
type PeerConn struct {
	mu   sync.Mutex
	conn net.Conn

	addr          wire.PeerAddr
	listeningPort uint16
	terminal      bool

	log log.Logger
}

// NewOutbound creates a PeerConn for a connection this process will
// initiate via Open.
func NewOutbound(addr wire.PeerAddr, logger log.Logger) *PeerConn {
	return &PeerConn{addr: addr, log: logger}
}

// NewInbound wraps an already-accepted net.Conn. Its topology attributes
// (listening port, terminality) are zero until the handshake fills them in,
// matching spec.md §4.4: "each accepted stream becomes a fresh Peer
// Connection with zero topology attributes."
func NewInbound(conn net.Conn, logger log.Logger) *PeerConn {
	addr := parseRemoteAddr(conn)
	return &PeerConn{conn: conn, addr: addr, log: logger}
}

func parseRemoteAddr(conn net.Conn) wire.PeerAddr {
	tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok || tcpAddr.IP.To4() == nil {
		return wire.PeerAddr{}
	}
	ip4 := tcpAddr.IP.To4()
	return wire.PeerAddr{
		IP:   uint32(ip4[0])<<24 | uint32(ip4[1])<<16 | uint32(ip4[2])<<8 | uint32(ip4[3]),
		Port: uint16(tcpAddr.Port),
	}
}

// Addr implements event.Peer.
func (p *PeerConn) Addr() wire.PeerAddr {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addr
}

// SetListeningAttrs records the peer's advertised listening port and
// terminality once learned from a CONN_REQ or topology payload.
func (p *PeerConn) SetListeningAttrs(listeningPort uint16, terminal bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeningPort = listeningPort
	p.terminal = terminal
}

func (p *PeerConn) ListeningPort() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listeningPort
}

func (p *PeerConn) Terminal() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminal
}

// Open closes any existing stream, then dials the peer's address, retrying
// up to ConnectRetries times with a ConnectRetryDelay fixed delay before
// giving up (spec.md §4.3).
func (p *PeerConn) Open(ctx context.Context) error {
	p.mu.Lock()
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	addr := p.addr
	p.mu.Unlock()

	dialAddr := fmt.Sprintf("%s:%d", ipToString(addr.IP), addr.Port)

	var lastErr error
	for attempt := 0; attempt <= ConnectRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(ConnectRetryDelay):
			}
		}
		dialer := net.Dialer{}
		conn, err := dialer.DialContext(ctx, "tcp", dialAddr)
		if err == nil {
			p.mu.Lock()
			p.conn = conn
			p.mu.Unlock()
			return nil
		}
		lastErr = err
		p.log.Warnf("connect attempt %d/%d to %s failed: %v", attempt+1, ConnectRetries+1, dialAddr, err)
	}
	return errors.Wrapf(lastErr, "transport: failed to connect to %s after %d attempts", dialAddr, ConnectRetries+1)
}

func ipToString(ip uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(ip>>24), byte(ip>>16), byte(ip>>8), byte(ip))
}

// Send synchronously writes one frame to the stream.
func (p *PeerConn) Send(frame wire.Frame) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return errors.New("transport: send on unopened connection")
	}
	_, err := frame.WriteTo(conn)
	if err != nil {
		return errors.Wrap(err, "transport: send failed")
	}
	return nil
}

// Close shuts down the underlying stream. Safe to call more than once.
func (p *PeerConn) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

// Receive blocks for exactly one frame without looping. This is the only
// receive path that bypasses a Sink, used solely by the join handshake
// (spec.md §4.7), which is explicitly the one bus-bypassing, synchronous
// code path in the whole design.
func (p *PeerConn) Receive() (wire.Frame, error) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return wire.Frame{}, errors.New("transport: receive on unopened connection")
	}
	return wire.ReadFrame(conn)
}

// Listen runs the blocking receive loop described in spec.md §4.3: on each
// iteration, receive one frame and push MessageReceived; on failure, push
// PeerDisconnected, close the stream, and return. Intended to run in its
// own goroutine -- the "dedicated read task" of spec.md §4.6.
func (p *PeerConn) Listen(sink Sink) {
	for {
		p.mu.Lock()
		conn := p.conn
		p.mu.Unlock()
		if conn == nil {
			sink.Push(event.NewPeerDisconnected(p))
			return
		}

		frame, err := wire.ReadFrame(conn)
		if err != nil {
			p.log.Debugf("peer %s disconnected: %v", p.Addr(), err)
			_ = p.Close()
			sink.Push(event.NewPeerDisconnected(p))
			return
		}
		sink.Push(event.NewMessageReceived(p, frame))
	}
}
