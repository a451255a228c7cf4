package transport

import (
	"fmt"
	"net"

	"github.com/pkg/errors"
	"github.com/swessel1/overlay/internal/log"
	"github.com/swessel1/overlay/pkg/overlay/event"
)

// Listener binds to a TCP port on all interfaces and accepts inbound
// connections, emitting an IncomingConnection event per accept. Grounded on
// original_source/include/TcpListener.h: bind at construction, explicit
// close, a dedicated accept loop.
type Listener struct {
	ln  net.Listener
	log log.Logger
}

// NewListener binds tcp_port on all interfaces. Bind failure is reported to
// the caller, who per spec.md §4.4/§7 treats it as fatal to the process.
func NewListener(port uint16, logger log.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, errors.Wrapf(err, "transport: failed to bind port %d", port)
	}
	return &Listener{ln: ln, log: logger}, nil
}

// Port reports the bound port, useful when NewListener was given port 0.
func (l *Listener) Port() uint16 {
	if tcpAddr, ok := l.ln.Addr().(*net.TCPAddr); ok {
		return uint16(tcpAddr.Port)
	}
	return 0
}

// Accept runs the blocking accept loop. Each accepted stream becomes a
// fresh PeerConn with zero topology attributes and an IncomingConnection
// event is emitted; a terminal accept error emits ListenFailed and returns.
// Intended to run in its own goroutine.
func (l *Listener) Accept(sink Sink) {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			l.log.Warnf("listener accept failed: %v", err)
			sink.Push(event.NewListenFailed(err))
			return
		}
		peer := NewInbound(conn, l.log)
		sink.Push(event.NewIncomingConnection(peer))
	}
}

// Close stops the listener, unblocking any in-progress Accept.
func (l *Listener) Close() error {
	return l.ln.Close()
}
