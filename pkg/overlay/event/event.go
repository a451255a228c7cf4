// Package event defines the tagged-union Event type pushed onto the Event
// Bus by peer connections and the listener, and drained by the Control
// Loop. This recasts the source's base-event-class-plus-flag-enum design
// as a single struct carrying a Kind discriminant, so the
// Control Loop's dispatch is an exhaustive switch rather than a type
// assertion chain.
package event

import "github.com/swessel1/overlay/pkg/overlay/wire"

// Kind discriminates which fields of an Event are meaningful.
type Kind int

const (
	// IncomingConnection fires once per accepted inbound stream, before
	// any handshake has taken place.
	IncomingConnection Kind = iota

	// PeerDisconnected fires when a peer's stream closes, whether because
	// the remote end closed it or because a read/write failed.
	PeerDisconnected

	// MessageReceived fires once per frame successfully decoded off a
	// peer's stream.
	MessageReceived

	// ListenFailed fires when the listener's accept loop fails, including
	// when the listener is closed; the Control Loop logs it and accepts no
	// further inbound connections. A bind failure is not an event: it is
	// returned by transport.NewListener.
	ListenFailed
)

// Peer is the minimal surface the Control Loop needs for any peer
// mentioned in an Event: enough to send to it, close it, and identify it.
// transport.PeerConn implements this; defining it here (rather than
// depending on the transport package) keeps event free of a dependency on
// transport, so transport can depend on event without a cycle.
type Peer interface {
	Addr() wire.PeerAddr
	Send(wire.Frame) error
	Close() error
}

// Event is the single tagged-union type drained by the Control Loop.
type Event struct {
	Kind  Kind
	Peer  Peer
	Frame wire.Frame
	Err   error
}

func NewIncomingConnection(peer Peer) Event {
	return Event{Kind: IncomingConnection, Peer: peer}
}

func NewPeerDisconnected(peer Peer) Event {
	return Event{Kind: PeerDisconnected, Peer: peer}
}

func NewMessageReceived(peer Peer, frame wire.Frame) Event {
	return Event{Kind: MessageReceived, Peer: peer, Frame: frame}
}

func NewListenFailed(err error) Event {
	return Event{Kind: ListenFailed, Err: err}
}
