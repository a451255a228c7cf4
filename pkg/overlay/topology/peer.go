// Package topology implements the Topology State component (C5): the
// in-memory model of ancestry, siblings, and children, with its six
// invariants (spec.md §3). Grounded on
// original_source/include/NetworkStructure.h and Node.h.
package topology

import (
	"github.com/swessel1/overlay/pkg/overlay/event"
	"github.com/swessel1/overlay/pkg/overlay/wire"
)

// PeerRecord is a peer's position in this process's view of the tree, plus
// its (possibly absent) stream handle. Grounded on original_source's Node
// class: address, stream, generation, sibling ordinal, terminality,
// listening port.
type PeerRecord struct {
	// Addr is the peer's network address (IPv4 + ephemeral source port
	// for an established connection, or IPv4 + listening port if the
	// record was built purely from a topology payload and never
	// connected directly).
	Addr wire.PeerAddr

	// ListeningPort is the port the peer accepts inbound connections on;
	// distinct from Addr.Port for an existing inbound connection, whose
	// Addr carries the ephemeral source port (spec.md §3).
	ListeningPort uint16

	// Generation is this peer's distance from the root; 0 = root.
	Generation uint16

	// SiblingNumber is this peer's ordinal among its siblings; 0 means
	// root/unassigned.
	SiblingNumber uint16

	// Terminal peers never appear in any other node's sibling list and
	// are never parent candidates during recovery.
	Terminal bool

	// Conn is the stream handle, absent (nil) until opened.
	Conn event.Peer
}

// Key identifies a PeerRecord by its listening address -- the address a
// peer would be reachable at for a fresh connection, which is stable across
// an individual TCP session's ephemeral source port. Used as the map key
// for siblings and children.
func (p *PeerRecord) Key() wire.PeerAddr {
	return wire.PeerAddr{IP: p.Addr.IP, Port: p.ListeningPort}
}

// IsConnected reports whether the record currently owns an open stream.
func (p *PeerRecord) IsConnected() bool {
	return p != nil && p.Conn != nil
}
