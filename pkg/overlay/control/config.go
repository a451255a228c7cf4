// Package control implements the Control Loop (C6) and the join handshake
// plus parent-change recovery (C7): the single consumer of the Event Bus,
// and the one synchronous code path that mutates Topology State outside of
// it. In the shape of Peer.poll/process/reprocess and Unity.run/poll/process,
// and grounded on original_source's NetworkStructure.cpp/Node.cpp for the
// exact handshake and parent-change semantics.
package control

import (
	"github.com/swessel1/overlay/internal/log"
	"github.com/swessel1/overlay/internal/metrics"
	"github.com/swessel1/overlay/pkg/overlay/wire"
)

// Config bundles everything needed to start a single overlay process.
// Mirrors the process interface of spec.md §6: a root node has no
// ParentAddr, a child node does.
type Config struct {
	// Key is the shared admission secret.
	Key string

	// Terminal marks a receive-only leaf: no Listener, never a parent
	// candidate during recovery.
	Terminal bool

	// TCPPort is the local listening port; ignored when Terminal.
	TCPPort uint16

	// MaxConn caps the number of children; 0 or less means no cap. It does
	// not imply Terminal here: cmd/overlay maps max-connections 0 to
	// Terminal before building a Config.
	MaxConn int

	// ParentAddr is nil for a root node, or the address to join for a
	// child node.
	ParentAddr *wire.PeerAddr

	// BusCapacity overrides bus.DefaultCapacity when > 0.
	BusCapacity int

	Logger  log.Logger
	Metrics *metrics.Collectors
}

func (c Config) logger() log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Noop()
}

func (c Config) metricsOrNoop() *metrics.Collectors {
	if c.Metrics != nil {
		return c.Metrics
	}
	return metrics.Noop()
}
