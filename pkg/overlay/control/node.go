package control

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/swessel1/overlay/internal/log"
	"github.com/swessel1/overlay/internal/metrics"
	"github.com/swessel1/overlay/pkg/overlay/bus"
	"github.com/swessel1/overlay/pkg/overlay/event"
	"github.com/swessel1/overlay/pkg/overlay/topology"
	"github.com/swessel1/overlay/pkg/overlay/transport"
	"github.com/swessel1/overlay/pkg/overlay/wire"
)

// ErrTerminalCannotBeRoot is the fatal condition of spec.md §4.7: if a
// terminal node's parent-change exhausts every ancestor candidate, it
// cannot self-promote to root.
var ErrTerminalCannotBeRoot = errors.New("control: terminal node cannot become root, parent-change failed")

// listenable is satisfied by *transport.PeerConn; asserting against it lets
// the Control Loop start the dedicated read task spec.md §4.6 calls for
// without control importing a narrower interface back into transport.
type listenable interface {
	Listen(sink transport.Sink)
}

// Node assembles the Event Bus (C1), Listener (C4), Topology State (C5) and
// Control Loop (C6/C7) into one running overlay process, in the shape of
// Unity as the top-level assembly and Peer as the poll/process/dispatch
// shape.
type Node struct {
	cfg      Config
	state    *topology.State
	bus      *bus.Bus
	listener *transport.Listener
	log      log.Logger
	metrics  *metrics.Collectors

	// conns indexes every live or pending stream by its connection-level
	// address (not the peer's advertised listening address), so an
	// incoming Event can be matched back to a PeerRecord in O(1). It
	// covers the parent connection, admitted children, and inbound
	// connections still awaiting their CONN_REQ.
	conns map[wire.PeerAddr]*topology.PeerRecord

	wg sync.WaitGroup

	listeningPort uint16
}

// New assembles a Node from cfg but does not yet open any connections or
// bind any port; call Start for that.
func New(cfg Config) *Node {
	state := topology.New(cfg.Terminal, cfg.Key, cfg.TCPPort, cfg.MaxConn)
	return &Node{
		cfg:     cfg,
		state:   state,
		bus:     bus.New(cfg.BusCapacity, cfg.metricsOrNoop().BusDepth),
		log:     cfg.logger(),
		metrics: cfg.metricsOrNoop(),
		conns:   make(map[wire.PeerAddr]*topology.PeerRecord),
	}
}

// State exposes the topology for read-only inspection by tests; per
// spec.md §4.5, genuine concurrent access must route through events, so
// this is safe to call only while the Control Loop is not running or from
// the Control Loop's own goroutine.
func (n *Node) State() *topology.State { return n.state }

// ListeningPort returns the port actually bound by Start, which may differ
// from cfg.TCPPort when it was 0 (OS-assigned, as used by tests). Zero for
// a terminal node, which never binds a listener.
func (n *Node) ListeningPort() uint16 { return n.listeningPort }

// Start performs the join handshake (if this is not a root node) and binds
// the listener (if this is not terminal). This is the one synchronous,
// bus-bypassing step of spec.md §4.7: it runs once, before the Control Loop
// is consuming events.
func (n *Node) Start(ctx context.Context) error {
	if !n.cfg.Terminal {
		ln, err := transport.NewListener(n.cfg.TCPPort, n.log)
		if err != nil {
			return err
		}
		n.listener = ln
		n.listeningPort = ln.Port()
		n.state.TCPPort = n.listeningPort
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.listener.Accept(n.bus)
		}()
	}

	if n.cfg.ParentAddr != nil {
		result, err := join(ctx, *n.cfg.ParentAddr, n.listeningPort, n.cfg.Terminal, n.cfg.Key, n.log, n.metrics)
		if err != nil {
			return err
		}
		n.adoptJoinResult(result)
	}

	if parent := n.state.Parent(); parent != nil {
		n.conns[parent.Addr] = parent
		if pc, ok := parent.Conn.(listenable); ok {
			n.wg.Add(1)
			go func() {
				defer n.wg.Done()
				pc.Listen(n.bus)
			}()
		}
	}

	return nil
}

func (n *Node) adoptJoinResult(r *joinResult) {
	n.state.Ancestry = r.ancestry
	n.state.Generation = r.generation
	n.state.SiblingNumber = r.siblingNum
	n.state.ClearSiblings()
	for _, sib := range r.siblings {
		n.state.AddSibling(sib)
	}
}

// Run drains the Event Bus until ctx is cancelled, dispatching each event
// per spec.md §4.6. This is the Control Loop: the sole mutator of Topology
// State once Start has returned.
func (n *Node) Run(ctx context.Context) error {
	for {
		e, err := n.bus.Next(ctx)
		if err != nil {
			return err
		}
		n.dispatch(ctx, e)
	}
}

// Shutdown closes the listener and every tracked connection. Exit code 0
// on clean shutdown is "not currently reachable" per spec.md §6, but the
// plumbing is still provided so callers that do manage to stop cleanly
// (e.g. tests) can.
func (n *Node) Shutdown() {
	if n.listener != nil {
		_ = n.listener.Close()
	}
	for _, rec := range n.conns {
		if rec.Conn != nil {
			_ = rec.Conn.Close()
		}
	}
	n.wg.Wait()
}

func (n *Node) dispatch(ctx context.Context, e event.Event) {
	switch e.Kind {
	case event.IncomingConnection:
		n.handleIncomingConnection(e.Peer)
	case event.MessageReceived:
		n.handleMessageReceived(ctx, e.Peer, e.Frame)
	case event.PeerDisconnected:
		n.handlePeerDisconnected(ctx, e.Peer)
	case event.ListenFailed:
		n.log.Errorf("listener failed, no further inbound connections will be accepted: %v", e.Err)
	default:
		n.log.Warnf("unknown event kind %d", e.Kind)
	}
	n.sampleMetrics()
}

func (n *Node) sampleMetrics() {
	n.metrics.Children.Set(float64(len(n.state.Children)))
	n.metrics.Siblings.Set(float64(len(n.state.Siblings)))
}

// handleIncomingConnection spawns the dedicated read task for a freshly
// accepted peer (spec.md §4.6): the peer is not yet in Children; admission
// awaits its CONN_REQ.
func (n *Node) handleIncomingConnection(peer event.Peer) {
	rec := &topology.PeerRecord{Addr: peer.Addr(), Conn: peer}
	n.conns[peer.Addr()] = rec

	if l, ok := peer.(listenable); ok {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			l.Listen(n.bus)
		}()
	}
}

func (n *Node) handleMessageReceived(ctx context.Context, sender event.Peer, frame wire.Frame) {
	switch frame.Header {
	case wire.ConnReq:
		n.handleConnReq(sender, frame.Payload)
	case wire.SiblingAdd:
		n.handleSiblingAdd(frame.Payload)
	case wire.SiblingRmv:
		n.handleSiblingRmv(frame.Payload)
	case wire.NetTop:
		n.handleNetTop(sender, frame.Payload)
	default:
		n.log.Warnf("dropping message with unexpected header %v from %v", frame.Header, sender.Addr())
	}
}

func (n *Node) handleConnReq(sender event.Peer, payload []byte) {
	msg, err := wire.DecodeConnReq(payload)
	if err != nil {
		n.log.Warnf("malformed CONN_REQ from %v: %v", sender.Addr(), err)
		return
	}

	rec := n.conns[sender.Addr()]
	if rec == nil {
		rec = &topology.PeerRecord{Addr: sender.Addr(), Conn: sender}
		n.conns[sender.Addr()] = rec
	}

	if string(msg.Key) != n.state.Key {
		n.log.Warnf("rejecting CONN_REQ from %v: bad key", sender.Addr())
		_ = sender.Send(wire.EncodeConnBad())
		_ = sender.Close()
		delete(n.conns, sender.Addr())
		return
	}

	if n.cfg.MaxConn > 0 && len(n.state.Children) >= n.cfg.MaxConn {
		n.log.Warnf("rejecting CONN_REQ from %v: at max connections", sender.Addr())
		_ = sender.Send(wire.EncodeConnBad())
		_ = sender.Close()
		delete(n.conns, sender.Addr())
		return
	}

	siblingNum := n.state.NextSiblingNumber()
	rec.Terminal = msg.Terminal
	rec.ListeningPort = msg.ListeningPort
	rec.SiblingNumber = siblingNum
	rec.Generation = n.state.Generation + 1

	reply := wire.EncodeConnRep(wire.TopologyMessage{
		ParentGeneration:   n.state.Generation,
		AssignedSiblingNum: siblingNum,
		Ancestry:           ancestryToWire(n.state.Ancestry),
		Siblings:           childrenToSiblingWire(n.state.NonTerminalChildren()),
	})

	if err := sender.Send(reply); err != nil {
		n.log.Warnf("failed sending CONN_REP to %v: %v", sender.Addr(), err)
		delete(n.conns, sender.Addr())
		return
	}

	if !msg.Terminal {
		n.broadcastSiblingAdd(rec, nil)
	}

	if err := n.state.AddChild(rec); err != nil {
		n.log.Errorf("failed admitting %v as child: %v", sender.Addr(), err)
	}
}

func (n *Node) broadcastSiblingAdd(newSibling *topology.PeerRecord, exclude *topology.PeerRecord) {
	frame := wire.EncodeSiblingAdd(wire.SiblingAddMessage{
		Addr:          newSibling.Key(),
		SiblingNumber: newSibling.SiblingNumber,
	})
	for _, child := range n.state.NonTerminalChildren() {
		if exclude != nil && child.Key() == exclude.Key() {
			continue
		}
		if child.Key() == newSibling.Key() {
			continue
		}
		if child.Conn != nil {
			if err := child.Conn.Send(frame); err != nil {
				n.log.Warnf("failed relaying SIBLING_ADD to %v: %v", child.Addr, err)
			}
		}
	}
}

func (n *Node) handleSiblingAdd(payload []byte) {
	msg, err := wire.DecodeSiblingAdd(payload)
	if err != nil {
		n.log.Warnf("malformed SIBLING_ADD: %v", err)
		return
	}
	n.state.AddSibling(&topology.PeerRecord{
		Addr:          msg.Addr,
		ListeningPort: msg.Addr.Port,
		SiblingNumber: msg.SiblingNumber,
		Generation:    n.state.Generation,
	})
}

func (n *Node) handleSiblingRmv(payload []byte) {
	msg, err := wire.DecodeSiblingRmv(payload)
	if err != nil {
		n.log.Warnf("malformed SIBLING_RMV: %v", err)
		return
	}
	n.state.RemoveSibling(msg.SiblingNumber)
}

func (n *Node) handleNetTop(sender event.Peer, payload []byte) {
	parent := n.state.Parent()
	if parent == nil || parent.Addr != sender.Addr() {
		n.log.Debugf("ignoring NET_TOP from non-parent %v", sender.Addr())
		return
	}
	msg, err := wire.DecodeTopology(payload)
	if err != nil {
		n.log.Warnf("malformed NET_TOP: %v", err)
		return
	}

	n.state.ClearSiblings()
	n.state.Ancestry = n.state.Ancestry[:1]
	for i, a := range msg.Ancestry {
		n.state.Ancestry = append(n.state.Ancestry, &topology.PeerRecord{
			Addr:          a.Addr,
			ListeningPort: a.Addr.Port,
			Generation:    msg.ParentGeneration - uint16(i) - 1,
		})
	}
	n.state.Generation = msg.ParentGeneration + 1
	n.state.SiblingNumber = msg.AssignedSiblingNum
	for _, s := range msg.Siblings {
		n.state.AddSibling(&topology.PeerRecord{
			Addr:          s.Addr,
			ListeningPort: s.Addr.Port,
			SiblingNumber: s.SiblingNumber,
			Generation:    n.state.Generation,
		})
	}

	n.relayPersonalizedNetTop()
}

// relayPersonalizedNetTop implements spec.md §4.6's final step: after
// absorbing a NET_TOP from the parent, relay a per-child-personalised
// NET_TOP to each non-terminal child.
func (n *Node) relayPersonalizedNetTop() {
	children := n.state.NonTerminalChildren()
	for _, child := range children {
		var siblingsForChild []wire.SiblingEntry
		for _, other := range children {
			if other.Key() == child.Key() {
				continue
			}
			siblingsForChild = append(siblingsForChild, wire.SiblingEntry{
				Addr:          other.Key(),
				SiblingNumber: other.SiblingNumber,
			})
		}
		frame := wire.EncodeNetTop(wire.TopologyMessage{
			ParentGeneration:   n.state.Generation,
			AssignedSiblingNum: child.SiblingNumber,
			Ancestry:           ancestryToWire(n.state.Ancestry),
			Siblings:           siblingsForChild,
		})
		if child.Conn != nil {
			if err := child.Conn.Send(frame); err != nil {
				n.log.Warnf("failed relaying NET_TOP to %v: %v", child.Addr, err)
			}
		}
	}
}

func (n *Node) handlePeerDisconnected(ctx context.Context, peer event.Peer) {
	rec, known := n.conns[peer.Addr()]
	delete(n.conns, peer.Addr())

	parent := n.state.Parent()
	if parent != nil && parent.Addr == peer.Addr() {
		n.metrics.ParentChanges.Inc()
		if err := n.parentChange(ctx); err != nil {
			n.log.Fatalf("parent-change failed, terminating: %v", err)
		}
		return
	}

	if !known || rec == nil {
		return
	}

	if _, isChild := n.state.Children[rec.Key()]; isChild {
		n.state.RemoveChild(rec.Key())
		if !rec.Terminal {
			frame := wire.EncodeSiblingRmv(wire.SiblingRmvMessage{SiblingNumber: rec.SiblingNumber})
			for _, child := range n.state.NonTerminalChildren() {
				if child.Conn != nil {
					if err := child.Conn.Send(frame); err != nil {
						n.log.Warnf("failed relaying SIBLING_RMV to %v: %v", child.Addr, err)
					}
				}
			}
		}
	}
}

func ancestryToWire(ancestry []*topology.PeerRecord) []wire.AncestorEntry {
	out := make([]wire.AncestorEntry, 0, len(ancestry))
	for _, a := range ancestry {
		out = append(out, wire.AncestorEntry{Addr: a.Key()})
	}
	return out
}

func childrenToSiblingWire(children []*topology.PeerRecord) []wire.SiblingEntry {
	out := make([]wire.SiblingEntry, 0, len(children))
	for _, c := range children {
		out = append(out, wire.SiblingEntry{Addr: c.Key(), SiblingNumber: c.SiblingNumber})
	}
	return out
}
