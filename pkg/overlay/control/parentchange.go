package control

import (
	"context"

	"github.com/swessel1/overlay/pkg/overlay/topology"
)

// parentChange implements spec.md §4.7's recovery procedure, triggered when
// PeerDisconnected reports the loss of ancestry[0]. It runs to completion
// inside the Control Loop's own goroutine; no other event is processed
// until it returns or the process terminates.
func (n *Node) parentChange(ctx context.Context) error {
	formerAncestry := n.state.Ancestry
	formerSiblings := n.state.Siblings
	selfIsCandidate := true
	for _, sib := range formerSiblings {
		if sib.SiblingNumber < n.state.SiblingNumber {
			selfIsCandidate = false
			break
		}
	}

	n.state.ClearSiblings()

	if selfIsCandidate {
		return n.promote(ctx, formerAncestry)
	}
	return n.attach(ctx, lowestOf(formerSiblings))
}

// lowestOf returns the sibling with the lowest ordinal from a snapshot
// map, or nil if empty. Unlike State.LowestSibling, this operates on a
// captured former-siblings map rather than live state, since parentChange
// clears live Siblings before selecting the attach target.
func lowestOf(siblings map[uint16]*topology.PeerRecord) *topology.PeerRecord {
	var lowest *topology.PeerRecord
	for _, sib := range siblings {
		if lowest == nil || sib.SiblingNumber < lowest.SiblingNumber {
			lowest = sib
		}
	}
	return lowest
}

// promote runs spec.md §4.7's promotion path: this node was the lowest
// sibling-numbered survivor, so it tries each former ancestor in turn
// (nearest first) as a new parent candidate, and falls back to becoming
// root if every attempt fails.
func (n *Node) promote(ctx context.Context, formerAncestry []*topology.PeerRecord) error {
	for i := 1; i < len(formerAncestry); i++ {
		candidate := formerAncestry[i]
		result, err := join(ctx, candidate.Key(), n.listeningPort, n.cfg.Terminal, n.cfg.Key, n.log, n.metrics)
		if err != nil {
			n.log.Warnf("promotion: handshake to ancestor %v failed: %v", candidate.Key(), err)
			continue
		}
		n.adoptJoinResult(result)
		n.startParentListen()
		n.relayPersonalizedNetTop()
		return nil
	}

	if n.cfg.Terminal {
		return ErrTerminalCannotBeRoot
	}

	n.state.Ancestry = nil
	n.state.Generation = 0
	n.state.SiblingNumber = 0
	n.log.Infof("promotion: no reachable ancestor, becoming root")
	n.relayPersonalizedNetTop()
	return nil
}

// attach runs spec.md §4.7's attach path: join the lowest-numbered sibling
// as the sole new ancestor. Failure here is fatal and non-retryable, per
// spec.md §4.7.
func (n *Node) attach(ctx context.Context, newParent *topology.PeerRecord) error {
	result, err := join(ctx, newParent.Key(), n.listeningPort, n.cfg.Terminal, n.cfg.Key, n.log, n.metrics)
	if err != nil {
		return err
	}
	n.adoptJoinResult(result)
	n.startParentListen()
	n.relayPersonalizedNetTop()
	return nil
}

func (n *Node) startParentListen() {
	parent := n.state.Parent()
	if parent == nil {
		return
	}
	n.conns[parent.Addr] = parent
	if pc, ok := parent.Conn.(listenable); ok {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			pc.Listen(n.bus)
		}()
	}
}
