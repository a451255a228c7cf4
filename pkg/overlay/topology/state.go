package topology

import "github.com/swessel1/overlay/pkg/overlay/wire"

// State is the per-process Topology State (spec.md §3). It is exclusive to
// the Control Loop: concurrent readers are not supported, and every
// mutation happens on the Control Loop's single goroutine, so no mutex
// guards it (spec.md §4.5, §5).
type State struct {
	// Ancestry is the ordered chain from the immediate parent (index 0)
	// up toward the root-most known ancestor. Empty iff this process is
	// root.
	Ancestry []*PeerRecord

	// Siblings is keyed by sibling ordinal; ordinals are pairwise
	// distinct by invariant 2.
	Siblings map[uint16]*PeerRecord

	// Children is keyed by listening address; not all need be
	// live-connected (terminal children exist but are never advertised).
	Children map[wire.PeerAddr]*PeerRecord

	// Generation is 0 if root, else Ancestry[0].Generation + 1.
	Generation uint16

	// SiblingNumber is this node's ordinal among its siblings; 0 if root.
	SiblingNumber uint16

	// Terminal is this process's immutable receive-only flag.
	Terminal bool

	// Key is the shared-secret string used for admission.
	Key string

	// TCPPort and MaxConn are listener configuration.
	TCPPort uint16
	MaxConn int

	nextSiblingNumber uint16
}

// New creates an empty Topology State for a root process (no parent, no
// siblings, no children, generation 0).
func New(terminal bool, key string, tcpPort uint16, maxConn int) *State {
	return &State{
		Siblings:          make(map[uint16]*PeerRecord),
		Children:          make(map[wire.PeerAddr]*PeerRecord),
		Terminal:          terminal,
		Key:               key,
		TCPPort:           tcpPort,
		MaxConn:           maxConn,
		nextSiblingNumber: 1,
	}
}

// IsRoot reports whether this process has no ancestors.
func (s *State) IsRoot() bool {
	return len(s.Ancestry) == 0
}

// Parent returns the immediate parent, or nil at the root.
func (s *State) Parent() *PeerRecord {
	if len(s.Ancestry) == 0 {
		return nil
	}
	return s.Ancestry[0]
}

// IsParent reports whether peer is this node's immediate parent -- the
// unique peer from whom topology updates are accepted (invariant 5).
func (s *State) IsParent(peer *PeerRecord) bool {
	parent := s.Parent()
	if parent == nil || peer == nil {
		return false
	}
	return parent.Key() == peer.Key()
}

// NextSiblingNumber returns the counter's current value then advances it,
// wrapping 65535 back to 1 (spec.md §4.5, §9 Open Question 1: the counter
// is never reset on role change, including after promotion).
func (s *State) NextSiblingNumber() uint16 {
	v := s.nextSiblingNumber
	if s.nextSiblingNumber == 65535 {
		s.nextSiblingNumber = 1
	} else {
		s.nextSiblingNumber++
	}
	return v
}

// RelayTargets returns the union of (parent, if any) and (all children,
// live-connected or not) minus originator. Passing a nil originator returns
// every relay target.
func (s *State) RelayTargets(originator *PeerRecord) []*PeerRecord {
	var targets []*PeerRecord
	excludes := func(p *PeerRecord) bool {
		return originator != nil && p.Key() == originator.Key()
	}
	if parent := s.Parent(); parent != nil && !excludes(parent) {
		targets = append(targets, parent)
	}
	for _, child := range s.Children {
		if !excludes(child) {
			targets = append(targets, child)
		}
	}
	return targets
}

// NonTerminalChildren returns every child that is not a terminal leaf --
// the set that gets advertised sibling announcements and topology pushes.
func (s *State) NonTerminalChildren() []*PeerRecord {
	var out []*PeerRecord
	for _, c := range s.Children {
		if !c.Terminal {
			out = append(out, c)
		}
	}
	return out
}

// AddChild inserts peer into Children, enforcing invariant 4
// (children.len() <= max_conn).
func (s *State) AddChild(peer *PeerRecord) error {
	if s.MaxConn > 0 && len(s.Children) >= s.MaxConn {
		return ErrMaxConnReached
	}
	s.Children[peer.Key()] = peer
	return nil
}

// RemoveChild deletes the child keyed by key, if present.
func (s *State) RemoveChild(key wire.PeerAddr) {
	delete(s.Children, key)
}

// ChildByConn finds the child record whose stream handle has the same
// address as conn, or nil if none does.
func (s *State) ChildByConn(conn interface{ Addr() wire.PeerAddr }) *PeerRecord {
	for _, c := range s.Children {
		if c.Conn != nil && sameConn(c.Conn, conn) {
			return c
		}
	}
	return nil
}

func sameConn(a, b interface{ Addr() wire.PeerAddr }) bool {
	return a.Addr() == b.Addr()
}

// AddSibling inserts or replaces the sibling entry for its ordinal
// (spec.md §4.6 tie-break iii: duplicate SIBLING_ADD for an already-known
// ordinal replaces the entry).
func (s *State) AddSibling(peer *PeerRecord) {
	s.Siblings[peer.SiblingNumber] = peer
}

// RemoveSibling deletes the sibling at ordinal num, if present; absent
// ordinals are ignored per spec.md §4.6.
func (s *State) RemoveSibling(num uint16) {
	delete(s.Siblings, num)
}

// ClearSiblings empties the sibling set, e.g. before a promotion or attach.
func (s *State) ClearSiblings() {
	s.Siblings = make(map[uint16]*PeerRecord)
}

// LowestSibling returns the sibling with the lowest ordinal, or nil if
// there are none.
func (s *State) LowestSibling() *PeerRecord {
	var lowest *PeerRecord
	for _, sib := range s.Siblings {
		if lowest == nil || sib.SiblingNumber < lowest.SiblingNumber {
			lowest = sib
		}
	}
	return lowest
}
