package topology

import (
	"math/rand"
	"testing"

	"github.com/swessel1/overlay/pkg/overlay/wire"
)

// TestState_InvariantsHoldAcrossRandomJoinLeaveSequences drives many
// randomized child/sibling add-remove sequences against a single State and
// asserts that CheckInvariants (invariants 1-4 of spec.md §3) reports no
// violation after every mutation, per spec.md §8's invariant property test.
func TestState_InvariantsHoldAcrossRandomJoinLeaveSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for trial := 0; trial < 50; trial++ {
		s := New(false, "k", 26005, 32)
		s.Ancestry = []*PeerRecord{{Addr: addr(1, 26005), ListeningPort: 26005}}
		s.Generation = 1

		var liveChildren []wire.PeerAddr

		for step := 0; step < 200; step++ {
			switch rng.Intn(4) {
			case 0: // admit a child
				port := uint16(30000 + rng.Intn(5000))
				ip := uint32(rng.Intn(200) + 2)
				rec := &PeerRecord{
					Addr:          addr(ip, port),
					ListeningPort: port,
					Terminal:      rng.Intn(3) == 0,
				}
				if err := s.AddChild(rec); err == nil {
					liveChildren = append(liveChildren, rec.Key())
					if !rec.Terminal {
						rec.SiblingNumber = s.NextSiblingNumber()
					}
				}
			case 1: // remove a child
				if len(liveChildren) > 0 {
					i := rng.Intn(len(liveChildren))
					s.RemoveChild(liveChildren[i])
					liveChildren = append(liveChildren[:i], liveChildren[i+1:]...)
				}
			case 2: // learn a sibling
				num := uint16(rng.Intn(5) + 1)
				s.AddSibling(&PeerRecord{
					Addr:          addr(uint32(rng.Intn(200)+2), 40000),
					SiblingNumber: num,
				})
			case 3: // forget a sibling
				num := uint16(rng.Intn(5) + 1)
				s.RemoveSibling(num)
			}

			if violations := s.CheckInvariants(); len(violations) != 0 {
				t.Fatalf("trial %d step %d: invariant violations: %v", trial, step, violations)
			}
		}
	}
}

// TestState_SiblingNumberMonotonicUntilWrap covers spec.md §8's
// sibling-number monotonicity property on a root admitting a long run of
// children.
func TestState_SiblingNumberMonotonicUntilWrap(t *testing.T) {
	s := New(false, "k", 26005, 0)
	s.nextSiblingNumber = 65533

	var got []uint16
	for i := 0; i < 5; i++ {
		got = append(got, s.NextSiblingNumber())
	}

	want := []uint16{65533, 65534, 65535, 1, 2}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("index %d: got %d want %d (sequence %v)", i, got[i], w, got)
		}
	}
}

// TestState_RelayTargets_NeverIncludesBothAncestorAndChildForSamePeer
// covers spec.md §8's relay-targets property on a constructed state where a
// peer address cannot coincide between the ancestry and children sets by
// construction (disjoint address ranges), asserting RelayTargets never
// duplicates a peer and always excludes the originator.
func TestState_RelayTargets_NeverIncludesBothAncestorAndChildForSamePeer(t *testing.T) {
	s := New(false, "k", 26005, 10)
	parent := &PeerRecord{Addr: addr(1, 26005), ListeningPort: 26005}
	s.Ancestry = []*PeerRecord{parent}
	s.Generation = 1

	child := &PeerRecord{Addr: addr(2, 26006), ListeningPort: 26006}
	if err := s.AddChild(child); err != nil {
		t.Fatalf("AddChild: %v", err)
	}

	targets := s.RelayTargets(nil)
	seen := make(map[wire.PeerAddr]int)
	for _, tgt := range targets {
		seen[tgt.Key()]++
	}
	for key, count := range seen {
		if count > 1 {
			t.Fatalf("peer %v appeared %d times in relay targets", key, count)
		}
	}

	excluded := s.RelayTargets(parent)
	for _, tgt := range excluded {
		if tgt.Key() == parent.Key() {
			t.Fatalf("originator must never appear in its own relay targets")
		}
	}
}
