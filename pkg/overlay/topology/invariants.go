package topology

import "github.com/pkg/errors"

// ErrMaxConnReached is returned by AddChild when invariant 4 would be
// violated (children.len() > max_conn).
var ErrMaxConnReached = errors.New("topology: max connections reached")

// Violation names one failed invariant from spec.md §3, for use in
// property-based tests that drive random join/leave sequences against the
// state and assert it stays consistent after every Control Loop turn.
type Violation string

const (
	ViolationGenerationAncestryMismatch Violation = "generation==0 iff ancestry empty"
	ViolationDuplicateSiblingOrdinal    Violation = "sibling ordinals must be pairwise distinct"
	ViolationTerminalAdvertised         Violation = "a terminal peer must never appear as a sibling"
	ViolationChildrenOverMax            Violation = "children must never exceed max_conn"
)

// CheckInvariants validates every invariant in spec.md §3 that can be
// checked from the state alone (invariants 5 and 6 are held by
// construction -- the Control Loop accepting NET_TOP only from ancestry[0]
// and its single-writer discipline -- rather than by scanning state here).
func (s *State) CheckInvariants() []Violation {
	var violations []Violation

	if (s.Generation == 0) != (len(s.Ancestry) == 0) {
		violations = append(violations, ViolationGenerationAncestryMismatch)
	}

	for num, sib := range s.Siblings {
		if num != sib.SiblingNumber {
			violations = append(violations, ViolationDuplicateSiblingOrdinal)
		}
		if sib.Terminal {
			violations = append(violations, ViolationTerminalAdvertised)
		}
	}
	if _, clash := s.Siblings[s.SiblingNumber]; clash && s.SiblingNumber != 0 {
		violations = append(violations, ViolationDuplicateSiblingOrdinal)
	}

	if s.MaxConn > 0 && len(s.Children) > s.MaxConn {
		violations = append(violations, ViolationChildrenOverMax)
	}

	return violations
}
