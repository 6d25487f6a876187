// Package position contains the Position type, used to point at a location
// in an append-only event log, such as the progress of a stream consumer.
package position

import (
	"fmt"
	"math"
)

var (
	// Start is the origin of the event log, used when no progress has been made yet.
	Start = Position{}

	// End is the farthest addressable location of the event log.
	End = Position{Commit: math.MaxUint64, Prepare: math.MaxUint64}
)

// Position is a location in the event log, expressed as a commit offset
// and a prepare offset of the transaction that wrote the event.
//
// Position has value semantics and can be compared using ==.
type Position struct {
	Commit  uint64
	Prepare uint64
}

// Compare returns -1 if p comes before other in the log, 1 if it comes after,
// or 0 if they point at the same location.
func (p Position) Compare(other Position) int {
	switch {
	case p.Commit < other.Commit:
		return -1
	case p.Commit > other.Commit:
		return 1
	case p.Prepare < other.Prepare:
		return -1
	case p.Prepare > other.Prepare:
		return 1
	default:
		return 0
	}
}

// Less reports whether p comes strictly before other.
func (p Position) Less(other Position) bool {
	return p.Compare(other) < 0
}

// String returns the "C:<commit>/P:<prepare>" representation of the Position.
func (p Position) String() string {
	return fmt.Sprintf("C:%d/P:%d", p.Commit, p.Prepare)
}

// Parse reads a Position from its String representation.
func Parse(s string) (Position, error) {
	var p Position

	if _, err := fmt.Sscanf(s, "C:%d/P:%d", &p.Commit, &p.Prepare); err != nil {
		return Start, fmt.Errorf("position.Parse: invalid position %q, %w", s, err)
	}

	return p, nil
}
