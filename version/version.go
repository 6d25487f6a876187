// Package version contains types to express Event Stream versions,
// optimistic concurrency checks and stream read selectors.
package version

import "math"

// Version is the type to specify Event Stream versions.
// Versions should be starting from 1, as they represent the length of a single Event Stream.
type Version uint64

// End is the highest addressable Version, used to point at the newest record
// of an Event Stream regardless of its current length.
//
// It is capped to the int64 range so that SQL backends can bind it as a BIGINT.
const End Version = math.MaxInt64

// SelectFromEnd is a Selector value that will return the records of an Event Stream
// starting from the most recent one.
var SelectFromEnd = Selector{From: End}

// Selector specifies which slice of the Event Stream to select when reading
// records backwards from the Event Store: only records with a version
// lower or equal than From are returned.
type Selector struct {
	From Version
}

// Bound returns From as a signed integer, clamped to End,
// for backends that store versions as 64-bit signed integers.
func (s Selector) Bound() int64 {
	if s.From > End {
		return int64(End)
	}

	return int64(s.From)
}
