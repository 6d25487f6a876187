package checkpoint

import (
	"time"

	"github.com/get-eventually/go-checkpoint/logger"
	"github.com/get-eventually/go-checkpoint/position"
	"github.com/get-eventually/go-checkpoint/serde"
)

// DefaultFlushInterval is the interval used by a Store to write back
// the current position, unless specified otherwise with WithFlushInterval.
const DefaultFlushInterval = time.Second

// Option can be used to change the configuration of a Store.
type Option interface {
	apply(*Store)
}

type option func(*Store)

func (apply option) apply(s *Store) { apply(s) }

// WithFlushInterval sets the interval of the periodic write-back.
//
// A zero or negative interval disables the periodic flush: the Store will
// then persist the position synchronously on every Set call.
func WithFlushInterval(interval time.Duration) Option {
	return option(func(s *Store) {
		s.flushInterval = interval
	})
}

// WithLogger sets the logger.Logger used to report failures of the
// backing Event Store. By default, no logging takes place.
func WithLogger(l logger.Logger) Option {
	return option(func(s *Store) {
		s.logger = l
	})
}

// WithSerde sets the serde used to encode checkpoint records.
// By default, position.JSONSerde is used.
func WithSerde(positionSerde serde.Bytes[position.Position]) Option {
	return option(func(s *Store) {
		s.serde = positionSerde
	})
}

// WithMonotonic makes the Store never move the current position backwards:
// Set calls with an older position are ignored, and Get does not adopt
// a persisted checkpoint older than the current position.
func WithMonotonic() Option {
	return option(func(s *Store) {
		s.monotonic = true
	})
}

// WithFlushOnClose makes Close write back the current position,
// if it has not been persisted yet.
func WithFlushOnClose() Option {
	return option(func(s *Store) {
		s.flushOnClose = true
	})
}

// WithObserver registers an Observer to be notified of completed
// flushes and reads.
func WithObserver(o Observer) Option {
	return option(func(s *Store) {
		s.observer = o
	})
}
