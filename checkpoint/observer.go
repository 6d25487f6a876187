package checkpoint

import (
	"context"

	"github.com/get-eventually/go-checkpoint/position"
)

// Observer is notified by a Store whenever a write-back or a read
// against the backing Event Store completes.
//
// Implementations must be safe for concurrent use.
type Observer interface {
	// FlushCompleted is called after a flush attempt of the given position;
	// err is nil if the position has been persisted.
	FlushCompleted(ctx context.Context, p position.Position, err error)

	// ReadCompleted is called after the latest checkpoint has been read;
	// on failure, p is the cached position returned to the caller.
	ReadCompleted(ctx context.Context, p position.Position, err error)
}

type nopObserver struct{}

func (nopObserver) FlushCompleted(context.Context, position.Position, error) {}

func (nopObserver) ReadCompleted(context.Context, position.Position, error) {}
