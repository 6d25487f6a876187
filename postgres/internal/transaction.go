// Package internal contains the transaction handling shared by the
// postgres.EventStore operations.
package internal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TxBeginner represents a pgx-related component that can initiate transactions.
type TxBeginner interface {
	BeginTx(ctx context.Context, options pgx.TxOptions) (pgx.Tx, error)
}

// StreamWrite are the transaction options used for every write
// to the event_streams and events tables. Writers serialize on the
// event_streams row lock, so Read Committed is enough.
//
//nolint:gochecknoglobals // Read-only options value.
var StreamWrite = pgx.TxOptions{
	IsoLevel:   pgx.ReadCommitted,
	AccessMode: pgx.ReadWrite,
}

// InTransaction runs the specified function in a transaction, returning its
// result if the transaction commits. The transaction is rolled back
// if the function fails.
func InTransaction[T any](
	ctx context.Context,
	db TxBeginner,
	options pgx.TxOptions, //nolint:gocritic // The pgx API uses value semantics, will do the same here.
	do func(ctx context.Context, tx pgx.Tx) (T, error),
) (result T, err error) {
	var zeroValue T

	tx, err := db.BeginTx(ctx, options)
	if err != nil {
		return zeroValue, fmt.Errorf("failed to begin transaction, %w", err)
	}

	defer func() {
		if err == nil {
			return
		}

		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
			err = fmt.Errorf("%w (rollback failed: %w)", err, rollbackErr)
		}
	}()

	if result, err = do(ctx, tx); err != nil {
		return zeroValue, err
	}

	if err = tx.Commit(ctx); err != nil {
		return zeroValue, fmt.Errorf("failed to commit transaction, %w", err)
	}

	return result, nil
}
