// Package dbx holds the small database plumbing every repository shares: the
// DBTX interface satisfied by both *sql.DB and *sql.Tx, and WithTx for
// running multi-repository writes as one atomic unit.
package dbx

import (
	"context"
	"database/sql"
)

// DBTX is the query surface repositories are written against. Binding a
// repository to this interface instead of *sql.DB lets the same code run
// standalone or inside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx begins a transaction, runs fn with the transactional handle, and
// commits on success or rolls back on error/panic. Panics are rethrown.
//
// The save path relies on it to land a record's metadata, blobs and search
// terms together or not at all:
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    if err := records.NewSQLiteRepository(tx).Upsert(ctx, md); err != nil {
//	        return err
//	    }
//	    return blobs.NewSQLiteRepository(tx).ReplaceForMeeting(ctx, md.ID, bs)
//	})
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}
