package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type txKey struct{}

// Runner is the subset of pgx query execution shared by *pgxpool.Pool and
// pgx.Tx. Store methods run against whichever the context carries, which is
// what lets an ID-uniqueness check participate in the caller's transaction.
type Runner interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func injectTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// RunnerFrom returns the transaction bound to ctx, or the pool when none is.
func RunnerFrom(ctx context.Context, pool *pgxpool.Pool) Runner {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return pool
}

// WithinTx runs fn inside a single transaction. The transaction is injected
// into the context handed to fn; every store call made with that context joins
// it. Commit on nil error, rollback otherwise.
func WithinTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) (err error) {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			// fn's error is the one the caller matches on; a rollback failure
			// must not shadow it.
			_ = tx.Rollback(ctx)
			return
		}
		if txErr := tx.Commit(ctx); txErr != nil && !errors.Is(txErr, pgx.ErrTxClosed) {
			err = txErr
		}
	}()

	err = fn(injectTx(ctx, tx))
	return err
}
