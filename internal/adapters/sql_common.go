package adapters

import (
	"context"
	"database/sql"
)

// *sql.Rows and sql.Result already have the method sets of DBRows and DBResult.
var (
	_ DBRows   = (*sql.Rows)(nil)
	_ DBResult = sql.Result(nil)
)

// stdQueryer is satisfied by *sql.DB, *sql.Tx, *sqlx.DB and *sqlx.Tx.
type stdQueryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func stdQuery(ctx context.Context, q stdQueryer, query string) (DBRows, error) {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}

	return rows, nil
}

func stdExec(ctx context.Context, q stdQueryer, query string) (DBResult, error) {
	return q.ExecContext(ctx, query)
}

// stdTx is a database/sql transaction, also the one underneath a sqlx transaction.
type stdTx struct {
	tx *sql.Tx
}

func (t stdTx) Query(ctx context.Context, query string) (DBRows, error) {
	return stdQuery(ctx, t.tx, query)
}

func (t stdTx) Exec(ctx context.Context, query string) (DBResult, error) {
	return stdExec(ctx, t.tx, query)
}

func (t stdTx) Commit(context.Context) error {
	return t.tx.Commit()
}

func (t stdTx) Rollback(context.Context) error {
	return t.tx.Rollback()
}
