package adapters

import "context"

// Executor runs plain SQL statements. It is implemented by adapters and by their transactions.
type Executor interface {
	Query(ctx context.Context, query string) (DBRows, error)
	Exec(ctx context.Context, query string) (DBResult, error)
}

// DBAdapter is a database handle of one of the supported drivers.
type DBAdapter interface {
	Executor
	BeginTx(ctx context.Context) (DBTx, error)
}

// DBTx is a database transaction. Every statement issued while it is open must go through it.
type DBTx interface {
	Executor
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DBRows iterates a result set; Close must be called when done.
type DBRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

type DBResult interface {
	RowsAffected() (int64, error)
}
