package sqlrepo

import (
	"github.com/AntonStoeckl/eventstore-projections-go/eventstore"
	"github.com/AntonStoeckl/eventstore-projections-go/eventstore/sqlengine"
)

// Option defines a functional option for configuring Backend.
type Option func(*Backend) error

// WithDialect sets the SQL dialect. The default is sqlengine.DialectPostgres.
func WithDialect(dialect sqlengine.Dialect) Option {
	return func(b *Backend) error {
		if dialect != sqlengine.DialectPostgres && dialect != sqlengine.DialectSQLite {
			return sqlengine.ErrUnsupportedDialect
		}

		b.dialect = dialect

		return nil
	}
}

// WithTablePrefix sets the prefix of the index tables. The default is "projection_".
func WithTablePrefix(prefix string) Option {
	return func(b *Backend) error {
		if prefix == "" {
			return eventstore.ErrEmptyTableName
		}

		b.tablePrefix = prefix

		return nil
	}
}

// WithLogger logs executed statements at Debug level and failures at Warn level.
func WithLogger(logger eventstore.Logger) Option {
	return func(b *Backend) error {
		b.logger = logger
		return nil
	}
}

// WithContextualLogger sets a context-aware logger.
func WithContextualLogger(logger eventstore.ContextualLogger) Option {
	return func(b *Backend) error {
		b.contextualLogger = logger
		return nil
	}
}
