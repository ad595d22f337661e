// Package adapters provide database adapter implementations shared by the SQL event store
// and the SQL projection repository.
//
// This package implements the adapter pattern to support multiple database libraries:
// pgxpool.Pool, sql.DB, and sqlx.DB. All adapters provide equivalent functionality through
// a common DBAdapter interface, including transactions, allowing the event store to work
// with any supported database connection type and SQL dialect.
package adapters
