// Package sqlengine provides a SQL implementation of the eventstore.EventStore and
// eventstore.KeyValueStore interfaces.
//
// It supports PostgreSQL (through pgx, database/sql or sqlx) and SQLite (through
// modernc.org/sqlite). All statements are built with goqu.
//
// Key features:
//   - Atomic, all-or-nothing appends guarded by an expected stream version
//   - Racing appenders are detected by the unique (partition_key, stream_id, version) constraint
//   - Chronological, chunked loads over the whole log for projection replays
//   - A revisioned items table for compare-and-swap on non-evented state
//   - Synchronous notification of subscribers after each committed append
//   - Optional logging, metrics and tracing
//
// Usage examples:
//
//	pool, _ := pgxpool.New(context.Background(), dsn)
//	store, _ := sqlengine.NewEventStoreFromPGXPool(pool, sqlengine.WithTableName("order_events"))
//
//	db, _ := sql.Open("sqlite", "file:events.db")
//	store, _ := sqlengine.NewEventStoreFromSQLDB(db, sqlengine.WithDialect(sqlengine.DialectSQLite))
//
//	_ = store.Initialize(ctx)
//	ok, err := store.AppendToStream(ctx, userID, orderID, tenantID, 0, event)
package sqlengine
