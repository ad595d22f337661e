package sqlengine

import (
	"fmt"
	"strings"
)

// Dialect selects the SQL flavor the EventStore speaks.
type Dialect string

const (
	// DialectPostgres targets PostgreSQL, reachable through pgx, database/sql (lib/pq) or sqlx.
	DialectPostgres Dialect = "postgres"

	// DialectSQLite targets SQLite through modernc.org/sqlite.
	DialectSQLite Dialect = "sqlite3"
)

// ParseDialect maps a configuration value to a Dialect.
func ParseDialect(value string) (Dialect, error) {
	switch strings.ToLower(value) {
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDialect, value)
	}
}

func (d Dialect) createEventsTable(table string) []string {
	sequenceColumn := "sequence_number BIGSERIAL PRIMARY KEY"
	jsonType := "JSONB"

	if d == DialectSQLite {
		sequenceColumn = "sequence_number INTEGER PRIMARY KEY AUTOINCREMENT"
		jsonType = "TEXT"
	}

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	%[2]s,
	stream_id TEXT NOT NULL,
	partition_key TEXT NOT NULL,
	version BIGINT NOT NULL,
	event_type TEXT NOT NULL,
	aggregate_type TEXT NOT NULL,
	occurred_at BIGINT NOT NULL,
	user_info TEXT NOT NULL,
	payload %[3]s NOT NULL,
	metadata %[3]s NOT NULL,
	UNIQUE (partition_key, stream_id, version)
)`, table, sequenceColumn, jsonType),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_chronological_idx ON %[1]s (occurred_at, sequence_number)`, table),
	}
}

func (d Dialect) createItemsTable(table string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT NOT NULL,
	partition_key TEXT NOT NULL,
	value TEXT NOT NULL,
	revision BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	PRIMARY KEY (id, partition_key)
)`, table),
	}
}

func dropTable(table string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", table)
}
