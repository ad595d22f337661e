// Package sqlrepo provides a projections.Backend on PostgreSQL or SQLite.
//
// Every index is a table named by the table prefix plus the index name, holding one JSON document
// per (partition_key, id). Queries push exact string comparisons down to SQL and evaluate the
// complete query with projections.ApplyQuery on the remaining rows, so both dialects return the
// same results as the in-memory backend.
//
// Usage examples:
//
//	db, _ := sql.Open("sqlite", "file:projections.db")
//	backend, _ := sqlrepo.NewFromSQLDB(db, sqlrepo.WithDialect(sqlengine.DialectSQLite))
//
//	pool, _ := pgxpool.New(context.Background(), dsn)
//	backend, _ := sqlrepo.NewFromPGXPool(pool, sqlrepo.WithTablePrefix("read_"))
package sqlrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/AntonStoeckl/eventstore-projections-go/eventstore"
	"github.com/AntonStoeckl/eventstore-projections-go/eventstore/sqlengine"
	"github.com/AntonStoeckl/eventstore-projections-go/internal/adapters"
	"github.com/AntonStoeckl/eventstore-projections-go/projections"
)

const (
	defaultTablePrefix = "projection_"

	colID           = "id"
	colPartitionKey = "partition_key"
	colDoc          = "doc"
	colUpdatedAt    = "updated_at"

	logMsgSQLExecuted     = "projections: executed sql for: "
	logMsgDBFailed        = "projections: database statement failed"
	logMsgCloseRowsFailed = "projections: failed to close database rows"
	logAttrQuery          = "query"
	logAttrError          = "error"
	logAttrDurationMS     = "duration_ms"
	logActionCreate       = "create index"
	logActionDrop         = "drop index"
	logActionSingle       = "single"
	logActionQuery        = "query"
	logActionUpsert       = "upsert"
	logActionDelete       = "delete"
	logActionDeleteAll    = "delete all"
)

// Backend is the SQL implementation of projections.Backend.
type Backend struct {
	db               adapters.DBAdapter
	dialect          sqlengine.Dialect
	tablePrefix      string
	logger           eventstore.Logger
	contextualLogger eventstore.ContextualLogger
}

// NewFromPGXPool creates a Backend on a pgx pool.
func NewFromPGXPool(db *pgxpool.Pool, options ...Option) (*Backend, error) {
	if db == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	return newBackend(adapters.NewPGXAdapter(db), options...)
}

// NewFromSQLDB creates a Backend on a sql.DB.
func NewFromSQLDB(db *sql.DB, options ...Option) (*Backend, error) {
	if db == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	return newBackend(adapters.NewSQLAdapter(db), options...)
}

// NewFromSQLX creates a Backend on a sqlx.DB.
func NewFromSQLX(db *sqlx.DB, options ...Option) (*Backend, error) {
	if db == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	return newBackend(adapters.NewSQLXAdapter(db), options...)
}

func newBackend(db adapters.DBAdapter, options ...Option) (*Backend, error) {
	b := &Backend{
		db:          db,
		dialect:     sqlengine.DialectPostgres,
		tablePrefix: defaultTablePrefix,
	}

	for _, option := range options {
		if err := option(b); err != nil {
			return nil, err
		}
	}

	return b, nil
}

// CreateIndex idempotently creates the table of the index.
func (b *Backend) CreateIndex(ctx context.Context, indexName string, _ projections.DocumentSchema) error {
	jsonType := "JSONB"
	if b.dialect == sqlengine.DialectSQLite {
		jsonType = "TEXT"
	}

	statement := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	%s TEXT NOT NULL,
	%s TEXT NOT NULL,
	%s %s NOT NULL,
	%s BIGINT NOT NULL,
	PRIMARY KEY (%s, %s)
)`, b.table(indexName), colID, colPartitionKey, colDoc, jsonType, colUpdatedAt, colPartitionKey, colID)

	_, err := b.exec(ctx, statement, logActionCreate)

	return err
}

// DeleteIndex idempotently drops the table of the index.
func (b *Backend) DeleteIndex(ctx context.Context, indexName string) error {
	_, err := b.exec(ctx, "DROP TABLE IF EXISTS "+b.table(indexName), logActionDrop)

	return err
}

// Single loads one document or returns projections.ErrDocumentNotFound.
func (b *Backend) Single(
	ctx context.Context,
	indexName string,
	schema projections.DocumentSchema,
	id string,
	partitionKey string,
) (projections.Document, error) {

	sqlQuery, _, err := b.builder().
		From(b.table(indexName)).
		Select(colDoc).
		Where(goqu.C(colID).Eq(id), goqu.C(colPartitionKey).Eq(partitionKey)).
		ToSQL()
	if err != nil {
		return nil, errors.Join(eventstore.ErrBuildingQueryFailed, err)
	}

	docs, err := b.queryDocuments(ctx, schema, sqlQuery, logActionSingle)
	if err != nil {
		return nil, err
	}

	if len(docs) == 0 {
		return nil, projections.ErrDocumentNotFound
	}

	return docs[0], nil
}

// Query loads the rows matching the pushed-down part of the query and applies the query to them.
// An empty partitionKey queries all partitions.
func (b *Backend) Query(
	ctx context.Context,
	indexName string,
	schema projections.DocumentSchema,
	query projections.Query,
	partitionKey string,
) (projections.QueryResult, error) {

	if err := projections.ValidateOrderBy(schema, query.OrderBy); err != nil {
		return projections.QueryResult{}, err
	}

	condition, err := projections.TranslateQuery[exp.Expression](schema, query, newExpressionBuilder(b.dialect))
	if err != nil {
		return projections.QueryResult{}, err
	}

	conditions := []exp.Expression{condition}
	if partitionKey != "" {
		conditions = append(conditions, goqu.C(colPartitionKey).Eq(partitionKey))
	}

	sqlQuery, _, err := b.builder().
		From(b.table(indexName)).
		Select(colDoc).
		Where(conditions...).
		Order(goqu.C(colPartitionKey).Asc(), goqu.C(colID).Asc()).
		ToSQL()
	if err != nil {
		return projections.QueryResult{}, errors.Join(eventstore.ErrBuildingQueryFailed, err)
	}

	docs, err := b.queryDocuments(ctx, schema, sqlQuery, logActionQuery)
	if err != nil {
		return projections.QueryResult{}, err
	}

	return projections.ApplyQuery(schema, query, docs)
}

// Upsert inserts the document or replaces the stored one.
func (b *Backend) Upsert(
	ctx context.Context,
	indexName string,
	doc projections.Document,
	id string,
	partitionKey string,
	updatedAt time.Time,
) error {

	data, err := projections.MarshalDocument(doc)
	if err != nil {
		return err
	}

	sqlQuery, _, err := b.builder().
		Insert(b.table(indexName)).
		Rows(goqu.Record{
			colID:           id,
			colPartitionKey: partitionKey,
			colDoc:          string(data),
			colUpdatedAt:    updatedAt.UnixNano(),
		}).
		OnConflict(goqu.DoUpdate(colPartitionKey+", "+colID, goqu.Record{
			colDoc:       goqu.I("excluded." + colDoc),
			colUpdatedAt: goqu.I("excluded." + colUpdatedAt),
		})).
		ToSQL()
	if err != nil {
		return errors.Join(eventstore.ErrBuildingQueryFailed, err)
	}

	_, err = b.exec(ctx, sqlQuery, logActionUpsert)

	return err
}

// Delete removes one document. Deleting a missing document is not an error.
func (b *Backend) Delete(ctx context.Context, indexName string, id string, partitionKey string) error {
	sqlQuery, _, err := b.builder().
		Delete(b.table(indexName)).
		Where(goqu.C(colID).Eq(id), goqu.C(colPartitionKey).Eq(partitionKey)).
		ToSQL()
	if err != nil {
		return errors.Join(eventstore.ErrBuildingQueryFailed, err)
	}

	_, err = b.exec(ctx, sqlQuery, logActionDelete)

	return err
}

// DeleteAll removes the documents of one partition, or of all partitions if partitionKey is empty.
func (b *Backend) DeleteAll(ctx context.Context, indexName string, partitionKey string) error {
	statement := b.builder().Delete(b.table(indexName))
	if partitionKey != "" {
		statement = statement.Where(goqu.C(colPartitionKey).Eq(partitionKey))
	}

	sqlQuery, _, err := statement.ToSQL()
	if err != nil {
		return errors.Join(eventstore.ErrBuildingQueryFailed, err)
	}

	_, err = b.exec(ctx, sqlQuery, logActionDeleteAll)

	return err
}

func (b *Backend) builder() goqu.DialectWrapper {
	return goqu.Dialect(string(b.dialect))
}

func (b *Backend) table(indexName string) string {
	return b.tablePrefix + indexName
}

func (b *Backend) queryDocuments(
	ctx context.Context,
	schema projections.DocumentSchema,
	sqlQuery string,
	action string,
) ([]projections.Document, error) {

	start := time.Now()
	rows, err := b.db.Query(ctx, sqlQuery)
	b.logQueryWithDuration(ctx, sqlQuery, action, time.Since(start))

	if err != nil {
		return nil, b.wrapDBError(ctx, err, sqlQuery)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			b.log(ctx, logMsgCloseRowsFailed, logAttrError, closeErr.Error())
		}
	}()

	var docs []projections.Document

	for rows.Next() {
		var data []byte
		if err = rows.Scan(&data); err != nil {
			return nil, errors.Join(eventstore.ErrScanningDBRowFailed, err)
		}

		doc, decodeErr := projections.UnmarshalDocument(schema, data)
		if decodeErr != nil {
			return nil, decodeErr
		}

		docs = append(docs, doc)
	}

	if err = rows.Err(); err != nil {
		return nil, b.wrapDBError(ctx, err, sqlQuery)
	}

	return docs, nil
}

func (b *Backend) exec(ctx context.Context, sqlQuery string, action string) (int64, error) {
	start := time.Now()
	result, err := b.db.Exec(ctx, sqlQuery)
	b.logQueryWithDuration(ctx, sqlQuery, action, time.Since(start))

	if err != nil {
		return 0, b.wrapDBError(ctx, err, sqlQuery)
	}

	return result.RowsAffected()
}

// wrapDBError reports a missing table as projections.ErrIndexNotFound.
func (b *Backend) wrapDBError(ctx context.Context, err error, sqlQuery string) error {
	if adapters.IsUndefinedTable(err) {
		return errors.Join(projections.ErrIndexNotFound, err)
	}

	b.log(ctx, logMsgDBFailed, logAttrError, err.Error(), logAttrQuery, sqlQuery)

	return err
}

func (b *Backend) logQueryWithDuration(ctx context.Context, sqlQuery string, action string, duration time.Duration) {
	ms := float64(duration.Nanoseconds()) / 1e6

	if b.logger != nil {
		b.logger.Debug(logMsgSQLExecuted+action, logAttrDurationMS, ms, logAttrQuery, sqlQuery)
	}

	if b.contextualLogger != nil {
		b.contextualLogger.DebugContext(ctx, logMsgSQLExecuted+action, logAttrDurationMS, ms, logAttrQuery, sqlQuery)
	}
}

func (b *Backend) log(ctx context.Context, msg string, args ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, args...)
	}

	if b.contextualLogger != nil {
		b.contextualLogger.WarnContext(ctx, msg, args...)
	}
}
