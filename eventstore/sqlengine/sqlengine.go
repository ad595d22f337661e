package sqlengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/AntonStoeckl/eventstore-projections-go/eventstore"
	"github.com/AntonStoeckl/eventstore-projections-go/internal/adapters"
)

const (
	defaultEventTableName = "events"
	defaultItemsTableName = "items"

	logMsgBuildQueryFailed    = "failed to build sql query"
	logMsgDBQueryFailed       = "database query execution failed"
	logMsgDBExecFailed        = "database execution failed"
	logMsgCloseRowsFailed     = "failed to close database rows"
	logMsgRollbackFailed      = "failed to roll back transaction"
	logMsgScanRowFailed       = "failed to scan database row"
	logMsgSubscriberPanicked  = "subscriber panicked while handling appended events"
	logMsgStreamLoaded        = "stream loaded"
	logMsgChronologicalLoaded = "chronological chunk loaded"
	logMsgEventsAppended      = "events appended"
	logMsgConcurrencyConflict = "concurrency conflict detected"
	logMsgItemUpserted        = "item upserted"
	logMsgSQLExecuted         = "executed sql for: "
	logMsgOperation           = "eventstore operation: "
	logAttrError              = "error"
	logAttrQuery              = "query"
	logAttrStreamID           = "stream_id"
	logAttrPartitionKey       = "partition_key"
	logAttrEventCount         = "event_count"
	logAttrDurationMS         = "duration_ms"
	logAttrExpectedVersion    = "expected_version"
	logAttrActualVersion      = "actual_version"
	logAttrItemID             = "item_id"
	logAttrRevision           = "revision"
	logActionLoadStream       = "load stream"
	logActionCurrentVersion   = "current version"
	logActionAppend           = "append"
	logActionReadBack         = "read back appended"
	logActionChronological    = "load chronological"
	logActionCount            = "count"
	logActionLoadItem         = "load item"
	logActionUpsertItem       = "upsert item"
	logActionInitialize       = "initialize"
	logActionDeleteAll        = "delete all"
	colSequenceNumber         = "sequence_number"
	colStreamID               = "stream_id"
	colPartitionKey           = "partition_key"
	colVersion                = "version"
	colEventType              = "event_type"
	colAggregateType          = "aggregate_type"
	colOccurredAt             = "occurred_at"
	colUserInfo               = "user_info"
	colPayload                = "payload"
	colMetadata               = "metadata"
	colID                     = "id"
	colValue                  = "value"
	colRevision               = "revision"
	colUpdatedAt              = "updated_at"
	aliasCurrentVersion       = "current_version"
	aliasEventCount           = "event_count"
)

// ErrUnsupportedDialect is returned for a dialect that is neither postgres nor sqlite3.
var ErrUnsupportedDialect = errors.New("unsupported sql dialect")

// EventStore is the SQL implementation of eventstore.EventStore and eventstore.KeyValueStore.
// It leverages a database adapter and supports customizable observability and table configuration.
type EventStore struct {
	db               adapters.DBAdapter
	dialect          Dialect
	eventTableName   string
	itemsTableName   string
	logger           eventstore.Logger
	contextualLogger eventstore.ContextualLogger
	metricsCollector eventstore.MetricsCollector
	tracingCollector eventstore.TracingCollector

	mu          sync.RWMutex
	subscribers []subscriber
	nextSubID   int
}

type subscriber struct {
	id int
	fn eventstore.EventsAppendedFunc
}

// NewEventStoreFromPGXPool creates a new EventStore using a pgx Pool with optional configuration.
func NewEventStoreFromPGXPool(db *pgxpool.Pool, options ...Option) (*EventStore, error) {
	if db == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewPGXAdapter(db), options...)
}

// NewEventStoreFromPGXPoolAndReplica creates a new EventStore using a primary and a replica pgx Pool.
// Reads run on the replica only when the context carries eventstore.ReadReplica.
func NewEventStoreFromPGXPoolAndReplica(db *pgxpool.Pool, replica *pgxpool.Pool, options ...Option) (*EventStore, error) {
	if db == nil || replica == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewPGXAdapterWithReplica(db, replica), options...)
}

// NewEventStoreFromSQLDB creates a new EventStore using a sql.DB with optional configuration.
func NewEventStoreFromSQLDB(db *sql.DB, options ...Option) (*EventStore, error) {
	if db == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewSQLAdapter(db), options...)
}

// NewEventStoreFromSQLX creates a new EventStore using a sqlx.DB with optional configuration.
func NewEventStoreFromSQLX(db *sqlx.DB, options ...Option) (*EventStore, error) {
	if db == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewSQLXAdapter(db), options...)
}

func newEventStore(db adapters.DBAdapter, options ...Option) (*EventStore, error) {
	es := &EventStore{
		db:             db,
		dialect:        DialectPostgres,
		eventTableName: defaultEventTableName,
		itemsTableName: defaultItemsTableName,
	}

	for _, option := range options {
		if err := option(es); err != nil {
			return nil, err
		}
	}

	return es, nil
}

// Initialize idempotently creates the events table, its indexes and the items table.
func (es *EventStore) Initialize(ctx context.Context) error {
	statements := es.dialect.createEventsTable(es.eventTableName)
	statements = append(statements, es.dialect.createItemsTable(es.itemsTableName)...)

	for _, statement := range statements {
		if _, err := es.exec(ctx, es.db, statement, logActionInitialize); err != nil {
			return errors.Join(eventstore.ErrInitializingStorageFailed, err)
		}
	}

	return nil
}

// DeleteAll idempotently drops the events and items tables.
func (es *EventStore) DeleteAll(ctx context.Context) error {
	for _, table := range []string{es.eventTableName, es.itemsTableName} {
		if _, err := es.exec(ctx, es.db, dropTable(table), logActionDeleteAll); err != nil {
			return errors.Join(eventstore.ErrDeletingStorageFailed, err)
		}
	}

	return nil
}

// LoadStream returns all events of the stream ordered by version.
func (es *EventStore) LoadStream(ctx context.Context, streamID string, partitionKey string) (eventstore.EventStream, error) {
	return es.LoadStreamFromVersion(ctx, streamID, partitionKey, 0)
}

// LoadStreamOrNotFound returns all events of the stream or eventstore.ErrStreamNotFound if there are none.
func (es *EventStore) LoadStreamOrNotFound(ctx context.Context, streamID string, partitionKey string) (eventstore.EventStream, error) {
	stream, err := es.LoadStream(ctx, streamID, partitionKey)
	if err != nil {
		return stream, err
	}

	if stream.IsEmpty() {
		return stream, eventstore.ErrStreamNotFound
	}

	return stream, nil
}

// LoadStreamFromVersion returns the events of the stream with a version >= fromVersion.
func (es *EventStore) LoadStreamFromVersion(
	ctx context.Context,
	streamID string,
	partitionKey string,
	fromVersion eventstore.VersionUint,
) (eventstore.EventStream, error) {

	if streamID == "" {
		return eventstore.EventStream{}, eventstore.ErrEmptyStreamID
	}

	observer, ctx := es.startOperation(ctx, spanNameQuery, metricQueryDuration, operationLoadStream,
		map[string]string{spanAttrStreamID: streamID})

	sqlQuery, _, err := es.selectEvents().
		Where(
			goqu.C(colStreamID).Eq(streamID),
			goqu.C(colPartitionKey).Eq(partitionKey),
			goqu.C(colVersion).Gte(int64(fromVersion)), //nolint:gosec
		).
		Order(goqu.C(colVersion).Asc()).
		ToSQL()
	if err != nil {
		es.logError(ctx, logMsgBuildQueryFailed, err)
		observer.failure(errorTypeBuildQuery)

		return eventstore.EventStream{}, errors.Join(eventstore.ErrBuildingQueryFailed, err)
	}

	events, duration, err := es.queryEvents(ctx, es.db, sqlQuery, logActionLoadStream)
	if err != nil {
		observer.failure(errorType(err))
		return eventstore.EventStream{}, err
	}

	es.logOperation(ctx, logMsgStreamLoaded,
		logAttrStreamID, streamID,
		logAttrEventCount, len(events),
		logAttrDurationMS, toMilliseconds(duration))

	observer.success(metricEventsQueried, float64(len(events)), map[string]string{spanAttrEventCount: strconv.Itoa(len(events))})

	return eventstore.BuildEventStream(streamID, partitionKey, events), nil
}

// AppendToStream appends the events with versions expectedVersion+1, +2, ... atomically.
//
// It returns false if the stream's current version did not match expectedVersion or if a
// concurrent appender won the race for the same versions. Nothing is written in both cases.
// Subscribers are notified synchronously after the transaction was committed.
func (es *EventStore) AppendToStream(
	ctx context.Context,
	userInfo string,
	streamID string,
	partitionKey string,
	expectedVersion eventstore.VersionUint,
	event eventstore.StorableEvent,
	additionalEvents ...eventstore.StorableEvent,
) (bool, error) {

	if streamID == "" {
		return false, eventstore.ErrEmptyStreamID
	}

	allEvents, err := eventstore.CheckPartitionKeys(partitionKey, append(eventstore.StorableEvents{event}, additionalEvents...))
	if err != nil {
		return false, err
	}

	observer, ctx := es.startOperation(ctx, spanNameAppend, metricAppendDuration, operationAppend,
		map[string]string{
			spanAttrStreamID:    streamID,
			spanAttrEventType:   allEvents[0].EventType,
			spanAttrEventCount:  strconv.Itoa(len(allEvents)),
			spanAttrExpectedVer: strconv.FormatUint(expectedVersion, 10),
		})

	start := time.Now()
	stored, actualVersion, err := es.appendInTx(ctx, userInfo, streamID, partitionKey, expectedVersion, allEvents)
	duration := time.Since(start)

	if err != nil {
		observer.failure(errorType(err))
		return false, err
	}

	if stored == nil {
		es.logOperation(ctx, logMsgConcurrencyConflict,
			logAttrStreamID, streamID,
			logAttrExpectedVersion, expectedVersion,
			logAttrActualVersion, actualVersion)
		observer.conflict()

		return false, nil
	}

	es.logOperation(ctx, logMsgEventsAppended,
		logAttrStreamID, streamID,
		logAttrEventCount, len(stored),
		logAttrDurationMS, toMilliseconds(duration))
	observer.success(metricEventsAppended, float64(len(stored)), nil)

	es.notify(ctx, stored)

	return true, nil
}

// appendInTx runs the version check, the insert and the read-back of the assigned sequence numbers
// in one transaction. A nil result without error signals a concurrency conflict.
func (es *EventStore) appendInTx(
	ctx context.Context,
	userInfo string,
	streamID string,
	partitionKey string,
	expectedVersion eventstore.VersionUint,
	events eventstore.StorableEvents,
) (eventstore.StoredEvents, eventstore.VersionUint, error) {

	tx, err := es.db.BeginTx(ctx)
	if err != nil {
		return nil, 0, es.wrapDBError(ctx, eventstore.ErrAppendingEventFailed, err, logMsgDBExecFailed)
	}

	committed := false
	defer func() {
		if committed {
			return
		}

		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			es.logWarn(ctx, logMsgRollbackFailed, rollbackErr)
		}
	}()

	currentVersion, err := es.currentVersion(ctx, tx, streamID, partitionKey)
	if err != nil {
		return nil, 0, err
	}

	if currentVersion != expectedVersion {
		return nil, currentVersion, nil
	}

	insertQuery, err := es.buildInsertQuery(userInfo, streamID, expectedVersion, events)
	if err != nil {
		es.logError(ctx, logMsgBuildQueryFailed, err, logAttrEventCount, len(events))
		return nil, 0, errors.Join(eventstore.ErrBuildingQueryFailed, err)
	}

	if _, err = es.exec(ctx, tx, insertQuery, logActionAppend); err != nil {
		if adapters.IsUniqueViolation(err) {
			return nil, expectedVersion, nil
		}

		return nil, 0, errors.Join(eventstore.ErrAppendingEventFailed, err)
	}

	readBackQuery, _, err := es.selectEvents().
		Where(
			goqu.C(colStreamID).Eq(streamID),
			goqu.C(colPartitionKey).Eq(partitionKey),
			goqu.C(colVersion).Gt(int64(expectedVersion)), //nolint:gosec
		).
		Order(goqu.C(colVersion).Asc()).
		ToSQL()
	if err != nil {
		return nil, 0, errors.Join(eventstore.ErrBuildingQueryFailed, err)
	}

	stored, _, err := es.queryEvents(ctx, tx, readBackQuery, logActionReadBack)
	if err != nil {
		return nil, 0, err
	}

	if err = tx.Commit(ctx); err != nil {
		if adapters.IsUniqueViolation(err) {
			return nil, expectedVersion, nil
		}

		return nil, 0, es.wrapDBError(ctx, eventstore.ErrAppendingEventFailed, err, logMsgDBExecFailed)
	}

	committed = true

	return stored, 0, nil
}

func (es *EventStore) currentVersion(
	ctx context.Context,
	db adapters.Executor,
	streamID string,
	partitionKey string,
) (eventstore.VersionUint, error) {

	sqlQuery, _, err := es.builder().
		From(es.eventTableName).
		Select(goqu.COALESCE(goqu.MAX(colVersion), 0).As(aliasCurrentVersion)).
		Where(goqu.C(colStreamID).Eq(streamID), goqu.C(colPartitionKey).Eq(partitionKey)).
		ToSQL()
	if err != nil {
		return 0, errors.Join(eventstore.ErrBuildingQueryFailed, err)
	}

	version, err := es.queryInt64(ctx, db, sqlQuery, logActionCurrentVersion)
	if err != nil {
		return 0, err
	}

	return eventstore.VersionUint(version), nil //nolint:gosec
}

func (es *EventStore) buildInsertQuery(
	userInfo string,
	streamID string,
	expectedVersion eventstore.VersionUint,
	events eventstore.StorableEvents,
) (string, error) {

	rows := make([]goqu.Record, 0, len(events))

	for i, event := range events {
		rows = append(rows, goqu.Record{
			colStreamID:      streamID,
			colPartitionKey:  event.PartitionKey,
			colVersion:       int64(expectedVersion) + int64(i) + 1, //nolint:gosec
			colEventType:     event.EventType,
			colAggregateType: event.AggregateType,
			colOccurredAt:    event.OccurredAt.UnixNano(),
			colUserInfo:      userInfo,
			colPayload:       string(event.PayloadJSON),
			colMetadata:      string(event.MetadataJSON),
		})
	}

	sqlQuery, _, err := es.builder().Insert(es.eventTableName).Rows(rows).ToSQL()

	return sqlQuery, err
}

// LoadEventsChronological returns up to query.Limit events strictly after query.After,
// ordered by (occurred_at, sequence_number).
func (es *EventStore) LoadEventsChronological(
	ctx context.Context,
	query eventstore.ChronologicalQuery,
) (eventstore.StoredEvents, error) {

	if query.Limit <= 0 {
		return nil, eventstore.ErrInvalidChunkLimit
	}

	observer, ctx := es.startOperation(ctx, spanNameQuery, metricQueryDuration, operationChronological, nil)

	conditions := make([]exp.Expression, 0, 2)

	if query.PartitionKey != "" {
		conditions = append(conditions, goqu.C(colPartitionKey).Eq(query.PartitionKey))
	}

	if !query.After.IsZero() {
		afterNanos := query.After.OccurredAt.UnixNano()
		conditions = append(conditions, goqu.Or(
			goqu.C(colOccurredAt).Gt(afterNanos),
			goqu.And(
				goqu.C(colOccurredAt).Eq(afterNanos),
				goqu.C(colSequenceNumber).Gt(int64(query.After.Sequence)), //nolint:gosec
			),
		))
	}

	sqlQuery, _, err := es.selectEvents().
		Where(conditions...).
		Order(goqu.C(colOccurredAt).Asc(), goqu.C(colSequenceNumber).Asc()).
		Limit(uint(query.Limit)).
		ToSQL()
	if err != nil {
		es.logError(ctx, logMsgBuildQueryFailed, err)
		observer.failure(errorTypeBuildQuery)

		return nil, errors.Join(eventstore.ErrBuildingQueryFailed, err)
	}

	events, duration, err := es.queryEvents(ctx, es.db, sqlQuery, logActionChronological)
	if err != nil {
		observer.failure(errorType(err))
		return nil, err
	}

	es.logOperation(ctx, logMsgChronologicalLoaded,
		logAttrPartitionKey, query.PartitionKey,
		logAttrEventCount, len(events),
		logAttrDurationMS, toMilliseconds(duration))
	observer.success(metricEventsQueried, float64(len(events)), map[string]string{spanAttrEventCount: strconv.Itoa(len(events))})

	return events, nil
}

// CountEvents returns the number of events in the partition, or in the whole log for an empty partition key.
func (es *EventStore) CountEvents(ctx context.Context, partitionKey string) (int64, error) {
	observer, ctx := es.startOperation(ctx, spanNameQuery, metricQueryDuration, operationCount, nil)

	stmt := es.builder().From(es.eventTableName).Select(goqu.COUNT(goqu.Star()).As(aliasEventCount))
	if partitionKey != "" {
		stmt = stmt.Where(goqu.C(colPartitionKey).Eq(partitionKey))
	}

	sqlQuery, _, err := stmt.ToSQL()
	if err != nil {
		observer.failure(errorTypeBuildQuery)
		return 0, errors.Join(eventstore.ErrBuildingQueryFailed, err)
	}

	count, err := es.queryInt64(ctx, es.db, sqlQuery, logActionCount)
	if err != nil {
		observer.failure(errorType(err))
		return 0, err
	}

	observer.success("", 0, nil)

	return count, nil
}

// Subscribe registers fn to be called synchronously with the events of every committed append.
// Subscribers are called in subscription order. The returned function removes the subscription.
func (es *EventStore) Subscribe(fn eventstore.EventsAppendedFunc) func() {
	es.mu.Lock()
	defer es.mu.Unlock()

	es.nextSubID++
	id := es.nextSubID
	es.subscribers = append(es.subscribers, subscriber{id: id, fn: fn})

	return func() {
		es.mu.Lock()
		defer es.mu.Unlock()

		for i, sub := range es.subscribers {
			if sub.id == id {
				es.subscribers = append(es.subscribers[:i:i], es.subscribers[i+1:]...)
				return
			}
		}
	}
}

func (es *EventStore) notify(ctx context.Context, events eventstore.StoredEvents) {
	es.mu.RLock()
	subscribers := make([]subscriber, len(es.subscribers))
	copy(subscribers, es.subscribers)
	es.mu.RUnlock()

	for _, sub := range subscribers {
		es.callSubscriber(ctx, sub.fn, events)
	}
}

// callSubscriber shields the append from panicking subscribers; the events are already committed.
func (es *EventStore) callSubscriber(ctx context.Context, fn eventstore.EventsAppendedFunc, events eventstore.StoredEvents) {
	defer func() {
		if r := recover(); r != nil {
			es.logError(ctx, logMsgSubscriberPanicked, fmt.Errorf("panic: %v", r))
		}
	}()

	fn(ctx, events)
}

func (es *EventStore) builder() goqu.DialectWrapper {
	return goqu.Dialect(string(es.dialect))
}

func (es *EventStore) selectEvents() *goqu.SelectDataset {
	return es.builder().
		From(es.eventTableName).
		Select(
			colSequenceNumber,
			colStreamID,
			colPartitionKey,
			colVersion,
			colEventType,
			colAggregateType,
			colOccurredAt,
			colUserInfo,
			colPayload,
			colMetadata,
		)
}

// queryEvents executes the SQL query and scans all rows into StoredEvents.
func (es *EventStore) queryEvents(
	ctx context.Context,
	db adapters.Executor,
	sqlQuery string,
	action string,
) (eventstore.StoredEvents, time.Duration, error) {

	start := time.Now()
	rows, err := db.Query(ctx, sqlQuery)
	duration := time.Since(start)
	es.logQueryWithDuration(ctx, sqlQuery, action, duration)

	if err != nil {
		return nil, duration, es.wrapDBError(ctx, eventstore.ErrQueryingEventsFailed, err, logMsgDBQueryFailed, logAttrQuery, sqlQuery)
	}
	defer es.closeRows(ctx, rows)

	events := make(eventstore.StoredEvents, 0)

	for rows.Next() {
		var (
			sequence   int64
			version    int64
			occurredAt int64
			payload    []byte
			metadata   []byte
			event      eventstore.StoredEvent
		)

		if err = rows.Scan(
			&sequence,
			&event.StreamID,
			&event.PartitionKey,
			&version,
			&event.EventType,
			&event.AggregateType,
			&occurredAt,
			&event.UserInfo,
			&payload,
			&metadata,
		); err != nil {
			es.logError(ctx, logMsgScanRowFailed, err)
			return nil, duration, errors.Join(eventstore.ErrScanningDBRowFailed, err)
		}

		event.Sequence = eventstore.SequenceUint(sequence) //nolint:gosec
		event.Version = eventstore.VersionUint(version)    //nolint:gosec
		event.OccurredAt = time.Unix(0, occurredAt).UTC()
		event.PayloadJSON = payload
		event.MetadataJSON = metadata

		events = append(events, event)
	}

	if err = rows.Err(); err != nil {
		return nil, duration, es.wrapDBError(ctx, eventstore.ErrQueryingEventsFailed, err, logMsgDBQueryFailed)
	}

	return events, duration, nil
}

// queryInt64 executes a query returning exactly one integer.
func (es *EventStore) queryInt64(ctx context.Context, db adapters.Executor, sqlQuery string, action string) (int64, error) {
	start := time.Now()
	rows, err := db.Query(ctx, sqlQuery)
	es.logQueryWithDuration(ctx, sqlQuery, action, time.Since(start))

	if err != nil {
		return 0, es.wrapDBError(ctx, eventstore.ErrQueryingEventsFailed, err, logMsgDBQueryFailed, logAttrQuery, sqlQuery)
	}
	defer es.closeRows(ctx, rows)

	var value int64

	if rows.Next() {
		if err = rows.Scan(&value); err != nil {
			es.logError(ctx, logMsgScanRowFailed, err)
			return 0, errors.Join(eventstore.ErrScanningDBRowFailed, err)
		}
	}

	if err = rows.Err(); err != nil {
		return 0, es.wrapDBError(ctx, eventstore.ErrQueryingEventsFailed, err, logMsgDBQueryFailed)
	}

	return value, nil
}

func (es *EventStore) exec(ctx context.Context, db adapters.Executor, sqlQuery string, action string) (int64, error) {
	start := time.Now()
	result, err := db.Exec(ctx, sqlQuery)
	es.logQueryWithDuration(ctx, sqlQuery, action, time.Since(start))

	if err != nil {
		if !adapters.IsUniqueViolation(err) {
			es.logError(ctx, logMsgDBExecFailed, err, logAttrQuery, sqlQuery)
		}

		if adapters.IsUndefinedTable(err) {
			return 0, errors.Join(eventstore.ErrUninitialized, err)
		}

		return 0, err
	}

	return result.RowsAffected()
}

// closeRows safely closes database rows and logs any errors.
func (es *EventStore) closeRows(ctx context.Context, rows adapters.DBRows) {
	if closeErr := rows.Close(); closeErr != nil {
		es.logWarn(ctx, logMsgCloseRowsFailed, closeErr)
	}
}

// wrapDBError logs err and joins it with the sentinel; a missing table is reported as eventstore.ErrUninitialized.
func (es *EventStore) wrapDBError(ctx context.Context, sentinel error, err error, logMsg string, args ...any) error {
	es.logError(ctx, logMsg, err, args...)

	if adapters.IsUndefinedTable(err) {
		return errors.Join(eventstore.ErrUninitialized, sentinel, err)
	}

	return errors.Join(sentinel, err)
}

func errorType(err error) string {
	switch {
	case errors.Is(err, eventstore.ErrUninitialized):
		return errorTypeUninit
	case errors.Is(err, eventstore.ErrScanningDBRowFailed):
		return errorTypeScan
	case errors.Is(err, eventstore.ErrBuildingQueryFailed):
		return errorTypeBuildQuery
	default:
		return errorTypeDatabase
	}
}
