// Package memengine provides an in-memory EventStore and KeyValueStore backed by hashicorp/go-memdb.
//
// go-memdb serializes write transactions, which makes the version check and the insert of
// AppendToStream atomic with respect to other appenders. Readers work on immutable snapshots
// and never block writers. The engine is meant for tests, prototypes and single-process tools.
package memengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-memdb"

	"github.com/AntonStoeckl/eventstore-projections-go/eventstore"
)

const (
	logMsgSubscriberPanicked = "subscriber panicked while handling appended events"
	logMsgEventsAppended     = "eventstore operation: events appended"
	logMsgConflict           = "eventstore operation: concurrency conflict detected"
	logAttrError             = "error"
	logAttrStreamID          = "stream_id"
	logAttrEventCount        = "event_count"
	logAttrExpectedVersion   = "expected_version"
	logAttrActualVersion     = "actual_version"
)

// Option defines a functional option for configuring EventStore.
type Option func(*EventStore)

// WithLogger sets the logger for the EventStore.
func WithLogger(logger eventstore.Logger) Option {
	return func(es *EventStore) {
		es.logger = logger
	}
}

// WithClock replaces time.Now for the UpdatedAt timestamps of items.
func WithClock(now func() time.Time) Option {
	return func(es *EventStore) {
		es.now = now
	}
}

// EventStore is the in-memory implementation of eventstore.EventStore, eventstore.Notifier,
// eventstore.EventCounter and eventstore.KeyValueStore.
type EventStore struct {
	mu           sync.RWMutex
	db           *memdb.MemDB
	nextSequence uint64
	logger       eventstore.Logger
	now          func() time.Time

	subMu       sync.RWMutex
	subscribers []subscriber
	nextSubID   int
}

type subscriber struct {
	id int
	fn eventstore.EventsAppendedFunc
}

// NewEventStore creates an uninitialized in-memory EventStore; call Initialize before use.
func NewEventStore(options ...Option) *EventStore {
	es := &EventStore{now: time.Now}

	for _, option := range options {
		option(es)
	}

	return es
}

// Initialize idempotently creates the in-memory database.
func (es *EventStore) Initialize(_ context.Context) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.db != nil {
		return nil
	}

	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return errors.Join(eventstore.ErrInitializingStorageFailed, err)
	}

	es.db = db

	return nil
}

// DeleteAll drops all events and items. The store must be initialized again afterward.
func (es *EventStore) DeleteAll(_ context.Context) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	es.db = nil
	es.nextSequence = 0

	return nil
}

func (es *EventStore) database() (*memdb.MemDB, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	if es.db == nil {
		return nil, eventstore.ErrUninitialized
	}

	return es.db, nil
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
	_ context.Context,
	streamID string,
	partitionKey string,
	fromVersion eventstore.VersionUint,
) (eventstore.EventStream, error) {

	if streamID == "" {
		return eventstore.EventStream{}, eventstore.ErrEmptyStreamID
	}

	db, err := es.database()
	if err != nil {
		return eventstore.EventStream{}, err
	}

	txn := db.Txn(false)
	defer txn.Abort()

	records, err := streamRecords(txn, compositeKey(partitionKey, streamID), fromVersion)
	if err != nil {
		return eventstore.EventStream{}, errors.Join(eventstore.ErrQueryingEventsFailed, err)
	}

	events := make(eventstore.StoredEvents, 0, len(records))
	for _, record := range records {
		events = append(events, record.toStoredEvent())
	}

	return eventstore.BuildEventStream(streamID, partitionKey, events), nil
}

// streamRecords walks the stream index from (streamKey, fromVersion) until the stream ends.
func streamRecords(txn *memdb.Txn, streamKey string, fromVersion uint64) ([]*eventRecord, error) {
	it, err := txn.LowerBound(eventsTable, indexStream, streamKey, fromVersion)
	if err != nil {
		return nil, err
	}

	records := make([]*eventRecord, 0)

	for obj := it.Next(); obj != nil; obj = it.Next() {
		record := obj.(*eventRecord) //nolint:forcetypeassert
		if record.StreamKey != streamKey {
			break
		}

		records = append(records, record)
	}

	return records, nil
}

// AppendToStream appends the events with versions expectedVersion+1, +2, ... atomically.
// It returns false without writing anything if the stream's current version differs from expectedVersion.
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

	stored, actualVersion, err := es.appendInTxn(userInfo, streamID, partitionKey, expectedVersion, allEvents)
	if err != nil {
		return false, err
	}

	if stored == nil {
		es.logInfo(logMsgConflict,
			logAttrStreamID, streamID,
			logAttrExpectedVersion, expectedVersion,
			logAttrActualVersion, actualVersion)

		return false, nil
	}

	es.logInfo(logMsgEventsAppended, logAttrStreamID, streamID, logAttrEventCount, len(stored))
	es.notify(ctx, stored)

	return true, nil
}

func (es *EventStore) appendInTxn(
	userInfo string,
	streamID string,
	partitionKey string,
	expectedVersion eventstore.VersionUint,
	events eventstore.StorableEvents,
) (eventstore.StoredEvents, eventstore.VersionUint, error) {

	// The store lock keeps DeleteAll from swapping the database and guards the sequence counter.
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.db == nil {
		return nil, 0, eventstore.ErrUninitialized
	}

	txn := es.db.Txn(true)
	defer txn.Abort()

	streamKey := compositeKey(partitionKey, streamID)

	existing, err := streamRecords(txn, streamKey, 0)
	if err != nil {
		return nil, 0, errors.Join(eventstore.ErrAppendingEventFailed, err)
	}

	currentVersion := uint64(0)
	if len(existing) > 0 {
		currentVersion = existing[len(existing)-1].Version
	}

	if currentVersion != expectedVersion {
		return nil, currentVersion, nil
	}

	stored := make(eventstore.StoredEvents, 0, len(events))
	sequence := es.nextSequence

	for i, event := range events {
		sequence++

		record := &eventRecord{
			Sequence:        sequence,
			StreamKey:       streamKey,
			StreamID:        streamID,
			PartitionKey:    event.PartitionKey,
			Version:         expectedVersion + uint64(i) + 1, //nolint:gosec
			EventType:       event.EventType,
			AggregateType:   event.AggregateType,
			OccurredAtNanos: event.OccurredAt.UnixNano(),
			UserInfo:        userInfo,
			PayloadJSON:     append([]byte(nil), event.PayloadJSON...),
			MetadataJSON:    append([]byte(nil), event.MetadataJSON...),
		}

		if err = txn.Insert(eventsTable, record); err != nil {
			return nil, 0, errors.Join(eventstore.ErrAppendingEventFailed, err)
		}

		stored = append(stored, record.toStoredEvent())
	}

	txn.Commit()
	es.nextSequence = sequence

	return stored, 0, nil
}

// LoadEventsChronological returns up to query.Limit events strictly after query.After,
// ordered by (OccurredAt, Sequence).
func (es *EventStore) LoadEventsChronological(
	_ context.Context,
	query eventstore.ChronologicalQuery,
) (eventstore.StoredEvents, error) {

	if query.Limit <= 0 {
		return nil, eventstore.ErrInvalidChunkLimit
	}

	db, err := es.database()
	if err != nil {
		return nil, err
	}

	txn := db.Txn(false)
	defer txn.Abort()

	var it memdb.ResultIterator
	if query.After.IsZero() {
		it, err = txn.Get(eventsTable, indexChronological)
	} else {
		it, err = txn.LowerBound(eventsTable, indexChronological, query.After.OccurredAt.UnixNano(), query.After.Sequence)
	}

	if err != nil {
		return nil, errors.Join(eventstore.ErrQueryingEventsFailed, err)
	}

	events := make(eventstore.StoredEvents, 0, query.Limit)

	for obj := it.Next(); obj != nil && len(events) < query.Limit; obj = it.Next() {
		event := obj.(*eventRecord).toStoredEvent() //nolint:forcetypeassert

		if !query.After.IsBefore(event) {
			continue
		}

		if query.PartitionKey != "" && event.PartitionKey != query.PartitionKey {
			continue
		}

		events = append(events, event)
	}

	return events, nil
}

// CountEvents returns the number of events in the partition, or in the whole log for an empty partition key.
func (es *EventStore) CountEvents(_ context.Context, partitionKey string) (int64, error) {
	db, err := es.database()
	if err != nil {
		return 0, err
	}

	txn := db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(eventsTable, indexID)
	if err != nil {
		return 0, errors.Join(eventstore.ErrQueryingEventsFailed, err)
	}

	var count int64

	for obj := it.Next(); obj != nil; obj = it.Next() {
		if partitionKey == "" || obj.(*eventRecord).PartitionKey == partitionKey { //nolint:forcetypeassert
			count++
		}
	}

	return count, nil
}

// Subscribe registers fn to be called synchronously with the events of every committed append.
func (es *EventStore) Subscribe(fn eventstore.EventsAppendedFunc) func() {
	es.subMu.Lock()
	defer es.subMu.Unlock()

	es.nextSubID++
	id := es.nextSubID
	es.subscribers = append(es.subscribers, subscriber{id: id, fn: fn})

	return func() {
		es.subMu.Lock()
		defer es.subMu.Unlock()

		for i, sub := range es.subscribers {
			if sub.id == id {
				es.subscribers = append(es.subscribers[:i:i], es.subscribers[i+1:]...)
				return
			}
		}
	}
}

func (es *EventStore) notify(ctx context.Context, events eventstore.StoredEvents) {
	es.subMu.RLock()
	subscribers := make([]subscriber, len(es.subscribers))
	copy(subscribers, es.subscribers)
	es.subMu.RUnlock()

	for _, sub := range subscribers {
		es.callSubscriber(ctx, sub.fn, events)
	}
}

func (es *EventStore) callSubscriber(ctx context.Context, fn eventstore.EventsAppendedFunc, events eventstore.StoredEvents) {
	defer func() {
		if r := recover(); r != nil && es.logger != nil {
			es.logger.Error(logMsgSubscriberPanicked, logAttrError, fmt.Sprintf("%v", r))
		}
	}()

	fn(ctx, events)
}

func (es *EventStore) logInfo(msg string, args ...any) {
	if es.logger != nil {
		es.logger.Info(msg, args...)
	}
}
