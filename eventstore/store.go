package eventstore

import (
	"context"
	"time"
)

// EventStore is an append-only, optimistically-concurrent event log with one stream per aggregate.
//
// Implementations must guarantee:
//   - Events of a stream are returned in ascending version order.
//   - AppendToStream atomically verifies the expected version and commits all events or none.
//   - LoadEventsChronological pages through the whole log by Position without skipping
//     or duplicating events at chunk boundaries.
type EventStore interface {
	// Initialize idempotently creates the underlying storage structures.
	Initialize(ctx context.Context) error

	// DeleteAll idempotently removes the underlying storage structures including all events.
	DeleteAll(ctx context.Context) error

	// LoadStream returns all events of the stream. An empty stream has version 0 and no events.
	LoadStream(ctx context.Context, streamID string, partitionKey string) (EventStream, error)

	// LoadStreamOrNotFound behaves like LoadStream but returns ErrStreamNotFound for an empty stream.
	LoadStreamOrNotFound(ctx context.Context, streamID string, partitionKey string) (EventStream, error)

	// LoadStreamFromVersion returns only the events with a version >= fromVersion.
	LoadStreamFromVersion(
		ctx context.Context,
		streamID string,
		partitionKey string,
		fromVersion VersionUint,
	) (EventStream, error)

	// AppendToStream appends the events with versions expectedVersion+1, +2, ... in input order.
	//
	// It returns false (and no error) if the current version of the stream did not match
	// expectedVersion; nothing was written then and the caller should reload and retry.
	// All events must share partitionKey, otherwise ErrPartitionKeyMismatch is returned.
	AppendToStream(
		ctx context.Context,
		userInfo string,
		streamID string,
		partitionKey string,
		expectedVersion VersionUint,
		event StorableEvent,
		additionalEvents ...StorableEvent,
	) (bool, error)

	// LoadEventsChronological returns the next chunk of the cross-stream log after query.After.
	LoadEventsChronological(ctx context.Context, query ChronologicalQuery) (StoredEvents, error)
}

// EventsAppendedFunc is invoked with the events of one successful append, ordered by version.
type EventsAppendedFunc func(ctx context.Context, events StoredEvents)

// Notifier is implemented by stores that push freshly appended events to subscribers.
// Subscribers are invoked synchronously, right after the append was committed.
type Notifier interface {
	Subscribe(fn EventsAppendedFunc) (unsubscribe func())
}

// EventCounter is implemented by stores that can count events, e.g., to report rebuild progress.
type EventCounter interface {
	CountEvents(ctx context.Context, partitionKey string) (int64, error)
}

// Item is a value stored in a KeyValueStore. Its identity is the pair (ID, PartitionKey).
type Item struct {
	ID           string
	PartitionKey string
	Value        []byte
	Revision     uint64
	UpdatedAt    time.Time
}

// KeyValueStore is the keyed storage for arbitrary non-evented state, e.g., projection index state records.
//
// Every successful UpsertItem increments the item's Revision, which makes compare-and-swap possible:
// an expectedRevision that does not match the stored one yields ErrConcurrencyConflict.
// An expectedRevision of 0 means the item must not exist yet.
type KeyValueStore interface {
	Initialize(ctx context.Context) error
	DeleteAll(ctx context.Context) error
	LoadItem(ctx context.Context, id string, partitionKey string) (Item, error)
	UpsertItem(ctx context.Context, id string, partitionKey string, value []byte, expectedRevision uint64) (Item, error)
}
