package eventstore

import (
	"errors"
)

var (
	// ErrStreamNotFound is returned by LoadStreamOrNotFound when a stream has no events.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrItemNotFound is returned by a KeyValueStore when an item does not exist.
	ErrItemNotFound = errors.New("item not found")

	// ErrConcurrencyConflict signals that an optimistic concurrency check failed.
	ErrConcurrencyConflict = errors.New("concurrency error, expected version or revision did not match")

	// ErrUninitialized is returned when the underlying storage structures are missing.
	// Calling Initialize() on the store recovers from it.
	ErrUninitialized = errors.New("storage is not initialized")

	// ErrPartitionKeyMismatch is returned when the events of one append do not share one partition key.
	ErrPartitionKeyMismatch = errors.New("all events of one append must share the same partition key")

	// ErrEmptyStreamID is returned when an empty stream id is supplied.
	ErrEmptyStreamID = errors.New("stream id must not be empty")

	// ErrEmptyItemID is returned when an empty item id is supplied.
	ErrEmptyItemID = errors.New("item id must not be empty")

	// ErrInvalidChunkLimit is returned when a chronological load is requested with a non-positive limit.
	ErrInvalidChunkLimit = errors.New("chronological load limit must be positive")

	ErrEmptyTableName              = errors.New("empty table name supplied")
	ErrNilDatabaseConnection       = errors.New("database connection must not be nil")
	ErrQueryingEventsFailed        = errors.New("querying events failed")
	ErrAppendingEventFailed        = errors.New("appending the event failed")
	ErrScanningDBRowFailed         = errors.New("scanning the database row failed")
	ErrBuildingQueryFailed         = errors.New("building the query failed")
	ErrBuildingStorableEventFailed = errors.New("building the storable event failed")
	ErrLoadingItemFailed           = errors.New("loading the item failed")
	ErrUpsertingItemFailed         = errors.New("upserting the item failed")
	ErrInitializingStorageFailed   = errors.New("initializing the storage failed")
	ErrDeletingStorageFailed       = errors.New("deleting the storage failed")
	ErrUnknownEventType            = errors.New("unknown event type")
)

// VersionUint is a type alias for uint64, representing the version of an event stream.
type VersionUint = uint64

// SequenceUint is a type alias for uint64, representing the global, store-assigned sequence of an event.
type SequenceUint = uint64
