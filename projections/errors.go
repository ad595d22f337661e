package projections

import (
	"errors"
	"fmt"
)

var (
	// ErrSchemaConfiguration signals an invalid DocumentSchema. It is a programming error and never retried.
	ErrSchemaConfiguration = errors.New("invalid projection schema configuration")

	// ErrIndexNotFound is returned by a Backend when the addressed index does not exist.
	ErrIndexNotFound = errors.New("projection index not found")

	// ErrIndexNotReady is returned when a write targets a schema that has no completed index yet.
	// It is retryable once a rebuild has completed.
	ErrIndexNotReady = errors.New("no completed projection index available yet")

	// ErrDocumentNotFound is returned when a projection document does not exist.
	ErrDocumentNotFound = errors.New("projection document not found")

	// ErrInvalidDocument is returned when a document does not match its schema.
	ErrInvalidDocument = errors.New("projection document does not match its schema")

	// ErrInvalidFilter is returned when a filter cannot be translated against a schema.
	ErrInvalidFilter = errors.New("invalid projection filter")

	// ErrMalformedFilter is returned when a serialized filter cannot be parsed.
	ErrMalformedFilter = errors.New("malformed serialized filter")

	// ErrMalformedQuery is returned when a serialized query cannot be parsed.
	ErrMalformedQuery = errors.New("malformed serialized query")

	// ErrUnsupportedQueryVersion is returned when a serialized query carries an unknown format version.
	ErrUnsupportedQueryVersion = errors.New("unsupported serialized query version")

	// ErrRebuildLockLost is returned when another worker took over the rebuild of an index.
	ErrRebuildLockLost = errors.New("projection rebuild lock is held by another worker")

	// ErrRegistryClosed is returned by a Registry after Close was called.
	ErrRegistryClosed = errors.New("projection registry closed")

	// ErrRebuildCancelled is recorded when the context of a rebuild was cancelled before it completed.
	ErrRebuildCancelled = errors.New("projection rebuild cancelled")

	// ErrDuplicateBuilder is returned when two builders declare the same schema name.
	ErrDuplicateBuilder = errors.New("projection builder already registered for schema")

	ErrLoadingIndexStateFailed  = errors.New("loading the projection index state failed")
	ErrSavingIndexStateFailed   = errors.New("saving the projection index state failed")
	ErrSavingRebuildStateFailed = errors.New("saving the projection rebuild state failed")
)

// IndexError adds the affected index and operation to an error of a Backend.
type IndexError struct {
	Index string
	Op    string
	Err   error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("projection index %q: %s: %v", e.Index, e.Op, e.Err)
}

func (e *IndexError) Unwrap() error {
	return e.Err
}
