package projections

import (
	"context"
	"time"
)

// Backend stores projection documents in named indexes. A document's identity is (id, partitionKey).
//
// Operations on an index that does not exist return ErrIndexNotFound; the Repository then
// creates the index and retries once.
type Backend interface {
	// CreateIndex idempotently creates the index for the schema.
	CreateIndex(ctx context.Context, indexName string, schema DocumentSchema) error

	// DeleteIndex idempotently removes the index including all its documents.
	DeleteIndex(ctx context.Context, indexName string) error

	// Single returns one document or ErrDocumentNotFound.
	Single(ctx context.Context, indexName string, schema DocumentSchema, id string, partitionKey string) (Document, error)

	// Query returns one page of matching documents plus the overall match count.
	// An empty partitionKey queries all partitions.
	Query(ctx context.Context, indexName string, schema DocumentSchema, query Query, partitionKey string) (QueryResult, error)

	// Upsert inserts or replaces the document.
	Upsert(ctx context.Context, indexName string, doc Document, id string, partitionKey string, updatedAt time.Time) error

	// Delete removes one document; deleting a missing document is not an error.
	Delete(ctx context.Context, indexName string, id string, partitionKey string) error

	// DeleteAll removes all documents of the partition, or of all partitions if partitionKey is empty.
	DeleteAll(ctx context.Context, indexName string, partitionKey string) error
}
