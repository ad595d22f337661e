// Package memrepo provides an in-memory projections.Backend backed by hashicorp/go-memdb.
//
// Queries are evaluated with projections.ApplyQuery, i.e. with the predicates compiled from
// the filter translation. Documents are copied on every read and write.
package memrepo

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-memdb"

	"github.com/AntonStoeckl/eventstore-projections-go/projections"
)

const (
	indexesTable   = "indexes"
	documentsTable = "documents"

	indexID    = "id"
	indexIndex = "index"
)

var errUnexpectedRecord = errors.New("unexpected record type in memdb table")

type indexRecord struct {
	Name string
}

type documentRecord struct {
	Key            string
	Index          string
	ID             string
	PartitionKey   string
	Doc            projections.Document
	UpdatedAtNanos int64
}

func documentKey(indexName, partitionKey, id string) string {
	return indexName + "\x00" + partitionKey + "\x00" + id
}

var dbSchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		indexesTable: {
			Name: indexesTable,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: {
					Name:    indexID,
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Name"},
				},
			},
		},
		documentsTable: {
			Name: documentsTable,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: {
					Name:    indexID,
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Key"},
				},
				indexIndex: {
					Name:    indexIndex,
					Indexer: &memdb.StringFieldIndex{Field: "Index"},
				},
			},
		},
	},
}

// Backend is the in-memory projections.Backend.
type Backend struct {
	db *memdb.MemDB
}

// New creates an empty Backend.
func New() (*Backend, error) {
	db, err := memdb.NewMemDB(dbSchema)
	if err != nil {
		return nil, err
	}

	return &Backend{db: db}, nil
}

// CreateIndex idempotently creates the index.
func (b *Backend) CreateIndex(_ context.Context, indexName string, _ projections.DocumentSchema) error {
	txn := b.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(indexesTable, indexID, indexName)
	if err != nil {
		return err
	}

	if existing != nil {
		return nil
	}

	if err = txn.Insert(indexesTable, &indexRecord{Name: indexName}); err != nil {
		return err
	}

	txn.Commit()

	return nil
}

// DeleteIndex idempotently removes the index and its documents.
func (b *Backend) DeleteIndex(_ context.Context, indexName string) error {
	txn := b.db.Txn(true)
	defer txn.Abort()

	if _, err := txn.DeleteAll(indexesTable, indexID, indexName); err != nil {
		return err
	}

	if _, err := txn.DeleteAll(documentsTable, indexIndex, indexName); err != nil {
		return err
	}

	txn.Commit()

	return nil
}

// Single returns a copy of one document or projections.ErrDocumentNotFound.
func (b *Backend) Single(
	_ context.Context,
	indexName string,
	_ projections.DocumentSchema,
	id string,
	partitionKey string,
) (projections.Document, error) {

	txn := b.db.Txn(false)
	defer txn.Abort()

	if err := requireIndex(txn, indexName); err != nil {
		return nil, err
	}

	obj, err := txn.First(documentsTable, indexID, documentKey(indexName, partitionKey, id))
	if err != nil {
		return nil, err
	}

	if obj == nil {
		return nil, projections.ErrDocumentNotFound
	}

	record, ok := obj.(*documentRecord)
	if !ok {
		return nil, errUnexpectedRecord
	}

	return record.Doc.Clone(), nil
}

// Query evaluates the query against all documents of the index, optionally restricted to one partition.
func (b *Backend) Query(
	_ context.Context,
	indexName string,
	schema projections.DocumentSchema,
	query projections.Query,
	partitionKey string,
) (projections.QueryResult, error) {

	txn := b.db.Txn(false)
	defer txn.Abort()

	if err := requireIndex(txn, indexName); err != nil {
		return projections.QueryResult{}, err
	}

	records, err := documents(txn, indexName, partitionKey)
	if err != nil {
		return projections.QueryResult{}, err
	}

	docs := make([]projections.Document, 0, len(records))
	for _, record := range records {
		docs = append(docs, record.Doc)
	}

	return projections.ApplyQuery(schema, query, docs)
}

// Upsert inserts or replaces a copy of the document.
func (b *Backend) Upsert(
	_ context.Context,
	indexName string,
	doc projections.Document,
	id string,
	partitionKey string,
	updatedAt time.Time,
) error {

	txn := b.db.Txn(true)
	defer txn.Abort()

	if err := requireIndex(txn, indexName); err != nil {
		return err
	}

	record := &documentRecord{
		Key:            documentKey(indexName, partitionKey, id),
		Index:          indexName,
		ID:             id,
		PartitionKey:   partitionKey,
		Doc:            doc.Clone(),
		UpdatedAtNanos: updatedAt.UnixNano(),
	}

	if err := txn.Insert(documentsTable, record); err != nil {
		return err
	}

	txn.Commit()

	return nil
}

// Delete removes one document. Deleting a missing document is not an error.
func (b *Backend) Delete(_ context.Context, indexName string, id string, partitionKey string) error {
	txn := b.db.Txn(true)
	defer txn.Abort()

	if err := requireIndex(txn, indexName); err != nil {
		return err
	}

	if _, err := txn.DeleteAll(documentsTable, indexID, documentKey(indexName, partitionKey, id)); err != nil {
		return err
	}

	txn.Commit()

	return nil
}

// DeleteAll removes the documents of one partition, or of all partitions if partitionKey is empty.
func (b *Backend) DeleteAll(_ context.Context, indexName string, partitionKey string) error {
	txn := b.db.Txn(true)
	defer txn.Abort()

	if err := requireIndex(txn, indexName); err != nil {
		return err
	}

	records, err := documents(txn, indexName, partitionKey)
	if err != nil {
		return err
	}

	for _, record := range records {
		if err = txn.Delete(documentsTable, record); err != nil {
			return err
		}
	}

	txn.Commit()

	return nil
}

func requireIndex(txn *memdb.Txn, indexName string) error {
	existing, err := txn.First(indexesTable, indexID, indexName)
	if err != nil {
		return err
	}

	if existing == nil {
		return projections.ErrIndexNotFound
	}

	return nil
}

// documents collects the records of an index before the caller modifies the table.
func documents(txn *memdb.Txn, indexName string, partitionKey string) ([]*documentRecord, error) {
	it, err := txn.Get(documentsTable, indexIndex, indexName)
	if err != nil {
		return nil, err
	}

	var records []*documentRecord

	for obj := it.Next(); obj != nil; obj = it.Next() {
		record, ok := obj.(*documentRecord)
		if !ok {
			return nil, errUnexpectedRecord
		}

		if partitionKey == "" || record.PartitionKey == partitionKey {
			records = append(records, record)
		}
	}

	return records, nil
}
