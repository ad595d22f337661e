package memengine

import (
	"context"
	"errors"

	"github.com/AntonStoeckl/eventstore-projections-go/eventstore"
)

// LoadItem returns the item stored under (id, partitionKey) or eventstore.ErrItemNotFound.
func (es *EventStore) LoadItem(_ context.Context, id string, partitionKey string) (eventstore.Item, error) {
	if id == "" {
		return eventstore.Item{}, eventstore.ErrEmptyItemID
	}

	db, err := es.database()
	if err != nil {
		return eventstore.Item{}, err
	}

	txn := db.Txn(false)
	defer txn.Abort()

	obj, err := txn.First(itemsTable, indexID, compositeKey(partitionKey, id))
	if err != nil {
		return eventstore.Item{}, errors.Join(eventstore.ErrLoadingItemFailed, err)
	}

	if obj == nil {
		return eventstore.Item{}, eventstore.ErrItemNotFound
	}

	return obj.(*itemRecord).toItem(), nil //nolint:forcetypeassert
}

// UpsertItem stores value under (id, partitionKey) if the stored revision equals expectedRevision.
// An expectedRevision of 0 requires that the item does not exist yet.
func (es *EventStore) UpsertItem(
	_ context.Context,
	id string,
	partitionKey string,
	value []byte,
	expectedRevision uint64,
) (eventstore.Item, error) {

	if id == "" {
		return eventstore.Item{}, eventstore.ErrEmptyItemID
	}

	es.mu.RLock()
	defer es.mu.RUnlock()

	if es.db == nil {
		return eventstore.Item{}, eventstore.ErrUninitialized
	}

	txn := es.db.Txn(true)
	defer txn.Abort()

	key := compositeKey(partitionKey, id)

	obj, err := txn.First(itemsTable, indexID, key)
	if err != nil {
		return eventstore.Item{}, errors.Join(eventstore.ErrUpsertingItemFailed, err)
	}

	storedRevision := uint64(0)
	if obj != nil {
		storedRevision = obj.(*itemRecord).Revision //nolint:forcetypeassert
	}

	if storedRevision != expectedRevision {
		return eventstore.Item{}, eventstore.ErrConcurrencyConflict
	}

	record := &itemRecord{
		Key:            key,
		ID:             id,
		PartitionKey:   partitionKey,
		Value:          append([]byte(nil), value...),
		Revision:       expectedRevision + 1,
		UpdatedAtNanos: es.now().UnixNano(),
	}

	if err = txn.Insert(itemsTable, record); err != nil {
		return eventstore.Item{}, errors.Join(eventstore.ErrUpsertingItemFailed, err)
	}

	txn.Commit()

	return record.toItem(), nil
}
