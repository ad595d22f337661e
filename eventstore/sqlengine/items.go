package sqlengine

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/AntonStoeckl/eventstore-projections-go/eventstore"
	"github.com/AntonStoeckl/eventstore-projections-go/internal/adapters"
)

// LoadItem returns the item stored under (id, partitionKey) or eventstore.ErrItemNotFound.
func (es *EventStore) LoadItem(ctx context.Context, id string, partitionKey string) (eventstore.Item, error) {
	if id == "" {
		return eventstore.Item{}, eventstore.ErrEmptyItemID
	}

	observer, ctx := es.startOperation(ctx, spanNameItem, metricItemDuration, operationLoadItem, nil)

	sqlQuery, _, err := es.builder().
		From(es.itemsTableName).
		Select(colValue, colRevision, colUpdatedAt).
		Where(goqu.C(colID).Eq(id), goqu.C(colPartitionKey).Eq(partitionKey)).
		ToSQL()
	if err != nil {
		observer.failure(errorTypeBuildQuery)
		return eventstore.Item{}, errors.Join(eventstore.ErrBuildingQueryFailed, err)
	}

	start := time.Now()
	rows, err := es.db.Query(ctx, sqlQuery)
	es.logQueryWithDuration(ctx, sqlQuery, logActionLoadItem, time.Since(start))

	if err != nil {
		observer.failure(errorTypeDatabase)
		return eventstore.Item{}, es.wrapDBError(ctx, eventstore.ErrLoadingItemFailed, err, logMsgDBQueryFailed, logAttrQuery, sqlQuery)
	}
	defer es.closeRows(ctx, rows)

	if !rows.Next() {
		if err = rows.Err(); err != nil {
			observer.failure(errorTypeDatabase)
			return eventstore.Item{}, es.wrapDBError(ctx, eventstore.ErrLoadingItemFailed, err, logMsgDBQueryFailed)
		}

		observer.success("", 0, nil)

		return eventstore.Item{}, eventstore.ErrItemNotFound
	}

	var (
		value     []byte
		revision  int64
		updatedAt int64
	)

	if err = rows.Scan(&value, &revision, &updatedAt); err != nil {
		es.logError(ctx, logMsgScanRowFailed, err)
		observer.failure(errorTypeScan)

		return eventstore.Item{}, errors.Join(eventstore.ErrScanningDBRowFailed, err)
	}

	observer.success("", 0, nil)

	return eventstore.Item{
		ID:           id,
		PartitionKey: partitionKey,
		Value:        value,
		Revision:     uint64(revision), //nolint:gosec
		UpdatedAt:    time.Unix(0, updatedAt).UTC(),
	}, nil
}

// UpsertItem stores value under (id, partitionKey) if the stored revision equals expectedRevision.
//
// An expectedRevision of 0 inserts the item and fails if it already exists; any other revision
// updates the item only if it was not modified in between. A mismatch yields eventstore.ErrConcurrencyConflict.
// Values are stored as text, which suits the JSON documents kept here.
func (es *EventStore) UpsertItem(
	ctx context.Context,
	id string,
	partitionKey string,
	value []byte,
	expectedRevision uint64,
) (eventstore.Item, error) {

	if id == "" {
		return eventstore.Item{}, eventstore.ErrEmptyItemID
	}

	observer, ctx := es.startOperation(ctx, spanNameItem, metricItemDuration, operationUpsertItem,
		map[string]string{logAttrRevision: strconv.FormatUint(expectedRevision, 10)})

	item := eventstore.Item{
		ID:           id,
		PartitionKey: partitionKey,
		Value:        value,
		Revision:     expectedRevision + 1,
		UpdatedAt:    time.Now().UTC(),
	}

	sqlQuery, err := es.buildUpsertItemQuery(item, expectedRevision)
	if err != nil {
		observer.failure(errorTypeBuildQuery)
		return eventstore.Item{}, errors.Join(eventstore.ErrBuildingQueryFailed, err)
	}

	rowsAffected, err := es.exec(ctx, es.db, sqlQuery, logActionUpsertItem)

	switch {
	case err != nil && adapters.IsUniqueViolation(err):
		observer.conflict()
		return eventstore.Item{}, eventstore.ErrConcurrencyConflict

	case err != nil:
		observer.failure(errorType(err))
		return eventstore.Item{}, errors.Join(eventstore.ErrUpsertingItemFailed, err)

	case rowsAffected == 0:
		observer.conflict()
		return eventstore.Item{}, eventstore.ErrConcurrencyConflict
	}

	es.logOperation(ctx, logMsgItemUpserted, logAttrItemID, id, logAttrRevision, item.Revision)
	observer.success("", 0, nil)

	return item, nil
}

func (es *EventStore) buildUpsertItemQuery(item eventstore.Item, expectedRevision uint64) (string, error) {
	if expectedRevision == 0 {
		sqlQuery, _, err := es.builder().
			Insert(es.itemsTableName).
			Rows(goqu.Record{
				colID:           item.ID,
				colPartitionKey: item.PartitionKey,
				colValue:        string(item.Value),
				colRevision:     int64(item.Revision), //nolint:gosec
				colUpdatedAt:    item.UpdatedAt.UnixNano(),
			}).
			ToSQL()

		return sqlQuery, err
	}

	sqlQuery, _, err := es.builder().
		Update(es.itemsTableName).
		Set(goqu.Record{
			colValue:     string(item.Value),
			colRevision:  int64(item.Revision), //nolint:gosec
			colUpdatedAt: item.UpdatedAt.UnixNano(),
		}).
		Where(
			goqu.C(colID).Eq(item.ID),
			goqu.C(colPartitionKey).Eq(item.PartitionKey),
			goqu.C(colRevision).Eq(int64(expectedRevision)), //nolint:gosec
		).
		ToSQL()

	return sqlQuery, err
}
