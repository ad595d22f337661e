package orders

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/AntonStoeckl/eventstore-projections-go/eventstore"
	"github.com/AntonStoeckl/eventstore-projections-go/projections"
)

const (
	StatusOpen      = "open"
	StatusCancelled = "cancelled"
)

// SummariesSchema describes one OrderSummaries document per order.
var SummariesSchema = projections.MustNewDocumentSchema("OrderSummaries",
	projections.Property("id", projections.PropertyTypeString).Key(),
	projections.Property("customerName", projections.PropertyTypeString).Searchable().Filterable().Sortable(),
	projections.Property("channel", projections.PropertyTypeString).Filterable(),
	projections.Property("status", projections.PropertyTypeString).Filterable(),
	projections.Property("itemsCount", projections.PropertyTypeInt).Filterable().Sortable(),
	projections.Property("total", projections.PropertyTypeDecimal).Filterable().Sortable(),
	projections.Property("placedAt", projections.PropertyTypeTime).Filterable().Sortable(),
	projections.Property("products", projections.PropertyTypeArray).Of(projections.PropertyTypeString).Searchable().Filterable(),
)

// NewSummariesBuilder folds order events into SummariesSchema documents.
// Cancelled orders stay visible with status "cancelled".
func NewSummariesBuilder(types *eventstore.TypeRegistry) *projections.Builder {
	return projections.NewBuilder(SummariesSchema, projections.StreamKey).
		On(OrderPlacedEventType, decoded(types, func(event eventstore.StoredEvent, placed OrderPlaced, _ projections.Document) projections.Document {
			return projections.Document{
				"customerName": projections.String(placed.CustomerName),
				"channel":      projections.String(placed.Channel),
				"status":       projections.String(StatusOpen),
				"itemsCount":   projections.Int(0),
				"total":        projections.Decimal(decimal.Zero),
				"placedAt":     projections.Time(event.OccurredAt),
				"products":     projections.Array(),
			}
		})).
		On(ItemAddedEventType, decoded(types, func(_ eventstore.StoredEvent, added ItemAdded, current projections.Document) projections.Document {
			if current == nil {
				return nil
			}

			count, _ := current["itemsCount"].AsInt()
			total, _ := current["total"].AsDecimal()
			products, _ := current["products"].AsArray()

			current["itemsCount"] = projections.Int(count + 1)
			current["total"] = projections.Decimal(total.Add(added.Price.Mul(decimal.NewFromInt(int64(added.Quantity)))))
			current["products"] = projections.Array(append(products, projections.String(added.Product))...)

			return current
		})).
		On(OrderCancelledEventType, decoded(types, func(_ eventstore.StoredEvent, _ OrderCancelled, current projections.Document) projections.Document {
			if current == nil {
				return nil
			}

			current["status"] = projections.String(StatusCancelled)

			return current
		}))
}

// decoded adapts a typed fold to a projections.ApplyFunc.
func decoded[E eventstore.DomainEvent](
	types *eventstore.TypeRegistry,
	fold func(event eventstore.StoredEvent, decoded E, current projections.Document) projections.Document,
) projections.ApplyFunc {

	return func(_ context.Context, event eventstore.StoredEvent, current projections.Document) (projections.Document, error) {
		domainEvent, err := types.Decode(event)
		if err != nil {
			return nil, err
		}

		typed, ok := domainEvent.(E)
		if !ok {
			return nil, fmt.Errorf("event %s decoded to unexpected type %T", event.EventType, domainEvent)
		}

		return fold(event, typed, current), nil
	}
}
