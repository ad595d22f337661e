// Package orders is a small order domain: an event-sourced Order aggregate and the
// OrderSummaries projection derived from its events.
package orders

import (
	"github.com/shopspring/decimal"

	"github.com/AntonStoeckl/eventstore-projections-go/eventstore"
)

const (
	AggregateType = "Order"

	OrderPlacedEventType    = "OrderPlaced"
	ItemAddedEventType      = "ItemAdded"
	OrderCancelledEventType = "OrderCancelled"
)

type OrderPlaced struct {
	CustomerName string `json:"customerName"`
	Channel      string `json:"channel,omitempty"`
}

type ItemAdded struct {
	Product  string          `json:"product"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

type OrderCancelled struct {
	Reason string `json:"reason,omitempty"`
}

func (OrderPlaced) EventType() string    { return OrderPlacedEventType }
func (ItemAdded) EventType() string      { return ItemAddedEventType }
func (OrderCancelled) EventType() string { return OrderCancelledEventType }

// NewTypeRegistry registers the decoders of all order events.
func NewTypeRegistry() *eventstore.TypeRegistry {
	types := eventstore.NewTypeRegistry()
	eventstore.Register[OrderPlaced](types, OrderPlacedEventType)
	eventstore.Register[ItemAdded](types, ItemAddedEventType)
	eventstore.Register[OrderCancelled](types, OrderCancelledEventType)

	return types
}
