package orders

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/AntonStoeckl/eventstore-projections-go/aggregate"
)

var (
	ErrOrderAlreadyPlaced = errors.New("order was already placed")
	ErrOrderNotPlaced     = errors.New("order was not placed")
	ErrOrderCancelled     = errors.New("order is cancelled")
	ErrInvalidItem        = errors.New("item needs a product, a positive quantity and a non-negative price")
)

// Order is the event-sourced order aggregate.
type Order struct {
	aggregate.Root

	placed    bool
	cancelled bool
	items     int
	total     decimal.Decimal
}

// NewOrder is the aggregate.Factory of Order.
func NewOrder(id, partitionKey string) *Order {
	o := &Order{}
	o.Init(AggregateType, id, partitionKey)

	aggregate.On(&o.Root, OrderPlacedEventType, func(OrderPlaced) { o.placed = true })
	aggregate.On(&o.Root, ItemAddedEventType, func(e ItemAdded) {
		o.items++
		o.total = o.total.Add(e.Price.Mul(decimal.NewFromInt(int64(e.Quantity))))
	})
	aggregate.On(&o.Root, OrderCancelledEventType, func(OrderCancelled) { o.cancelled = true })

	return o
}

func (o *Order) Place(customerName, channel string) error {
	if o.placed {
		return ErrOrderAlreadyPlaced
	}

	return o.Raise(OrderPlaced{CustomerName: customerName, Channel: channel})
}

func (o *Order) AddItem(product string, quantity int, price decimal.Decimal) error {
	if err := o.checkOpen(); err != nil {
		return err
	}

	if product == "" || quantity <= 0 || price.IsNegative() {
		return ErrInvalidItem
	}

	return o.Raise(ItemAdded{Product: product, Quantity: quantity, Price: price})
}

func (o *Order) Cancel(reason string) error {
	if err := o.checkOpen(); err != nil {
		return err
	}

	return o.Raise(OrderCancelled{Reason: reason})
}

// Items is the number of item lines.
func (o *Order) Items() int { return o.items }

func (o *Order) Total() decimal.Decimal { return o.total }

func (o *Order) checkOpen() error {
	switch {
	case !o.placed:
		return ErrOrderNotPlaced
	case o.cancelled:
		return ErrOrderCancelled
	}

	return nil
}
