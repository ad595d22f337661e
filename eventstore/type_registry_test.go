package eventstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type itemAdded struct {
	OrderID string
	Price   float64
}

func (itemAdded) EventType() string { return "ItemAdded" }

func Test_TypeRegistry_RoundTrip(t *testing.T) {
	// setup
	registry := NewTypeRegistry()
	Register[itemAdded](registry, "ItemAdded")

	// arrange
	storable, err := Encode(itemAdded{OrderID: "order-1", Price: 6.95}, "Order", "tenant-1", time.Now())
	require.NoError(t, err)

	// act
	decoded, err := registry.Decode(StoredEvent{StorableEvent: storable, Version: 1})

	// assert
	require.NoError(t, err)
	assert.Equal(t, itemAdded{OrderID: "order-1", Price: 6.95}, decoded)
	assert.True(t, registry.IsRegistered("ItemAdded"))
}

func Test_TypeRegistry_Decode_When_EventTypeIsUnknown(t *testing.T) {
	registry := NewTypeRegistry()

	_, err := registry.Decode(StoredEvent{StorableEvent: StorableEvent{EventType: "Unknown", PayloadJSON: []byte(`{}`)}})

	assert.ErrorIs(t, err, ErrUnknownEventType)
}
