// Package aggregate provides an event-sourced aggregate root and a repository that loads,
// saves and retries aggregates on top of an eventstore.EventStore.
//
// Aggregates embed Root and register one apply function per event type while they are
// constructed, typically in the factory passed to NewRepository:
//
//	func NewOrder(id, partitionKey string) *Order {
//		order := &Order{}
//		order.Init("Order", id, partitionKey)
//		aggregate.On(&order.Root, OrderPlacedEventType, func(e OrderPlaced) { order.customer = e.Customer })
//
//		return order
//	}
package aggregate

import (
	"errors"
	"fmt"

	"github.com/AntonStoeckl/eventstore-projections-go/eventstore"
)

var (
	// ErrNoHandler is returned when an event is raised or replayed that the aggregate did not register.
	ErrNoHandler = errors.New("aggregate has no handler for event type")

	// ErrUninitializedRoot is returned for an aggregate whose Root was never initialized.
	ErrUninitializedRoot = errors.New("aggregate root was not initialized")
)

// Aggregate is implemented by every type that embeds Root.
type Aggregate interface {
	AggregateRoot() *Root
}

// Root holds identity, version and the pending events of an aggregate.
type Root struct {
	aggregateType    string
	id               string
	partitionKey     string
	persistedVersion eventstore.VersionUint
	handlers         map[string]func(eventstore.DomainEvent)
	uncommitted      []eventstore.DomainEvent
}

// Init sets the identity of the aggregate. It must be called before handlers are registered.
func (r *Root) Init(aggregateType, id, partitionKey string) {
	r.aggregateType = aggregateType
	r.id = id
	r.partitionKey = partitionKey
	r.handlers = make(map[string]func(eventstore.DomainEvent))
}

// AggregateRoot implements Aggregate.
func (r *Root) AggregateRoot() *Root {
	return r
}

func (r *Root) AggregateType() string { return r.aggregateType }
func (r *Root) ID() string            { return r.id }
func (r *Root) PartitionKey() string  { return r.partitionKey }

// Version includes the uncommitted events.
func (r *Root) Version() eventstore.VersionUint {
	return r.persistedVersion + eventstore.VersionUint(len(r.uncommitted))
}

// PersistedVersion is the version of the stream the aggregate was loaded from or last saved to.
func (r *Root) PersistedVersion() eventstore.VersionUint {
	return r.persistedVersion
}

// Uncommitted returns the events raised since the last load or save.
func (r *Root) Uncommitted() []eventstore.DomainEvent {
	return append([]eventstore.DomainEvent(nil), r.uncommitted...)
}

// Register sets the apply function for an event type, replacing a previous one.
func (r *Root) Register(eventType string, apply func(eventstore.DomainEvent)) {
	if r.handlers == nil {
		r.handlers = make(map[string]func(eventstore.DomainEvent))
	}

	r.handlers[eventType] = apply
}

// On registers a typed apply function. Events of eventType must decode to E.
func On[E eventstore.DomainEvent](r *Root, eventType string, apply func(E)) {
	r.Register(eventType, func(event eventstore.DomainEvent) {
		if typed, ok := event.(E); ok {
			apply(typed)
		}
	})
}

// Raise applies the event and records it as uncommitted.
func (r *Root) Raise(event eventstore.DomainEvent) error {
	if err := r.apply(event); err != nil {
		return err
	}

	r.uncommitted = append(r.uncommitted, event)

	return nil
}

func (r *Root) replay(event eventstore.DomainEvent, version eventstore.VersionUint) error {
	if err := r.apply(event); err != nil {
		return err
	}

	r.persistedVersion = version

	return nil
}

func (r *Root) apply(event eventstore.DomainEvent) error {
	apply, ok := r.handlers[event.EventType()]
	if !ok {
		return fmt.Errorf("%w: %s on %s", ErrNoHandler, event.EventType(), r.aggregateType)
	}

	apply(event)

	return nil
}

func (r *Root) markCommitted(version eventstore.VersionUint) {
	r.persistedVersion = version
	r.uncommitted = nil
}
