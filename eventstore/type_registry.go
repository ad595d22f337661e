package eventstore

import (
	"errors"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// DomainEvent is a business event as defined by client code.
type DomainEvent interface {
	// EventType returns the string identifier for this event type
	EventType() string
}

// DecodeFunc turns a stored payload back into a DomainEvent.
type DecodeFunc func(payloadJSON []byte) (DomainEvent, error)

// TypeRegistry maps event type tags to decode functions.
// It is built once at construction time and replaces any reflection-based type resolution.
type TypeRegistry struct {
	mu       sync.RWMutex
	decoders map[string]DecodeFunc
}

// NewTypeRegistry creates an empty TypeRegistry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{decoders: make(map[string]DecodeFunc)}
}

// RegisterDecoder registers a decode function for the given event type.
func (r *TypeRegistry) RegisterDecoder(eventType string, decode DecodeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.decoders[eventType] = decode
}

// Register registers T under eventType, decoding payloads with jsoniter.
func Register[T DomainEvent](r *TypeRegistry, eventType string) {
	r.RegisterDecoder(eventType, func(payloadJSON []byte) (DomainEvent, error) {
		var event T
		if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(payloadJSON, &event); err != nil {
			return nil, errors.Join(errors.New("unmarshalling event from json failed"), err)
		}

		return event, nil
	})
}

// IsRegistered reports whether a decoder exists for the event type.
func (r *TypeRegistry) IsRegistered(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.decoders[eventType]

	return ok
}

// Decode turns a StoredEvent into the registered DomainEvent.
func (r *TypeRegistry) Decode(event StoredEvent) (DomainEvent, error) {
	r.mu.RLock()
	decode, ok := r.decoders[event.EventType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, event.EventType)
	}

	return decode(event.PayloadJSON)
}

// Encode builds a StorableEvent from a DomainEvent, marshalling it with jsoniter.
func Encode(
	event DomainEvent,
	aggregateType string,
	partitionKey string,
	occurredAt time.Time,
) (StorableEvent, error) {

	payloadJSON, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(event)
	if err != nil {
		return StorableEvent{}, errors.Join(errors.New("marshalling event to json failed"), err)
	}

	return BuildStorableEventWithEmptyMetadata(event.EventType(), aggregateType, partitionKey, occurredAt, payloadJSON)
}
