package eventstore

import (
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var (
	// ErrInvalidPayloadJSON is returned when the payload is not valid JSON.
	ErrInvalidPayloadJSON = errors.New("payload json is not valid")

	// ErrInvalidMetadataJSON is returned when the metadata is not valid JSON.
	ErrInvalidMetadataJSON = errors.New("metadata json is not valid")

	// ErrEmptyEventType is returned when an event is built without a type tag.
	ErrEmptyEventType = errors.New("event type must not be empty")
)

// StorableEvents is an alias type for a slice of StorableEvent
type StorableEvents = []StorableEvent

// StorableEvent is a DTO (data transfer object) used to append events to an EventStore.
//
// It is built on scalars to be completely agnostic of the implementation of Domain Events in the client code.
// The stream it belongs to and its version are assigned by AppendToStream.
//
// While its properties are exported, it should only be constructed with the supplied factory methods:
//   - BuildStorableEvent
//   - BuildStorableEventWithEmptyMetadata
type StorableEvent struct {
	EventType     string
	AggregateType string
	PartitionKey  string
	OccurredAt    time.Time
	PayloadJSON   []byte
	MetadataJSON  []byte
}

// BuildStorableEvent is a factory method for StorableEvent.
//
// It populates the StorableEvent with the given scalar input.
// Returns an error if eventType is empty or payloadJSON or metadataJSON are not valid JSON.
func BuildStorableEvent(
	eventType string,
	aggregateType string,
	partitionKey string,
	occurredAt time.Time,
	payloadJSON []byte,
	metadataJSON []byte,
) (StorableEvent, error) {

	if eventType == "" {
		return StorableEvent{}, ErrEmptyEventType
	}

	if !jsoniter.ConfigFastest.Valid(payloadJSON) {
		return StorableEvent{}, ErrInvalidPayloadJSON
	}

	if !jsoniter.ConfigFastest.Valid(metadataJSON) {
		return StorableEvent{}, ErrInvalidMetadataJSON
	}

	return StorableEvent{
		EventType:     eventType,
		AggregateType: aggregateType,
		PartitionKey:  partitionKey,
		OccurredAt:    occurredAt,
		PayloadJSON:   payloadJSON,
		MetadataJSON:  metadataJSON,
	}, nil
}

// BuildStorableEventWithEmptyMetadata is a factory method for StorableEvent.
//
// It populates the StorableEvent with the given scalar input and creates valid empty JSON for MetadataJSON.
func BuildStorableEventWithEmptyMetadata(
	eventType string,
	aggregateType string,
	partitionKey string,
	occurredAt time.Time,
	payloadJSON []byte,
) (StorableEvent, error) {

	return BuildStorableEvent(eventType, aggregateType, partitionKey, occurredAt, payloadJSON, []byte("{}"))
}

// CheckPartitionKeys makes sure all events share the given partition key.
// Events with an empty partition key inherit it. The returned slice is a copy.
func CheckPartitionKeys(partitionKey string, events StorableEvents) (StorableEvents, error) {
	checked := make(StorableEvents, 0, len(events))

	for _, event := range events {
		switch event.PartitionKey {
		case "":
			event.PartitionKey = partitionKey
		case partitionKey:
		default:
			return nil, ErrPartitionKeyMismatch
		}

		checked = append(checked, event)
	}

	return checked, nil
}
