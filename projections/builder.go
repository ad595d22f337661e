package projections

import (
	"context"
	"errors"

	"github.com/AntonStoeckl/eventstore-projections-go/eventstore"
)

// KeyFunc maps an event to the identity (id, partitionKey) of the document it affects.
type KeyFunc func(event eventstore.StoredEvent) (id string, partitionKey string)

// ApplyFunc folds one event into the current document, which is nil if the document does not exist yet.
// The returned document replaces the current one; returning nil deletes it.
// The current document is a copy and may be modified and returned.
type ApplyFunc func(ctx context.Context, event eventstore.StoredEvent, current Document) (Document, error)

// StreamKey identifies a document by the stream of the event, which suits projections
// with one document per aggregate.
func StreamKey(event eventstore.StoredEvent) (string, string) {
	return event.StreamID, event.PartitionKey
}

// Builder derives the documents of one schema from events.
// Event types are bound to ApplyFuncs explicitly with On.
type Builder struct {
	schema     DocumentSchema
	keyFunc    KeyFunc
	handlers   map[string]ApplyFunc
	eventTypes []string
}

// NewBuilder creates a Builder for the schema. A nil keyFunc defaults to StreamKey.
func NewBuilder(schema DocumentSchema, keyFunc KeyFunc) *Builder {
	if keyFunc == nil {
		keyFunc = StreamKey
	}

	return &Builder{
		schema:   schema,
		keyFunc:  keyFunc,
		handlers: make(map[string]ApplyFunc),
	}
}

// On binds an event type to an ApplyFunc. Binding the same type again replaces the previous func.
func (b *Builder) On(eventType string, apply ApplyFunc) *Builder {
	if _, ok := b.handlers[eventType]; !ok {
		b.eventTypes = append(b.eventTypes, eventType)
	}

	b.handlers[eventType] = apply

	return b
}

// Schema returns the schema of the documents the builder produces.
func (b *Builder) Schema() DocumentSchema {
	return b.schema
}

// Handles reports whether the builder declared the event type.
func (b *Builder) Handles(eventType string) bool {
	_, ok := b.handlers[eventType]
	return ok
}

// EventTypes returns the declared event types in declaration order.
func (b *Builder) EventTypes() []string {
	return append([]string(nil), b.eventTypes...)
}

// keysOnlyTo reports whether the builder handles at least one of the events and maps each one it
// handles to the document (id, partitionKey).
func (b *Builder) keysOnlyTo(events eventstore.StoredEvents, id string, partitionKey string) bool {
	handled := false

	for _, event := range events {
		if !b.Handles(event.EventType) {
			continue
		}

		eventID, eventPartitionKey := b.keyFunc(event)
		if eventID != id || eventPartitionKey != partitionKey {
			return false
		}

		handled = true
	}

	return handled
}

// apply runs a read-modify-write of the affected document in the named index.
// Events of undeclared types are ignored.
func (b *Builder) apply(ctx context.Context, repository *Repository, indexName string, event eventstore.StoredEvent) error {
	apply, ok := b.handlers[event.EventType]
	if !ok {
		return nil
	}

	id, partitionKey := b.keyFunc(event)

	current, err := repository.GetFrom(ctx, indexName, id, partitionKey)
	if err != nil && !errors.Is(err, ErrDocumentNotFound) {
		return err
	}

	next, err := apply(ctx, event, current.Clone())
	if err != nil {
		return err
	}

	if next == nil {
		if current == nil {
			return nil
		}

		return repository.DeleteFrom(ctx, indexName, id, partitionKey)
	}

	keyName := b.schema.KeyProperty().Name
	if _, hasKey := next[keyName]; !hasKey {
		next[keyName] = String(id)
	}

	return repository.UpsertTo(ctx, indexName, next, partitionKey, event.OccurredAt)
}
