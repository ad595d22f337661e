// Package eventstore provides the core abstractions and types for an event-sourcing
// storage core: one optimistically-concurrent stream per aggregate plus a chronological,
// cross-stream view of the whole log that feeds projections.
//
// This package defines the interfaces implemented by the storage engines
// (sqlengine, memengine, redisengine), the event types crossing them and the
// common error definitions.
//
// Key types:
//   - StorableEvent: an event about to be appended
//   - StoredEvent: an event as it was persisted, with stream version and global sequence
//   - EventStream: the ordered history of one stream
//   - Position / ChronologicalQuery: watermark and chunk description for replays
//   - KeyValueStore / Item: revisioned storage for non-evented state
//   - TypeRegistry: explicit mapping of event type tags to decode functions
//
// Common usage pattern:
//
//	stream, err := store.LoadStream(ctx, orderID, tenantID)
//	if err != nil {
//		// handle error
//	}
//
//	event, err := eventstore.BuildStorableEventWithEmptyMetadata(eventType, "Order", tenantID, time.Now(), payload)
//	if err != nil {
//		// handle error
//	}
//
//	ok, err := store.AppendToStream(ctx, userID, orderID, tenantID, stream.Version, event)
//	if err == nil && !ok {
//		// somebody else appended in between: reload and retry
//	}
package eventstore
