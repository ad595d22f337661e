package eventstore

import (
	"math"
	"time"
)

// StoredEvents is an alias type for a slice of StoredEvent
type StoredEvents = []StoredEvent

// StoredEvent is an event as it was persisted by an EventStore.
//
// It wraps the StorableEvent with the stream it belongs to, its version in that stream,
// the global sequence assigned by the store and the user who triggered it.
type StoredEvent struct {
	StorableEvent
	StreamID string
	Version  VersionUint
	Sequence SequenceUint
	UserInfo string
}

// Position returns the chronological position of this event.
func (e StoredEvent) Position() Position {
	return Position{OccurredAt: e.OccurredAt, Sequence: e.Sequence}
}

// EventStream is the ordered event history of one stream, identified by (StreamID, PartitionKey).
// It is loaded fresh on every read and never cached.
type EventStream struct {
	StreamID     string
	PartitionKey string
	Version      VersionUint
	Events       StoredEvents
}

// IsEmpty reports whether the stream has no events.
func (s EventStream) IsEmpty() bool {
	return len(s.Events) == 0
}

// BuildEventStream creates an EventStream from events ordered by version.
// The stream version is the version of the last event, or 0 for an empty stream.
func BuildEventStream(streamID, partitionKey string, events StoredEvents) EventStream {
	stream := EventStream{
		StreamID:     streamID,
		PartitionKey: partitionKey,
		Events:       events,
	}

	if len(events) > 0 {
		stream.Version = events[len(events)-1].Version
	}

	if stream.Events == nil {
		stream.Events = make(StoredEvents, 0)
	}

	return stream
}

// Position is a watermark in the chronological order of the whole log.
// Events are ordered by OccurredAt and ties are broken by the store-assigned Sequence.
// The zero Position lies before every event.
type Position struct {
	OccurredAt time.Time
	Sequence   SequenceUint
}

// IsZero reports whether the position lies before every event.
func (p Position) IsZero() bool {
	return p.OccurredAt.IsZero() && p.Sequence == 0
}

// IsBefore reports whether the event lies strictly after this position.
func (p Position) IsBefore(event StoredEvent) bool {
	if p.IsZero() {
		return true
	}

	if event.OccurredAt.After(p.OccurredAt) {
		return true
	}

	return event.OccurredAt.Equal(p.OccurredAt) && event.Sequence > p.Sequence
}

// PositionFrom returns the position right before the given timestamp, so that a
// chronological load starting there includes all events that occurred at or after it.
// Its sequence is the largest value that still fits a signed 64-bit database column.
func PositionFrom(occurredAt time.Time) Position {
	if occurredAt.IsZero() {
		return Position{}
	}

	return Position{OccurredAt: occurredAt.Add(-time.Nanosecond), Sequence: math.MaxInt64}
}

// ChronologicalQuery describes one chunk of a cross-stream scan ordered by Position.
type ChronologicalQuery struct {
	// PartitionKey restricts the scan to one partition; empty means all partitions.
	PartitionKey string

	// After is the watermark reached by the previous chunk; only events after it are returned.
	After Position

	// Limit is the maximum number of events in the chunk.
	Limit int
}
