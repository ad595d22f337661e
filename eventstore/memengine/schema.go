package memengine

import (
	"strconv"
	"time"

	"github.com/hashicorp/go-memdb"

	"github.com/AntonStoeckl/eventstore-projections-go/eventstore"
)

const (
	eventsTable = "events"
	itemsTable  = "items"

	indexID            = "id"
	indexStream        = "stream"
	indexChronological = "chronological"
)

// eventRecord is the flat representation of a stored event inside go-memdb.
// Records are never modified after they were inserted.
type eventRecord struct {
	Sequence        uint64
	StreamKey       string
	StreamID        string
	PartitionKey    string
	Version         uint64
	EventType       string
	AggregateType   string
	OccurredAtNanos int64
	UserInfo        string
	PayloadJSON     []byte
	MetadataJSON    []byte
}

func (r *eventRecord) toStoredEvent() eventstore.StoredEvent {
	return eventstore.StoredEvent{
		StorableEvent: eventstore.StorableEvent{
			EventType:     r.EventType,
			AggregateType: r.AggregateType,
			PartitionKey:  r.PartitionKey,
			OccurredAt:    time.Unix(0, r.OccurredAtNanos).UTC(),
			PayloadJSON:   append([]byte(nil), r.PayloadJSON...),
			MetadataJSON:  append([]byte(nil), r.MetadataJSON...),
		},
		StreamID: r.StreamID,
		Version:  r.Version,
		Sequence: r.Sequence,
		UserInfo: r.UserInfo,
	}
}

// itemRecord is the go-memdb representation of a KeyValueStore item.
type itemRecord struct {
	Key            string
	ID             string
	PartitionKey   string
	Value          []byte
	Revision       uint64
	UpdatedAtNanos int64
}

func (r *itemRecord) toItem() eventstore.Item {
	return eventstore.Item{
		ID:           r.ID,
		PartitionKey: r.PartitionKey,
		Value:        append([]byte(nil), r.Value...),
		Revision:     r.Revision,
		UpdatedAt:    time.Unix(0, r.UpdatedAtNanos).UTC(),
	}
}

// compositeKey joins a partition key and an id into one never-empty index value.
// go-memdb treats empty strings as missing index values, and partition keys may be empty.
// The partition key is length-prefixed, so no pair of parts can produce the key of another pair.
func compositeKey(partitionKey string, id string) string {
	return strconv.Itoa(len(partitionKey)) + ":" + partitionKey + ":" + id
}

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		eventsTable: {
			Name: eventsTable,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: {
					Name:    indexID,
					Unique:  true,
					Indexer: &memdb.UintFieldIndex{Field: "Sequence"},
				},
				indexStream: {
					Name:   indexStream,
					Unique: true,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "StreamKey"},
							&memdb.UintFieldIndex{Field: "Version"},
						},
					},
				},
				indexChronological: {
					Name:   indexChronological,
					Unique: true,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.IntFieldIndex{Field: "OccurredAtNanos"},
							&memdb.UintFieldIndex{Field: "Sequence"},
						},
					},
				},
			},
		},
		itemsTable: {
			Name: itemsTable,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: {
					Name:    indexID,
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Key"},
				},
			},
		},
	},
}
