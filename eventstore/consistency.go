package eventstore

import "context"

// ReadConsistency selects which database a SQL event store with a read replica reads from.
type ReadConsistency int

const (
	// ReadPrimary reads from the primary. Loads that feed an expected version need it.
	ReadPrimary ReadConsistency = iota

	// ReadReplica lets reads go to the replica, which may lag behind the primary.
	ReadReplica
)

type readConsistencyKey struct{}

// WithReadConsistency returns a context carrying the read consistency for store calls made with it.
//
//	stream, err := store.LoadStream(eventstore.WithReadConsistency(ctx, eventstore.ReadPrimary), id, pk)
func WithReadConsistency(ctx context.Context, consistency ReadConsistency) context.Context {
	return context.WithValue(ctx, readConsistencyKey{}, consistency)
}

// ReadConsistencyFrom returns the read consistency of ctx, ReadPrimary if none is set.
func ReadConsistencyFrom(ctx context.Context) ReadConsistency {
	if consistency, ok := ctx.Value(readConsistencyKey{}).(ReadConsistency); ok {
		return consistency
	}

	return ReadPrimary
}

func (c ReadConsistency) String() string {
	if c == ReadReplica {
		return "replica"
	}

	return "primary"
}
