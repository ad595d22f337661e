package eventstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AntonStoeckl/eventstore-projections-go/eventstore"
)

func Test_ReadConsistencyFrom(t *testing.T) {
	ctx := context.Background()
	replica := eventstore.WithReadConsistency(ctx, eventstore.ReadReplica)

	assert.Equal(t, eventstore.ReadPrimary, eventstore.ReadConsistencyFrom(ctx))
	assert.Equal(t, eventstore.ReadReplica, eventstore.ReadConsistencyFrom(replica))
	assert.Equal(t, eventstore.ReadPrimary,
		eventstore.ReadConsistencyFrom(eventstore.WithReadConsistency(replica, eventstore.ReadPrimary)))
	assert.Equal(t, "replica", eventstore.ReadReplica.String())
	assert.Equal(t, "primary", eventstore.ReadPrimary.String())
}
