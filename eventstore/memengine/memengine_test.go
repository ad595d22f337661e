package memengine_test

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/eventstore-projections-go/eventstore"
	"github.com/AntonStoeckl/eventstore-projections-go/eventstore/memengine"
	"github.com/AntonStoeckl/eventstore-projections-go/testutil/spies"
)

const tenant = "tenant-1"

func newStore(t *testing.T, options ...memengine.Option) *memengine.EventStore {
	t.Helper()

	es := memengine.NewEventStore(options...)
	require.NoError(t, es.Initialize(context.Background()))

	return es
}

func givenEvent(t *testing.T, eventType string, occurredAt time.Time) eventstore.StorableEvent {
	t.Helper()

	event, err := eventstore.BuildStorableEventWithEmptyMetadata(eventType, "Order", "", occurredAt, []byte(`{}`))
	require.NoError(t, err)

	return event
}

func Test_AppendToStream_When_AppendingSequentially_VersionsAreContiguous(t *testing.T) {
	// setup
	ctx := context.Background()
	es := newStore(t)

	// act
	for i := 0; i < 4; i++ {
		ok, err := es.AppendToStream(ctx, "", "order-1", tenant, eventstore.VersionUint(i), givenEvent(t, fmt.Sprintf("E%d", i), time.Now()))
		require.NoError(t, err)
		require.True(t, ok)
	}

	// assert
	stream, err := es.LoadStream(ctx, "order-1", tenant)
	require.NoError(t, err)
	assert.Equal(t, eventstore.VersionUint(4), stream.Version)

	for i, event := range stream.Events {
		assert.Equal(t, eventstore.VersionUint(i+1), event.Version)
		assert.Equal(t, fmt.Sprintf("E%d", i), event.EventType)
	}
}

func Test_AppendToStream_When_StreamIDsSharePrefix_StreamsStayApart(t *testing.T) {
	// setup
	ctx := context.Background()
	es := newStore(t)

	// arrange
	ok, err := es.AppendToStream(ctx, "", "order-1", tenant, 0, givenEvent(t, "E1", time.Now()))
	require.NoError(t, err)
	require.True(t, ok)

	// act
	ok, err = es.AppendToStream(ctx, "", "order-10", tenant, 0, givenEvent(t, "E1", time.Now()))

	// assert
	require.NoError(t, err)
	assert.True(t, ok)

	stream, err := es.LoadStream(ctx, "order-1", tenant)
	require.NoError(t, err)
	assert.Len(t, stream.Events, 1)

	stream, err = es.LoadStream(ctx, "order-1", "tenant-2")
	require.NoError(t, err)
	assert.True(t, stream.IsEmpty())
}

func Test_AppendToStream_When_ExpectedVersionIsStale_StreamIsUnchanged(t *testing.T) {
	// setup
	ctx := context.Background()
	logHandler := spies.NewLogHandlerSpy(false)
	es := newStore(t, memengine.WithLogger(slog.New(logHandler)))

	// arrange
	ok, err := es.AppendToStream(ctx, "", "order-1", tenant, 0, givenEvent(t, "E1", time.Now()))
	require.NoError(t, err)
	require.True(t, ok)

	// act
	ok, err = es.AppendToStream(ctx, "", "order-1", tenant, 0, givenEvent(t, "E2", time.Now()), givenEvent(t, "E3", time.Now()))

	// assert
	require.NoError(t, err)
	assert.False(t, ok)

	stream, err := es.LoadStream(ctx, "order-1", tenant)
	require.NoError(t, err)
	assert.Equal(t, eventstore.VersionUint(1), stream.Version)
	assert.Len(t, stream.Events, 1)
	assert.True(t, logHandler.HasLogWithMessage(slog.LevelInfo, "eventstore operation: concurrency conflict detected").
		WithAttrValue("actual_version", "1").
		Assert())
}

func Test_AppendToStream_When_RacingAppenders_ExactlyOneWins(t *testing.T) {
	// setup
	ctx := context.Background()
	es := newStore(t)

	// act
	const racers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := es.AppendToStream(ctx, "", "order-1", tenant, 0, givenEvent(t, "E1", time.Now()))
			assert.NoError(t, err)

			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	// assert
	assert.Equal(t, 1, winners)
}

func Test_LoadEventsChronological_When_PagingWithAnyChunkSize_MatchesUnchunkedLoad(t *testing.T) {
	// setup
	ctx := context.Background()
	es := newStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// arrange: descending timestamps over the streams, with ties
	for i := 0; i < 10; i++ {
		streamID := fmt.Sprintf("order-%d", i%4)
		stream, err := es.LoadStream(ctx, streamID, tenant)
		require.NoError(t, err)

		occurredAt := base.Add(time.Duration(10-i/3) * time.Minute)
		ok, err := es.AppendToStream(ctx, "", streamID, tenant, stream.Version, givenEvent(t, fmt.Sprintf("E%d", i), occurredAt))
		require.NoError(t, err)
		require.True(t, ok)
	}

	all, err := es.LoadEventsChronological(ctx, eventstore.ChronologicalQuery{Limit: 100})
	require.NoError(t, err)
	require.Len(t, all, 10)

	for i := 1; i < len(all); i++ {
		require.True(t, all[i-1].Position().IsBefore(all[i]))
	}

	for chunkSize := 1; chunkSize <= 11; chunkSize++ {
		// act
		visited := make(eventstore.StoredEvents, 0)
		after := eventstore.Position{}

		for {
			chunk, loadErr := es.LoadEventsChronological(ctx, eventstore.ChronologicalQuery{After: after, Limit: chunkSize})
			require.NoError(t, loadErr)

			visited = append(visited, chunk...)
			if len(chunk) < chunkSize {
				break
			}

			after = chunk[len(chunk)-1].Position()
		}

		// assert
		assert.Equal(t, all, visited, "chunk size %d", chunkSize)
	}
}

func Test_Operations_When_NotInitialized(t *testing.T) {
	// setup
	ctx := context.Background()
	es := memengine.NewEventStore()

	// act
	_, loadErr := es.LoadStream(ctx, "order-1", tenant)
	_, appendErr := es.AppendToStream(ctx, "", "order-1", tenant, 0, givenEvent(t, "E1", time.Now()))
	_, chronoErr := es.LoadEventsChronological(ctx, eventstore.ChronologicalQuery{Limit: 1})
	_, itemErr := es.UpsertItem(ctx, "state", tenant, []byte(`{}`), 0)

	// assert
	assert.ErrorIs(t, loadErr, eventstore.ErrUninitialized)
	assert.ErrorIs(t, appendErr, eventstore.ErrUninitialized)
	assert.ErrorIs(t, chronoErr, eventstore.ErrUninitialized)
	assert.ErrorIs(t, itemErr, eventstore.ErrUninitialized)
}

func Test_DeleteAll_When_EventsExist_RemovesThem(t *testing.T) {
	// setup
	ctx := context.Background()
	es := newStore(t)

	// arrange
	ok, err := es.AppendToStream(ctx, "", "order-1", tenant, 0, givenEvent(t, "E1", time.Now()))
	require.NoError(t, err)
	require.True(t, ok)

	// act
	require.NoError(t, es.DeleteAll(ctx))
	require.NoError(t, es.DeleteAll(ctx))
	require.NoError(t, es.Initialize(ctx))

	// assert
	count, err := es.CountEvents(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func Test_Subscribe_When_Appending_SubscriberSeesEventsAfterCommit(t *testing.T) {
	// setup
	ctx := context.Background()
	es := newStore(t)
	var seenVersion eventstore.VersionUint

	es.Subscribe(func(ctx context.Context, events eventstore.StoredEvents) {
		stream, err := es.LoadStream(ctx, events[0].StreamID, events[0].PartitionKey)
		require.NoError(t, err)
		seenVersion = stream.Version
	})

	// act
	ok, err := es.AppendToStream(ctx, "", "order-1", tenant, 0, givenEvent(t, "E1", time.Now()), givenEvent(t, "E2", time.Now()))

	// assert
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, eventstore.VersionUint(2), seenVersion)
}

func Test_Items_When_RevisionsDiverge_UpsertIsRejected(t *testing.T) {
	// setup
	ctx := context.Background()
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	es := newStore(t, memengine.WithClock(func() time.Time { return fixed }))

	// act + assert
	_, err := es.LoadItem(ctx, "state", tenant)
	assert.ErrorIs(t, err, eventstore.ErrItemNotFound)

	item, err := es.UpsertItem(ctx, "state", tenant, []byte(`1`), 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), item.Revision)
	assert.True(t, fixed.Equal(item.UpdatedAt))

	_, err = es.UpsertItem(ctx, "state", tenant, []byte(`2`), 0)
	assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)

	item, err = es.UpsertItem(ctx, "state", tenant, []byte(`2`), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), item.Revision)

	loaded, err := es.LoadItem(ctx, "state", tenant)
	require.NoError(t, err)
	assert.Equal(t, []byte(`2`), loaded.Value)
}

func Test_Items_When_PartitionAndIDShareSeparator_ItemsStayApart(t *testing.T) {
	// setup
	ctx := context.Background()
	es := newStore(t)

	// act
	_, errFirst := es.UpsertItem(ctx, "c", "a\x00b", []byte(`"first"`), 0)
	_, errSecond := es.UpsertItem(ctx, "b\x00c", "a", []byte(`"second"`), 0)

	// assert
	require.NoError(t, errFirst)
	require.NoError(t, errSecond)

	first, err := es.LoadItem(ctx, "c", "a\x00b")
	require.NoError(t, err)
	assert.Equal(t, []byte(`"first"`), first.Value)

	second, err := es.LoadItem(ctx, "b\x00c", "a")
	require.NoError(t, err)
	assert.Equal(t, []byte(`"second"`), second.Value)
}
