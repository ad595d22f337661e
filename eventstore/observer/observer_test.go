package observer_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/eventstore-projections-go/eventstore"
	"github.com/AntonStoeckl/eventstore-projections-go/eventstore/memengine"
	"github.com/AntonStoeckl/eventstore-projections-go/eventstore/observer"
	"github.com/AntonStoeckl/eventstore-projections-go/testutil/spies"
)

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func givenStoreWithEvents(t *testing.T, count int) *memengine.EventStore {
	t.Helper()

	ctx := context.Background()
	es := memengine.NewEventStore()
	require.NoError(t, es.Initialize(ctx))

	for i := 0; i < count; i++ {
		streamID := fmt.Sprintf("order-%d", i%3)
		partitionKey := fmt.Sprintf("tenant-%d", i%2)

		stream, err := es.LoadStream(ctx, streamID, partitionKey)
		require.NoError(t, err)

		event, err := eventstore.BuildStorableEventWithEmptyMetadata(
			fmt.Sprintf("E%02d", i), "Order", "", base.Add(time.Duration(i)*time.Second), []byte(`{}`))
		require.NoError(t, err)

		ok, err := es.AppendToStream(ctx, "", streamID, partitionKey, stream.Version, event)
		require.NoError(t, err)
		require.True(t, ok)
	}

	return es
}

func collectingHandler(target *[]string) observer.HandlerFunc {
	return func(_ context.Context, event eventstore.StoredEvent) error {
		*target = append(*target, event.EventType)
		return nil
	}
}

func Test_Start_When_NoHandlerIsSet(t *testing.T) {
	o := observer.New(memengine.NewEventStore())

	err := o.Start(context.Background(), "worker-1")

	assert.ErrorIs(t, err, observer.ErrNoEventHandler)
}

func Test_Start_When_Started_LiveEventsReachHandlerUntilStopped(t *testing.T) {
	// setup
	ctx := context.Background()
	es := givenStoreWithEvents(t, 0)
	o := observer.New(es)
	seen := make([]string, 0)
	o.SetEventHandler(collectingHandler(&seen))

	// arrange
	require.NoError(t, o.Start(ctx, "worker-1"))
	assert.ErrorIs(t, o.Start(ctx, "worker-1"), observer.ErrAlreadyStarted)

	event1, _ := eventstore.BuildStorableEventWithEmptyMetadata("Created", "Order", "", base, []byte(`{}`))
	event2, _ := eventstore.BuildStorableEventWithEmptyMetadata("ItemAdded", "Order", "", base, []byte(`{}`))

	// act
	ok, err := es.AppendToStream(ctx, "", "order-1", "tenant-1", 0, event1, event2)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, o.Stop(ctx))
	require.NoError(t, o.Stop(ctx))

	ok, err = es.AppendToStream(ctx, "", "order-1", "tenant-1", 2, event2)
	require.NoError(t, err)
	require.True(t, ok)

	// assert
	assert.Equal(t, []string{"Created", "ItemAdded"}, seen)
}

func Test_Start_When_HandlerFails_AppendStillSucceedsAndErrorIsLogged(t *testing.T) {
	// setup
	ctx := context.Background()
	es := givenStoreWithEvents(t, 0)
	logHandler := spies.NewLogHandlerSpy(false)
	metrics := spies.NewMetricsCollectorSpy()
	o := observer.New(es, observer.WithLogger(slog.New(logHandler)), observer.WithMetrics(metrics))
	o.SetEventHandler(func(context.Context, eventstore.StoredEvent) error { return errors.New("projection down") })
	require.NoError(t, o.Start(ctx, "worker-1"))

	event, _ := eventstore.BuildStorableEventWithEmptyMetadata("Created", "Order", "", base, []byte(`{}`))

	// act
	ok, err := es.AppendToStream(ctx, "", "order-1", "tenant-1", 0, event)

	// assert
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, logHandler.HasLogWithMessage(slog.LevelError, "observer: live event handler failed").
		WithAttrValue("error", "projection down").
		Assert())
	assert.True(t, metrics.HasCounterRecordForMetric("observer_live_handler_failures_total").
		WithLabel("instance", "worker-1").
		Assert())
}

func Test_ReplayEvents_When_ChunkSizeVaries_EveryEventIsHandledOnceInOrder(t *testing.T) {
	// setup
	ctx := context.Background()
	es := givenStoreWithEvents(t, 9)

	for _, chunkSize := range []int{1, 2, 4, 9, 10} {
		t.Run(fmt.Sprintf("chunk size %d", chunkSize), func(t *testing.T) {
			// arrange
			o := observer.New(es)
			seen := make([]string, 0)
			o.SetEventHandler(collectingHandler(&seen))
			chunks := 0

			// act
			result, err := o.ReplayEvents(ctx, observer.ReplayOptions{
				InstanceName: "rebuild",
				ChunkSize:    chunkSize,
				OnChunkProcessed: func(context.Context, observer.ReplayProgress) error {
					chunks++
					return nil
				},
			})

			// assert
			require.NoError(t, err)
			assert.False(t, result.Cancelled)
			assert.Equal(t, int64(9), result.EventsProcessed)
			assert.Equal(t, []string{"E00", "E01", "E02", "E03", "E04", "E05", "E06", "E07", "E08"}, seen)
			assert.Equal(t, 9/chunkSize+1, chunks)
			assert.True(t, base.Add(8*time.Second).Equal(result.Watermark.OccurredAt))
		})
	}
}

func Test_ReplayEvents_When_ScopedToPartitionAndStartTime(t *testing.T) {
	// setup
	ctx := context.Background()
	o := observer.New(givenStoreWithEvents(t, 9))
	seen := make([]string, 0)
	o.SetEventHandler(collectingHandler(&seen))

	// act
	result, err := o.ReplayEvents(ctx, observer.ReplayOptions{
		PartitionKey: "tenant-0",
		From:         base.Add(4 * time.Second),
		ChunkSize:    2,
	})

	// assert
	require.NoError(t, err)
	assert.Equal(t, []string{"E04", "E06", "E08"}, seen)
	assert.Equal(t, int64(3), result.EventsProcessed)
}

func Test_ReplayEvents_When_CancelledMidway_StopsAfterChunkAndReturnsWatermark(t *testing.T) {
	// setup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logHandler := spies.NewLogHandlerSpy(false)
	es := givenStoreWithEvents(t, 9)
	o := observer.New(es, observer.WithLogger(slog.New(logHandler)))
	seen := make([]string, 0)

	o.SetEventHandler(func(_ context.Context, event eventstore.StoredEvent) error {
		seen = append(seen, event.EventType)
		if len(seen) == 4 {
			cancel()
		}

		return nil
	})

	// act
	result, err := o.ReplayEvents(ctx, observer.ReplayOptions{InstanceName: "rebuild", ChunkSize: 3})

	// assert: the chunk in which cancellation happened is completed
	require.NoError(t, err)
	assert.True(t, result.Cancelled)
	assert.Equal(t, int64(6), result.EventsProcessed)
	assert.Len(t, seen, 6)
	assert.True(t, logHandler.HasLogWithMessage(slog.LevelInfo, "observer: replay cancelled").
		WithAttrValue("events_processed", "6").
		Assert())

	// act: resume from the watermark
	rest := make([]string, 0)
	o.SetEventHandler(collectingHandler(&rest))

	resumed, err := o.ReplayEvents(context.Background(), observer.ReplayOptions{After: result.Watermark, ChunkSize: 3})

	// assert
	require.NoError(t, err)
	assert.Equal(t, []string{"E06", "E07", "E08"}, rest)
	assert.Equal(t, int64(3), resumed.EventsProcessed)
}

func Test_ReplayEvents_When_HandlerFails_WatermarkPointsAtLastHandledEvent(t *testing.T) {
	// setup
	ctx := context.Background()
	o := observer.New(givenStoreWithEvents(t, 5))
	failure := errors.New("boom")

	o.SetEventHandler(func(_ context.Context, event eventstore.StoredEvent) error {
		if event.EventType == "E03" {
			return failure
		}

		return nil
	})

	// act
	result, err := o.ReplayEvents(ctx, observer.ReplayOptions{ChunkSize: 2})

	// assert
	assert.ErrorIs(t, err, observer.ErrEventHandlerFailed)
	assert.ErrorIs(t, err, failure)
	assert.Equal(t, int64(3), result.EventsProcessed)
	assert.True(t, base.Add(2*time.Second).Equal(result.Watermark.OccurredAt))
}

func Test_ReplayEventsForOneDocument(t *testing.T) {
	// setup
	ctx := context.Background()
	o := observer.New(givenStoreWithEvents(t, 9))
	seen := make([]string, 0)
	o.SetEventHandler(collectingHandler(&seen))

	// act: order-0 in tenant-0 receives events 0 and 6
	count, err := o.ReplayEventsForOneDocument(ctx, "order-0", "tenant-0")

	// assert
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, []string{"E00", "E06"}, seen)
}

type consistencyRecordingStore struct {
	*memengine.EventStore

	seen []eventstore.ReadConsistency
}

func (s *consistencyRecordingStore) LoadEventsChronological(
	ctx context.Context,
	query eventstore.ChronologicalQuery,
) (eventstore.StoredEvents, error) {

	s.seen = append(s.seen, eventstore.ReadConsistencyFrom(ctx))

	return s.EventStore.LoadEventsChronological(ctx, query)
}

func Test_ReplayEvents_When_ReplicaReadsAllowed(t *testing.T) {
	testCases := []struct {
		name         string
		replicaReads bool
		expected     eventstore.ReadConsistency
	}{
		{name: "primary by default", replicaReads: false, expected: eventstore.ReadPrimary},
		{name: "replica when allowed", replicaReads: true, expected: eventstore.ReadReplica},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// setup
			store := &consistencyRecordingStore{EventStore: givenStoreWithEvents(t, 3)}
			o := observer.New(store)
			o.SetEventHandler(func(context.Context, eventstore.StoredEvent) error { return nil })

			// act
			_, err := o.ReplayEvents(context.Background(), observer.ReplayOptions{ChunkSize: 2, ReplicaReads: tc.replicaReads})

			// assert
			require.NoError(t, err)
			require.Len(t, store.seen, 2)
			for _, consistency := range store.seen {
				assert.Equal(t, tc.expected, consistency)
			}
		})
	}
}
