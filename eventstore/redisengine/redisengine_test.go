package redisengine_test

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/eventstore-projections-go/eventstore"
	"github.com/AntonStoeckl/eventstore-projections-go/eventstore/redisengine"
)

// newStore connects to PROJECTIONS_TEST_REDIS_ADDR if set, else to an in-process miniredis.
func newStore(t *testing.T) *redisengine.Store {
	t.Helper()

	addr := os.Getenv("PROJECTIONS_TEST_REDIS_ADDR")
	if addr == "" {
		addr = miniredis.RunT(t).Addr()
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	store, err := redisengine.NewStore(client, redisengine.WithKeyPrefix("test-"+uuid.NewString()))
	require.NoError(t, err)
	require.NoError(t, store.Initialize(context.Background()))
	t.Cleanup(func() { _ = store.DeleteAll(context.Background()) })

	return store
}

func Test_NewStore_When_ConfigurationIsInvalid(t *testing.T) {
	_, err := redisengine.NewStore(nil)
	assert.ErrorIs(t, err, eventstore.ErrNilDatabaseConnection)

	_, err = redisengine.NewStore(redis.NewClient(&redis.Options{}), redisengine.WithKeyPrefix(""))
	assert.ErrorIs(t, err, redisengine.ErrEmptyKeyPrefix)
}

func Test_UpsertItem_When_RevisionsMatchOrDiverge(t *testing.T) {
	// setup
	ctx := context.Background()
	store := newStore(t)

	// act + assert
	_, err := store.LoadItem(ctx, "state", "tenant-1")
	assert.ErrorIs(t, err, eventstore.ErrItemNotFound)

	item, err := store.UpsertItem(ctx, "state", "tenant-1", []byte(`{"a":1}`), 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), item.Revision)

	_, err = store.UpsertItem(ctx, "state", "tenant-1", []byte(`{"a":2}`), 0)
	assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)

	_, err = store.UpsertItem(ctx, "state", "tenant-1", []byte(`{"a":2}`), 1)
	require.NoError(t, err)

	loaded, err := store.LoadItem(ctx, "state", "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":2}`), loaded.Value)
	assert.Equal(t, uint64(2), loaded.Revision)
}

func Test_UpsertItem_When_WritersRace_ExactlyOneWins(t *testing.T) {
	// setup
	ctx := context.Background()
	store := newStore(t)

	// act
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.UpsertItem(ctx, "lock", "tenant-1", []byte(`{}`), 0); err == nil {
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

func Test_UpsertItem_When_PartitionAndIDContainColons_ItemsStayApart(t *testing.T) {
	// setup
	ctx := context.Background()
	store := newStore(t)

	// act
	_, errFirst := store.UpsertItem(ctx, "c", "a:b", []byte(`"first"`), 0)
	_, errSecond := store.UpsertItem(ctx, "b:c", "a", []byte(`"second"`), 0)

	// assert
	require.NoError(t, errFirst)
	require.NoError(t, errSecond)

	first, err := store.LoadItem(ctx, "c", "a:b")
	require.NoError(t, err)
	assert.Equal(t, []byte(`"first"`), first.Value)

	second, err := store.LoadItem(ctx, "b:c", "a")
	require.NoError(t, err)
	assert.Equal(t, []byte(`"second"`), second.Value)
}

func Test_DeleteAll_When_ItemsExist_RemovesOnlyOwnPrefix(t *testing.T) {
	// setup
	ctx := context.Background()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	own, err := redisengine.NewStore(client, redisengine.WithKeyPrefix("own"))
	require.NoError(t, err)

	other, err := redisengine.NewStore(client, redisengine.WithKeyPrefix("other"))
	require.NoError(t, err)

	_, err = own.UpsertItem(ctx, "state", "tenant-1", []byte(`{}`), 0)
	require.NoError(t, err)

	_, err = other.UpsertItem(ctx, "state", "tenant-1", []byte(`{}`), 0)
	require.NoError(t, err)

	// act
	err = own.DeleteAll(ctx)

	// assert
	require.NoError(t, err)

	_, err = own.LoadItem(ctx, "state", "tenant-1")
	assert.ErrorIs(t, err, eventstore.ErrItemNotFound)

	_, err = other.LoadItem(ctx, "state", "tenant-1")
	assert.NoError(t, err)
}
