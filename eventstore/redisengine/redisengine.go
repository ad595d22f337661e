// Package redisengine provides an eventstore.KeyValueStore on Redis.
//
// Items are stored as hashes with the fields value, revision and updated_at under the key
// "<prefix>:<len(partitionKey)>:<partitionKey>:<id>". Compare-and-swap on the revision runs as one Lua script,
// so concurrent writers of the same item are serialized by Redis itself.
package redisengine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AntonStoeckl/eventstore-projections-go/eventstore"
)

const (
	defaultKeyPrefix = "items"
	scanBatchSize    = 500

	fieldValue     = "value"
	fieldRevision  = "revision"
	fieldUpdatedAt = "updated_at"
)

// ErrEmptyKeyPrefix is returned when an empty key prefix is configured.
var ErrEmptyKeyPrefix = errors.New("redis key prefix must not be empty")

var upsertScript = redis.NewScript(`
	local current = redis.call('HGET', KEYS[1], 'revision')
	if current == false then
		current = 0
	else
		current = tonumber(current)
	end

	if current ~= tonumber(ARGV[1]) then
		return 0
	end

	redis.call('HSET', KEYS[1], 'value', ARGV[2], 'revision', current + 1, 'updated_at', ARGV[3])
	return 1
`)

// Option defines a functional option for configuring Store.
type Option func(*Store) error

// WithKeyPrefix sets the prefix of all keys written by the Store.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) error {
		if prefix == "" {
			return ErrEmptyKeyPrefix
		}

		s.prefix = prefix

		return nil
	}
}

// WithLogger sets the logger for the Store.
func WithLogger(logger eventstore.Logger) Option {
	return func(s *Store) error {
		s.logger = logger
		return nil
	}
}

// Store is the Redis implementation of eventstore.KeyValueStore.
type Store struct {
	client redis.UniversalClient
	prefix string
	logger eventstore.Logger
}

// NewStore creates a Store on top of an existing Redis client.
func NewStore(client redis.UniversalClient, options ...Option) (*Store, error) {
	if client == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	s := &Store{client: client, prefix: defaultKeyPrefix}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Initialize checks that Redis is reachable. Redis needs no schema.
func (s *Store) Initialize(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return errors.Join(eventstore.ErrInitializingStorageFailed, err)
	}

	return nil
}

// DeleteAll removes every key under the configured prefix.
func (s *Store) DeleteAll(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+":*", scanBatchSize).Iterator()
	batch := make([]string, 0, scanBatchSize)

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())

		if len(batch) == scanBatchSize {
			if err := s.client.Del(ctx, batch...).Err(); err != nil {
				return errors.Join(eventstore.ErrDeletingStorageFailed, err)
			}

			batch = batch[:0]
		}
	}

	if err := iter.Err(); err != nil {
		return errors.Join(eventstore.ErrDeletingStorageFailed, err)
	}

	if len(batch) > 0 {
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			return errors.Join(eventstore.ErrDeletingStorageFailed, err)
		}
	}

	if s.logger != nil {
		s.logger.Info("keyvalue operation: all items deleted", "prefix", s.prefix)
	}

	return nil
}

// LoadItem returns the item stored under (id, partitionKey) or eventstore.ErrItemNotFound.
func (s *Store) LoadItem(ctx context.Context, id string, partitionKey string) (eventstore.Item, error) {
	if id == "" {
		return eventstore.Item{}, eventstore.ErrEmptyItemID
	}

	fields, err := s.client.HGetAll(ctx, s.key(partitionKey, id)).Result()
	if err != nil {
		return eventstore.Item{}, errors.Join(eventstore.ErrLoadingItemFailed, err)
	}

	if len(fields) == 0 {
		return eventstore.Item{}, eventstore.ErrItemNotFound
	}

	revision, err := strconv.ParseUint(fields[fieldRevision], 10, 64)
	if err != nil {
		return eventstore.Item{}, errors.Join(eventstore.ErrLoadingItemFailed, err)
	}

	updatedAt, err := strconv.ParseInt(fields[fieldUpdatedAt], 10, 64)
	if err != nil {
		return eventstore.Item{}, errors.Join(eventstore.ErrLoadingItemFailed, err)
	}

	return eventstore.Item{
		ID:           id,
		PartitionKey: partitionKey,
		Value:        []byte(fields[fieldValue]),
		Revision:     revision,
		UpdatedAt:    time.Unix(0, updatedAt).UTC(),
	}, nil
}

// UpsertItem stores value under (id, partitionKey) if the stored revision equals expectedRevision.
// An expectedRevision of 0 requires that the item does not exist yet.
func (s *Store) UpsertItem(
	ctx context.Context,
	id string,
	partitionKey string,
	value []byte,
	expectedRevision uint64,
) (eventstore.Item, error) {

	if id == "" {
		return eventstore.Item{}, eventstore.ErrEmptyItemID
	}

	updatedAt := time.Now().UTC()

	swapped, err := upsertScript.Run(
		ctx,
		s.client,
		[]string{s.key(partitionKey, id)},
		strconv.FormatUint(expectedRevision, 10),
		value,
		strconv.FormatInt(updatedAt.UnixNano(), 10),
	).Int()
	if err != nil {
		return eventstore.Item{}, errors.Join(eventstore.ErrUpsertingItemFailed, err)
	}

	if swapped == 0 {
		return eventstore.Item{}, eventstore.ErrConcurrencyConflict
	}

	return eventstore.Item{
		ID:           id,
		PartitionKey: partitionKey,
		Value:        value,
		Revision:     expectedRevision + 1,
		UpdatedAt:    updatedAt,
	}, nil
}

// key length-prefixes the partition key, so partition keys and ids containing ':' cannot collide.
func (s *Store) key(partitionKey string, id string) string {
	return fmt.Sprintf("%s:%d:%s:%s", s.prefix, len(partitionKey), partitionKey, id)
}
