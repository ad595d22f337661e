package aggregate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AntonStoeckl/eventstore-projections-go/eventstore"
)

const (
	logMsgSaved            = "aggregate: events saved"
	logMsgConflict         = "aggregate: concurrency conflict on save"
	logAttrAggregateType   = "aggregate_type"
	logAttrAggregateID     = "aggregate_id"
	logAttrVersion         = "version"
	logAttrExpectedVersion = "expected_version"
)

// ErrNotFound is returned by LoadExisting for a stream without events.
var ErrNotFound = errors.New("aggregate not found")

// Factory creates an empty aggregate with its handlers registered.
type Factory[T Aggregate] func(id, partitionKey string) T

// Repository loads and saves aggregates of one type.
type Repository[T Aggregate] struct {
	store    eventstore.EventStore
	types    *eventstore.TypeRegistry
	factory  Factory[T]
	now      func() time.Time
	userInfo string
	retry    []RetryOption

	logger           eventstore.Logger
	contextualLogger eventstore.ContextualLogger
}

// Option configures a Repository.
type Option func(*repositoryOptions)

type repositoryOptions struct {
	now              func() time.Time
	userInfo         string
	retry            []RetryOption
	logger           eventstore.Logger
	contextualLogger eventstore.ContextualLogger
}

// WithClock sets the clock stamping OccurredAt of saved events.
func WithClock(now func() time.Time) Option {
	return func(o *repositoryOptions) { o.now = now }
}

// WithUserInfo sets the user info Execute saves events with.
func WithUserInfo(userInfo string) Option {
	return func(o *repositoryOptions) { o.userInfo = userInfo }
}

// WithRetryOptions configures the retries of Execute.
func WithRetryOptions(options ...RetryOption) Option {
	return func(o *repositoryOptions) { o.retry = append(o.retry, options...) }
}

// WithLogger sets the logger for the Repository.
func WithLogger(logger eventstore.Logger) Option {
	return func(o *repositoryOptions) { o.logger = logger }
}

// WithContextualLogger sets a context-aware logger for the Repository.
func WithContextualLogger(logger eventstore.ContextualLogger) Option {
	return func(o *repositoryOptions) { o.contextualLogger = logger }
}

// NewRepository creates a Repository. Stored events are decoded with types.
func NewRepository[T Aggregate](
	store eventstore.EventStore,
	types *eventstore.TypeRegistry,
	factory Factory[T],
	options ...Option,
) *Repository[T] {

	o := repositoryOptions{now: time.Now}
	for _, option := range options {
		option(&o)
	}

	return &Repository[T]{
		store:            store,
		types:            types,
		factory:          factory,
		now:              o.now,
		userInfo:         o.userInfo,
		retry:            o.retry,
		logger:           o.logger,
		contextualLogger: o.contextualLogger,
	}
}

// Load replays the stream into a new aggregate. A stream without events yields an aggregate at version 0.
func (r *Repository[T]) Load(ctx context.Context, id string, partitionKey string) (T, error) {
	aggregate := r.factory(id, partitionKey)

	root := aggregate.AggregateRoot()
	if root.handlers == nil {
		return aggregate, ErrUninitializedRoot
	}

	stream, err := r.store.LoadStream(ctx, id, partitionKey)
	if err != nil {
		return aggregate, err
	}

	for _, stored := range stream.Events {
		event, decodeErr := r.types.Decode(stored)
		if decodeErr != nil {
			return aggregate, decodeErr
		}

		if err = root.replay(event, stored.Version); err != nil {
			return aggregate, err
		}
	}

	return aggregate, nil
}

// LoadExisting behaves like Load but returns ErrNotFound for a stream without events.
func (r *Repository[T]) LoadExisting(ctx context.Context, id string, partitionKey string) (T, error) {
	aggregate, err := r.Load(ctx, id, partitionKey)
	if err != nil {
		return aggregate, err
	}

	if aggregate.AggregateRoot().PersistedVersion() == 0 {
		return aggregate, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return aggregate, nil
}

// Save appends the uncommitted events, expecting the stream to still be at the loaded version.
// A changed stream yields eventstore.ErrConcurrencyConflict and leaves the aggregate unchanged.
func (r *Repository[T]) Save(ctx context.Context, userInfo string, aggregate T) error {
	root := aggregate.AggregateRoot()
	if len(root.uncommitted) == 0 {
		return nil
	}

	occurredAt := r.now()
	events := make([]eventstore.StorableEvent, 0, len(root.uncommitted))

	for _, event := range root.uncommitted {
		storable, err := eventstore.Encode(event, root.aggregateType, root.partitionKey, occurredAt)
		if err != nil {
			return err
		}

		events = append(events, storable)
	}

	appended, err := r.store.AppendToStream(ctx, userInfo, root.id, root.partitionKey, root.persistedVersion, events[0], events[1:]...)
	if err != nil {
		return err
	}

	if !appended {
		r.log(ctx, logMsgConflict,
			logAttrAggregateType, root.aggregateType, logAttrAggregateID, root.id, logAttrExpectedVersion, root.persistedVersion)

		return eventstore.ErrConcurrencyConflict
	}

	root.markCommitted(root.Version())

	r.log(ctx, logMsgSaved, logAttrAggregateType, root.aggregateType, logAttrAggregateID, root.id, logAttrVersion, root.persistedVersion)

	return nil
}

// Execute loads the aggregate, runs fn and saves the result, retrying the whole cycle on concurrency conflicts.
// Errors of fn are returned as they are and never retried.
func (r *Repository[T]) Execute(ctx context.Context, id string, partitionKey string, fn func(aggregate T) error) error {
	return RetryWithExponentialBackoff(ctx, func(ctx context.Context) error {
		aggregate, err := r.Load(ctx, id, partitionKey)
		if err != nil {
			return err
		}

		if err = fn(aggregate); err != nil {
			return err
		}

		return r.Save(ctx, r.userInfo, aggregate)
	}, r.retry...)
}

func (r *Repository[T]) log(ctx context.Context, msg string, args ...any) {
	if r.logger != nil {
		r.logger.Info(msg, args...)
	}

	if r.contextualLogger != nil {
		r.contextualLogger.InfoContext(ctx, msg, args...)
	}
}
