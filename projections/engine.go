package projections

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/AntonStoeckl/eventstore-projections-go/eventstore"
	"github.com/AntonStoeckl/eventstore-projections-go/eventstore/observer"
)

// Engine routes events to the registered builders and rebuilds their projections.
//
// Builders receive an event in registration order. Live events are written through SelectWrite,
// so they land in the latest completed index of each schema.
type Engine struct {
	store    eventstore.EventStore
	registry *Registry
	rebuilds rebuildStateStore
	opts     options

	mu       sync.RWMutex
	builders []*Builder
}

// NewEngine creates an Engine replaying events from store. Rebuild states are kept in kv.
func NewEngine(store eventstore.EventStore, registry *Registry, kv eventstore.KeyValueStore, opts ...Option) *Engine {
	return &Engine{
		store:    store,
		registry: registry,
		rebuilds: rebuildStateStore{kv: kv},
		opts:     buildOptions(opts),
	}
}

// Register adds a builder. Each schema name can only be registered once.
func (e *Engine) Register(builder *Builder) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, registered := range e.builders {
		if registered.schema.Name == builder.schema.Name {
			return fmt.Errorf("%w: %q", ErrDuplicateBuilder, builder.schema.Name)
		}
	}

	e.builders = append(e.builders, builder)

	return nil
}

// Builders returns the registered builders in registration order.
func (e *Engine) Builders() []*Builder {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return append([]*Builder(nil), e.builders...)
}

// Handle applies the event to every builder that declared its type.
// A failing builder does not keep the following builders from seeing the event; all errors are returned joined.
// Concurrent updates of the same document are not serialized, the last upsert wins.
func (e *Engine) Handle(ctx context.Context, event eventstore.StoredEvent) error {
	var errs []error

	for _, builder := range e.Builders() {
		if !builder.Handles(event.EventType) {
			continue
		}

		if err := e.applyThrough(ctx, builder, SelectWrite, event); err != nil {
			e.opts.incrementCounter(ctx, metricApplyFailures, map[string]string{metricLabelSchema: builder.schema.Name})
			errs = append(errs, fmt.Errorf("projection %q: %w", builder.schema.Name, err))
		}
	}

	return errors.Join(errs...)
}

// HandlerFunc adapts Handle to an observer handler, e.g. for live delivery.
func (e *Engine) HandlerFunc() observer.HandlerFunc {
	return e.Handle
}

func (e *Engine) applyThrough(ctx context.Context, builder *Builder, selector Selector, event eventstore.StoredEvent) error {
	repository, err := e.registry.Repository(builder.schema)
	if err != nil {
		return err
	}

	version, err := repository.ResolveIndex(ctx, selector)
	if err != nil {
		return err
	}

	if err = builder.apply(ctx, repository, version.IndexName, event); err != nil {
		return err
	}

	e.opts.incrementCounter(ctx, metricEventsApplied, map[string]string{metricLabelSchema: builder.schema.Name})

	return nil
}

// RebuildDocument rebuilds the documents derived from one stream by replaying its full history.
// Only builders that key every event of the stream they handle to the stream itself take part, as their
// documents hold nothing but this stream. They are dropped first, so events that no longer produce them
// are honored. Documents of other builders may carry events of other streams and are left untouched.
// It returns the number of events replayed.
func (e *Engine) RebuildDocument(ctx context.Context, streamID string, partitionKey string) (int, error) {
	stream, err := e.store.LoadStream(ctx, streamID, partitionKey)
	if err != nil {
		return 0, err
	}

	var builders []*Builder

	for _, builder := range e.Builders() {
		if !builder.keysOnlyTo(stream.Events, streamID, partitionKey) {
			e.opts.logDebug(ctx, logMsgDocumentRebuildSkipped, logAttrSchema, builder.schema.Name, logAttrStreamID, streamID)
			continue
		}

		repository, err := e.registry.Repository(builder.schema)
		if err != nil {
			return 0, err
		}

		if err = repository.Delete(ctx, streamID, partitionKey); err != nil {
			return 0, fmt.Errorf("projection %q: %w", builder.schema.Name, err)
		}

		builders = append(builders, builder)
	}

	o := e.newObserver()
	o.SetEventHandler(func(ctx context.Context, event eventstore.StoredEvent) error {
		var errs []error

		for _, builder := range builders {
			if !builder.Handles(event.EventType) {
				continue
			}

			if err := e.applyThrough(ctx, builder, SelectWrite, event); err != nil {
				errs = append(errs, fmt.Errorf("projection %q: %w", builder.schema.Name, err))
			}
		}

		return errors.Join(errs...)
	})

	count, err := o.ReplayEventsForOneDocument(ctx, streamID, partitionKey)
	if err != nil {
		return count, err
	}

	e.opts.logInfo(ctx, logMsgDocumentRebuilt, logAttrStreamID, streamID, logAttrEventsProcessed, count)

	return count, nil
}

func (e *Engine) newObserver() *observer.Observer {
	var observerOptions []observer.Option

	if e.opts.logger != nil {
		observerOptions = append(observerOptions, observer.WithLogger(e.opts.logger))
	}

	if e.opts.contextualLogger != nil {
		observerOptions = append(observerOptions, observer.WithContextualLogger(e.opts.contextualLogger))
	}

	if e.opts.metricsCollector != nil {
		observerOptions = append(observerOptions, observer.WithMetrics(e.opts.metricsCollector))
	}

	return observer.New(e.store, observerOptions...)
}
