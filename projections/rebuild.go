package projections

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/eventstore-projections-go/eventstore"
	"github.com/AntonStoeckl/eventstore-projections-go/eventstore/observer"
)

const rebuildStatePartition = "projection-rebuild-states"

// RebuildStatus is the outcome of the latest rebuild of a schema.
type RebuildStatus string

const (
	RebuildStatusNotRun    RebuildStatus = "not_run"
	RebuildStatusRunning   RebuildStatus = "running"
	RebuildStatusCompleted RebuildStatus = "completed"
	RebuildStatusFailed    RebuildStatus = "failed"
)

// RebuildState reports the latest rebuild of one schema.
type RebuildState struct {
	InstanceName    string        `json:"instanceName"`
	SchemaName      string        `json:"schemaName"`
	IndexName       string        `json:"indexName"`
	Status          RebuildStatus `json:"status"`
	ErrorMessage    string        `json:"errorMessage,omitempty"`
	StartedAt       time.Time     `json:"startedAt"`
	FinishedAt      *time.Time    `json:"finishedAt,omitempty"`
	EventsProcessed int64         `json:"eventsProcessed"`
	EventsTotal     int64         `json:"eventsTotal"`
}

// RebuildOptions configures Engine.StartRebuild.
type RebuildOptions struct {
	// InstanceName identifies the worker in logs, metrics and the RebuildState.
	InstanceName string

	// PartitionKey restricts the replay to one partition; empty replays all partitions.
	PartitionKey string

	// ChunkSize bounds the number of events loaded at once; it falls back to WithReplayChunkSize
	// and then to observer.DefaultChunkSize.
	ChunkSize int

	// ReplicaReads lets the replay load chunks from a read replica of the event store.
	ReplicaReads bool
}

// StartRebuild rebuilds every registered projection whose current schema version needs it:
// versions never built before and versions whose rebuild stalled.
//
// Per builder, the rebuild lock is acquired, the target index cleared and the chronological log replayed
// through that builder only. Cancelling ctx stops the replay after the current chunk. Failures are recorded
// in the RebuildState and returned joined; the lock is released so another attempt can claim it.
// It returns the states of the rebuilds this call ran.
func (e *Engine) StartRebuild(ctx context.Context, options RebuildOptions) ([]RebuildState, error) {
	var (
		states []RebuildState
		errs   []error
	)

	for _, builder := range e.Builders() {
		state, ran, err := e.rebuild(ctx, builder, options)
		if ran {
			states = append(states, state)
		}

		if err != nil {
			errs = append(errs, fmt.Errorf("projection %q: %w", builder.schema.Name, err))
		}
	}

	return states, errors.Join(errs...)
}

func (e *Engine) rebuild(ctx context.Context, builder *Builder, options RebuildOptions) (RebuildState, bool, error) {
	repository, err := e.registry.Repository(builder.schema)
	if err != nil {
		return RebuildState{}, false, err
	}

	owner := uuid.NewString()

	version, acquired, err := repository.AcquireRebuildLock(ctx, owner)
	if err != nil || !acquired {
		if err == nil {
			e.opts.logDebug(ctx, logMsgRebuildSkipped, logAttrSchema, builder.schema.Name, logAttrInstance, options.InstanceName)
		}

		return RebuildState{}, false, err
	}

	// Bookkeeping must survive a cancelled ctx; only the replay itself observes cancellation.
	work := context.WithoutCancel(ctx)
	start := e.opts.now()

	spanCtx, span := e.opts.startSpan(work, spanNameRebuild, map[string]string{
		spanAttrSchema: builder.schema.Name,
		spanAttrIndex:  version.IndexName,
	})

	state := RebuildState{
		InstanceName: options.InstanceName,
		SchemaName:   builder.schema.Name,
		IndexName:    version.IndexName,
		Status:       RebuildStatusRunning,
		StartedAt:    start.UTC(),
	}

	replayErr := e.replayInto(ctx, spanCtx, repository, builder, owner, options, &state)

	finishedAt := e.opts.now().UTC()
	state.FinishedAt = &finishedAt
	status := statusSuccess

	switch {
	case replayErr == nil:
		state.Status = RebuildStatusCompleted
		e.opts.logInfo(spanCtx, logMsgRebuildFinished, e.rebuildAttrs(state, start)...)
	default:
		state.Status = RebuildStatusFailed
		state.ErrorMessage = replayErr.Error()

		status = statusError
		if errors.Is(replayErr, ErrRebuildCancelled) {
			status = statusCancelled
		}

		if releaseErr := repository.ReleaseRebuildLock(spanCtx, owner); releaseErr != nil {
			replayErr = errors.Join(replayErr, releaseErr)
		}

		e.opts.logError(spanCtx, logMsgRebuildFailed, replayErr, e.rebuildAttrs(state, start)...)
	}

	if err = e.rebuilds.save(spanCtx, state); err != nil {
		replayErr = errors.Join(replayErr, err)
	}

	e.opts.recordDuration(spanCtx, metricRebuildDuration, e.opts.now().Sub(start), map[string]string{
		metricLabelSchema: builder.schema.Name,
		metricLabelStatus: status,
	})
	e.opts.finishSpan(span, status, map[string]string{spanAttrEvents: strconv.FormatInt(state.EventsProcessed, 10)})

	return state, true, replayErr
}

// replayInto clears the target index and replays the log into it while holding the rebuild lock.
func (e *Engine) replayInto(
	ctx context.Context,
	work context.Context,
	repository *Repository,
	builder *Builder,
	owner string,
	options RebuildOptions,
	state *RebuildState,
) error {

	if err := e.rebuilds.save(work, *state); err != nil {
		return err
	}

	if err := repository.ClearIndex(work); err != nil {
		return err
	}

	if counter, ok := e.store.(eventstore.EventCounter); ok {
		total, err := counter.CountEvents(work, options.PartitionKey)
		if err != nil {
			return err
		}

		state.EventsTotal = total
	}

	if err := repository.Heartbeat(work, owner, 0, state.EventsTotal); err != nil {
		return err
	}

	e.opts.logInfo(work, logMsgRebuildStarted,
		logAttrSchema, state.SchemaName, logAttrIndex, state.IndexName,
		logAttrInstance, state.InstanceName, logAttrEventsTotal, state.EventsTotal)

	chunkSize := options.ChunkSize
	if chunkSize <= 0 {
		chunkSize = e.opts.chunkSize
	}

	o := e.newObserver()
	o.SetEventHandler(func(handlerCtx context.Context, event eventstore.StoredEvent) error {
		if !builder.Handles(event.EventType) {
			return nil
		}

		if err := builder.apply(handlerCtx, repository, state.IndexName, event); err != nil {
			return err
		}

		e.opts.incrementCounter(handlerCtx, metricEventsApplied, map[string]string{metricLabelSchema: state.SchemaName})

		return nil
	})

	result, err := o.ReplayEvents(ctx, observer.ReplayOptions{
		InstanceName: state.InstanceName,
		PartitionKey: options.PartitionKey,
		ChunkSize:    chunkSize,
		ReplicaReads: options.ReplicaReads,
		OnChunkProcessed: func(_ context.Context, progress observer.ReplayProgress) error {
			state.EventsProcessed = progress.EventsProcessed
			if err := repository.Heartbeat(work, owner, progress.EventsProcessed, state.EventsTotal); err != nil {
				return err
			}

			return e.rebuilds.save(work, *state)
		},
	})

	state.EventsProcessed = result.EventsProcessed

	switch {
	case err != nil:
		return err
	case result.Cancelled:
		return fmt.Errorf("%w after %d events", ErrRebuildCancelled, result.EventsProcessed)
	}

	return repository.CompleteRebuild(work, owner)
}

func (e *Engine) rebuildAttrs(state RebuildState, start time.Time) []any {
	return []any{
		logAttrSchema, state.SchemaName,
		logAttrIndex, state.IndexName,
		logAttrInstance, state.InstanceName,
		logAttrStatus, string(state.Status),
		logAttrEventsProcessed, state.EventsProcessed,
		logAttrEventsTotal, state.EventsTotal,
		logAttrDurationMS, e.opts.now().Sub(start).Milliseconds(),
	}
}

// RebuildStates returns the latest RebuildState of every registered builder, in registration order.
// Builders that were never rebuilt report RebuildStatusNotRun.
func (e *Engine) RebuildStates(ctx context.Context) ([]RebuildState, error) {
	builders := e.Builders()
	states := make([]RebuildState, 0, len(builders))

	for _, builder := range builders {
		state, err := e.rebuilds.load(ctx, builder.schema.Name)
		if err != nil {
			return nil, err
		}

		states = append(states, state)
	}

	return states, nil
}

// rebuildStateStore persists RebuildState records as JSON items, one per schema name.
type rebuildStateStore struct {
	kv eventstore.KeyValueStore
}

func (s rebuildStateStore) load(ctx context.Context, schemaName string) (RebuildState, error) {
	item, err := s.kv.LoadItem(ctx, schemaName, rebuildStatePartition)
	if errors.Is(err, eventstore.ErrItemNotFound) {
		return RebuildState{SchemaName: schemaName, Status: RebuildStatusNotRun}, nil
	}

	if err != nil {
		return RebuildState{}, err
	}

	var state RebuildState
	if err = jsonAPI.Unmarshal(item.Value, &state); err != nil {
		return RebuildState{}, err
	}

	return state, nil
}

// save overwrites the stored state; the record has a single writer, the holder of the rebuild lock.
func (s rebuildStateStore) save(ctx context.Context, state RebuildState) error {
	data, marshalErr := jsonAPI.Marshal(state)
	if marshalErr != nil {
		return errors.Join(ErrSavingRebuildStateFailed, marshalErr)
	}

	for attempt := 0; attempt < maxStateMutationAttempts; attempt++ {
		var revision uint64

		item, err := s.kv.LoadItem(ctx, state.SchemaName, rebuildStatePartition)
		switch {
		case err == nil:
			revision = item.Revision
		case !errors.Is(err, eventstore.ErrItemNotFound):
			return errors.Join(ErrSavingRebuildStateFailed, err)
		}

		_, err = s.kv.UpsertItem(ctx, state.SchemaName, rebuildStatePartition, data, revision)
		if errors.Is(err, eventstore.ErrConcurrencyConflict) {
			continue
		}

		if err != nil {
			return errors.Join(ErrSavingRebuildStateFailed, err)
		}

		return nil
	}

	return errors.Join(ErrSavingRebuildStateFailed, eventstore.ErrConcurrencyConflict)
}
