package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/eventstore-projections-go/eventstore"
	"github.com/AntonStoeckl/eventstore-projections-go/eventstore/observer"
	"github.com/AntonStoeckl/eventstore-projections-go/projections"
)

const (
	tailPartition = "projector-tail"
	tailItemID    = "watermark"

	logMsgTailHandlerFailed = "projector: tailed event could not be applied"
	logMsgTailFailed        = "projector: tail pass failed"
	logMsgTailAdvanced      = "projector: tail advanced"
	logAttrEvents           = "events"
	logAttrStreamID         = "stream_id"
	logAttrEventType        = "event_type"
)

// tailState is the persisted watermark of the tail and the claim of the instance advancing it.
type tailState struct {
	OccurredAt   time.Time               `json:"occurredAt"`
	Sequence     eventstore.SequenceUint `json:"sequence"`
	ClaimedBy    string                  `json:"claimedBy,omitempty"`
	ClaimedUntil time.Time               `json:"claimedUntil"`
}

func (s tailState) position() eventstore.Position {
	return eventstore.Position{OccurredAt: s.OccurredAt, Sequence: s.Sequence}
}

// tailer follows the chronological log of a store that other processes append to.
//
// Each pass claims the shared watermark, replays the events after it through the engine and stores
// the watermark reached after every chunk. Only one instance can hold the claim; a claim that was not
// refreshed within claimFor is taken over.
type tailer struct {
	observer     *observer.Observer
	kv           eventstore.KeyValueStore
	instanceName string
	chunkSize    int
	claimFor     time.Duration
	now          func() time.Time
}

func newTailer(
	store eventstore.EventStore,
	engine *projections.Engine,
	kv eventstore.KeyValueStore,
	instanceName string,
	chunkSize int,
	claimFor time.Duration,
	logger *slog.Logger,
) *tailer {

	o := observer.New(store, observer.WithLogger(logger))

	// A failing event is logged and passed, the same way live delivery treats it.
	o.SetEventHandler(func(ctx context.Context, event eventstore.StoredEvent) error {
		if err := engine.Handle(ctx, event); err != nil {
			logger.Error(logMsgTailHandlerFailed,
				logAttrInstance, instanceName,
				logAttrStreamID, event.StreamID,
				logAttrEventType, event.EventType,
				logAttrError, err.Error())
		}

		return nil
	})

	return &tailer{
		observer:     o,
		kv:           kv,
		instanceName: instanceName,
		chunkSize:    chunkSize,
		claimFor:     claimFor,
		now:          time.Now,
	}
}

// init stores a watermark right before from unless one exists already.
// Events before from are left to the rebuilds.
func (t *tailer) init(ctx context.Context, from time.Time) error {
	position := eventstore.PositionFrom(from)

	_, err := t.save(ctx, tailState{OccurredAt: position.OccurredAt, Sequence: position.Sequence}, 0)
	if errors.Is(err, eventstore.ErrConcurrencyConflict) {
		return nil
	}

	return err
}

// pass runs one tail pass. It reports false without error when another instance holds the claim.
func (t *tailer) pass(ctx context.Context) (observer.ReplayResult, bool, error) {
	item, err := t.kv.LoadItem(ctx, tailItemID, tailPartition)
	if err != nil {
		return observer.ReplayResult{}, false, err
	}

	var state tailState
	if err = jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(item.Value, &state); err != nil {
		return observer.ReplayResult{}, false, err
	}

	if state.ClaimedBy != "" && state.ClaimedBy != t.instanceName && t.now().Before(state.ClaimedUntil) {
		return observer.ReplayResult{}, false, nil
	}

	state.ClaimedBy = t.instanceName
	state.ClaimedUntil = t.now().Add(t.claimFor)

	revision, err := t.save(ctx, state, item.Revision)
	if errors.Is(err, eventstore.ErrConcurrencyConflict) {
		return observer.ReplayResult{}, false, nil
	}

	if err != nil {
		return observer.ReplayResult{}, false, err
	}

	result, replayErr := t.observer.ReplayEvents(ctx, observer.ReplayOptions{
		InstanceName: t.instanceName,
		After:        state.position(),
		ChunkSize:    t.chunkSize,
		OnChunkProcessed: func(ctx context.Context, progress observer.ReplayProgress) error {
			state.OccurredAt, state.Sequence = progress.Watermark.OccurredAt, progress.Watermark.Sequence
			state.ClaimedUntil = t.now().Add(t.claimFor)

			revision, err = t.save(ctx, state, revision)

			return err
		},
	})

	if !result.Watermark.IsZero() {
		state.OccurredAt, state.Sequence = result.Watermark.OccurredAt, result.Watermark.Sequence
	}

	state.ClaimedBy = ""
	state.ClaimedUntil = time.Time{}

	_, releaseErr := t.save(context.WithoutCancel(ctx), state, revision)

	return result, true, errors.Join(replayErr, releaseErr)
}

func (t *tailer) save(ctx context.Context, state tailState, expectedRevision uint64) (uint64, error) {
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(state)
	if err != nil {
		return 0, err
	}

	item, err := t.kv.UpsertItem(ctx, tailItemID, tailPartition, data, expectedRevision)
	if err != nil {
		return 0, err
	}

	return item.Revision, nil
}

func tailPass(ctx context.Context, t *tailer, logger *slog.Logger) {
	result, ran, err := t.pass(ctx)

	switch {
	case err != nil && !errors.Is(err, context.Canceled):
		logger.Error(logMsgTailFailed, logAttrInstance, t.instanceName, logAttrError, err.Error())
	case ran && result.EventsProcessed > 0:
		logger.Info(logMsgTailAdvanced, logAttrInstance, t.instanceName, logAttrEvents, result.EventsProcessed)
	}
}
