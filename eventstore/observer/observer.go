// Package observer bridges an EventStore to one event handler.
//
// Two delivery modes share the same handler:
//   - Live: Start subscribes to the store's eventstore.Notifier; every committed append is
//     delivered synchronously and in version order. Handler errors are logged and never fail the append.
//   - Replay: ReplayEvents pages through the chronological log in bounded chunks. Cancellation is
//     checked between chunks, never in the middle of one, and the watermark reached is returned.
package observer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/AntonStoeckl/eventstore-projections-go/eventstore"
)

const (
	// DefaultChunkSize is used by ReplayEvents when ReplayOptions.ChunkSize is not positive.
	DefaultChunkSize = 1000

	logMsgLiveHandlerFailed = "observer: live event handler failed"
	logMsgStarted           = "observer: started"
	logMsgStopped           = "observer: stopped"
	logMsgChunkProcessed    = "observer: replay chunk processed"
	logMsgReplayCancelled   = "observer: replay cancelled"
	logMsgReplayFinished    = "observer: replay finished"
	logAttrInstance         = "instance"
	logAttrEventType        = "event_type"
	logAttrStreamID         = "stream_id"
	logAttrEventsProcessed  = "events_processed"
	logAttrWatermarkAt      = "watermark_occurred_at"
	logAttrWatermarkSeq     = "watermark_sequence"
	logAttrError            = "error"
	logAttrDurationMS       = "duration_ms"

	metricReplayDuration = "observer_replay_duration_seconds"
	metricReplayEvents   = "observer_replay_events_total"
	metricLiveFailures   = "observer_live_handler_failures_total"
	metricLabelInstance  = "instance"
	metricLabelStatus    = "status"
)

var (
	// ErrNoEventHandler is returned when the observer is started or replays without a handler.
	ErrNoEventHandler = errors.New("no event handler set")

	// ErrAlreadyStarted is returned by Start when live delivery is already running.
	ErrAlreadyStarted = errors.New("observer already started")

	// ErrLiveDeliveryUnsupported is returned by Start when the store cannot push appended events.
	ErrLiveDeliveryUnsupported = errors.New("event store does not support live notification")

	// ErrEventHandlerFailed wraps an error returned by the handler during replay.
	ErrEventHandlerFailed = errors.New("event handler failed")
)

// HandlerFunc handles one event. Handlers must be idempotent, as delivery is at-least-once.
type HandlerFunc func(ctx context.Context, event eventstore.StoredEvent) error

// ReplayProgress is reported to ReplayOptions.OnChunkProcessed after every chunk.
type ReplayProgress struct {
	InstanceName    string
	ChunkSize       int
	EventsInChunk   int
	EventsProcessed int64
	Watermark       eventstore.Position
}

// ReplayOptions configures one ReplayEvents run.
type ReplayOptions struct {
	// InstanceName identifies the run in logs and metrics.
	InstanceName string

	// PartitionKey restricts the replay to one partition; empty replays all partitions.
	PartitionKey string

	// From skips events that occurred before it. It is ignored when After is set.
	From time.Time

	// After resumes a previous replay from the watermark it reached.
	After eventstore.Position

	// ChunkSize bounds the number of events loaded at once; DefaultChunkSize when not positive.
	ChunkSize int

	// OnChunkProcessed is called after every chunk; an error aborts the replay.
	OnChunkProcessed func(ctx context.Context, progress ReplayProgress) error

	// ReplicaReads lets chunks be loaded from a read replica of the store.
	ReplicaReads bool
}

// ReplayResult reports how far a replay got.
type ReplayResult struct {
	EventsProcessed int64
	Watermark       eventstore.Position
	Cancelled       bool
}

// Observer delivers events from an EventStore to one HandlerFunc.
type Observer struct {
	store            eventstore.EventStore
	logger           eventstore.Logger
	contextualLogger eventstore.ContextualLogger
	metricsCollector eventstore.MetricsCollector

	mu           sync.Mutex
	handler      HandlerFunc
	unsubscribe  func()
	instanceName string
}

// Option defines a functional option for configuring Observer.
type Option func(*Observer)

// WithLogger sets the logger for the Observer.
func WithLogger(logger eventstore.Logger) Option {
	return func(o *Observer) {
		o.logger = logger
	}
}

// WithContextualLogger sets the contextual logger for the Observer.
func WithContextualLogger(logger eventstore.ContextualLogger) Option {
	return func(o *Observer) {
		o.contextualLogger = logger
	}
}

// WithMetrics sets the metrics collector for the Observer.
func WithMetrics(collector eventstore.MetricsCollector) Option {
	return func(o *Observer) {
		o.metricsCollector = collector
	}
}

// New creates an Observer for the store.
func New(store eventstore.EventStore, options ...Option) *Observer {
	o := &Observer{store: store}

	for _, option := range options {
		option(o)
	}

	return o
}

// SetEventHandler registers the one handler of this observer, replacing any previous one.
func (o *Observer) SetEventHandler(handler HandlerFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.handler = handler
}

func (o *Observer) currentHandler() HandlerFunc {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.handler
}

// Start subscribes to the store's live notifications.
func (o *Observer) Start(ctx context.Context, instanceName string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.handler == nil {
		return ErrNoEventHandler
	}

	if o.unsubscribe != nil {
		return ErrAlreadyStarted
	}

	notifier, ok := o.store.(eventstore.Notifier)
	if !ok {
		return ErrLiveDeliveryUnsupported
	}

	o.instanceName = instanceName
	o.unsubscribe = notifier.Subscribe(o.deliverLive)
	o.logInfo(ctx, logMsgStarted, logAttrInstance, instanceName)

	return nil
}

// Stop ends live delivery. Stopping an observer that was not started is a no-op.
func (o *Observer) Stop(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.unsubscribe == nil {
		return nil
	}

	o.unsubscribe()
	o.unsubscribe = nil
	o.logInfo(ctx, logMsgStopped, logAttrInstance, o.instanceName)

	return nil
}

func (o *Observer) deliverLive(ctx context.Context, events eventstore.StoredEvents) {
	handler := o.currentHandler()
	if handler == nil {
		return
	}

	for _, event := range events {
		if err := handler(ctx, event); err != nil {
			o.logError(ctx, logMsgLiveHandlerFailed, err,
				logAttrInstance, o.instanceName,
				logAttrStreamID, event.StreamID,
				logAttrEventType, event.EventType)
			o.incrementCounter(ctx, metricLiveFailures, map[string]string{metricLabelInstance: o.instanceName})
		}
	}
}

// ReplayEvents runs every event of the chronological log, optionally scoped to a partition
// and a start time, through the handler.
//
// Cancelling ctx stops the replay after the current chunk. The result then has Cancelled set
// and carries the watermark to resume from; no error is returned in that case.
// A handler error aborts the replay; the watermark then points at the last event handled successfully.
func (o *Observer) ReplayEvents(ctx context.Context, options ReplayOptions) (ReplayResult, error) {
	handler := o.currentHandler()
	if handler == nil {
		return ReplayResult{}, ErrNoEventHandler
	}

	chunkSize := options.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	result := ReplayResult{Watermark: options.After}
	if result.Watermark.IsZero() && !options.From.IsZero() {
		result.Watermark = eventstore.PositionFrom(options.From)
	}

	// Work inside a chunk must not be interrupted; ctx is only consulted between chunks.
	work := context.WithoutCancel(ctx)
	load := work
	if options.ReplicaReads {
		load = eventstore.WithReadConsistency(work, eventstore.ReadReplica)
	}

	start := time.Now()

	for {
		if ctx.Err() != nil {
			result.Cancelled = true
			o.logInfo(ctx, logMsgReplayCancelled, o.replayAttrs(options.InstanceName, result)...)
			o.recordReplay(ctx, options.InstanceName, result, start, "cancelled")

			return result, nil
		}

		chunk, err := o.store.LoadEventsChronological(load, eventstore.ChronologicalQuery{
			PartitionKey: options.PartitionKey,
			After:        result.Watermark,
			Limit:        chunkSize,
		})
		if err != nil {
			o.recordReplay(ctx, options.InstanceName, result, start, "error")
			return result, err
		}

		for _, event := range chunk {
			if err = handler(work, event); err != nil {
				o.recordReplay(ctx, options.InstanceName, result, start, "error")
				return result, errors.Join(ErrEventHandlerFailed, err)
			}

			result.Watermark = event.Position()
			result.EventsProcessed++
		}

		o.logDebug(ctx, logMsgChunkProcessed, o.replayAttrs(options.InstanceName, result)...)

		if options.OnChunkProcessed != nil {
			progress := ReplayProgress{
				InstanceName:    options.InstanceName,
				ChunkSize:       chunkSize,
				EventsInChunk:   len(chunk),
				EventsProcessed: result.EventsProcessed,
				Watermark:       result.Watermark,
			}

			if err = options.OnChunkProcessed(work, progress); err != nil {
				o.recordReplay(ctx, options.InstanceName, result, start, "error")
				return result, err
			}
		}

		if len(chunk) < chunkSize {
			break
		}
	}

	o.logInfo(ctx, logMsgReplayFinished,
		append(o.replayAttrs(options.InstanceName, result), logAttrDurationMS, time.Since(start).Milliseconds())...)
	o.recordReplay(ctx, options.InstanceName, result, start, "success")

	return result, nil
}

// ReplayEventsForOneDocument runs the full history of one stream through the handler.
// It returns the number of events handled.
func (o *Observer) ReplayEventsForOneDocument(ctx context.Context, streamID string, partitionKey string) (int, error) {
	handler := o.currentHandler()
	if handler == nil {
		return 0, ErrNoEventHandler
	}

	stream, err := o.store.LoadStream(ctx, streamID, partitionKey)
	if err != nil {
		return 0, err
	}

	for i, event := range stream.Events {
		if err = handler(ctx, event); err != nil {
			return i, errors.Join(ErrEventHandlerFailed, err)
		}
	}

	return len(stream.Events), nil
}

func (o *Observer) replayAttrs(instanceName string, result ReplayResult) []any {
	return []any{
		logAttrInstance, instanceName,
		logAttrEventsProcessed, result.EventsProcessed,
		logAttrWatermarkAt, result.Watermark.OccurredAt,
		logAttrWatermarkSeq, result.Watermark.Sequence,
	}
}
