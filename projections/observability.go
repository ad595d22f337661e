package projections

import (
	"context"
	"time"

	"github.com/AntonStoeckl/eventstore-projections-go/eventstore"
)

const (
	logMsgIndexResolved          = "projections: index resolved"
	logMsgIndexVersionCreated    = "projections: index version created"
	logMsgIndexCreatedOnDemand   = "projections: missing index created on demand"
	logMsgRebuildLockAcquired    = "projections: rebuild lock acquired"
	logMsgRebuildLockNotAcquired = "projections: rebuild lock not acquired"
	logMsgRebuildLockLost        = "projections: rebuild lock lost"
	logMsgRebuildStarted         = "projections: rebuild started"
	logMsgRebuildFinished        = "projections: rebuild finished"
	logMsgRebuildFailed          = "projections: rebuild failed"
	logMsgRebuildSkipped         = "projections: rebuild skipped"
	logMsgDocumentRebuilt        = "projections: document rebuilt"
	logMsgDocumentRebuildSkipped = "projections: document rebuild skipped"

	logAttrSchema          = "schema"
	logAttrIndex           = "index"
	logAttrOwner           = "owner"
	logAttrInstance        = "instance"
	logAttrSelector        = "selector"
	logAttrStatus          = "status"
	logAttrEventsProcessed = "events_processed"
	logAttrEventsTotal     = "events_total"
	logAttrStreamID        = "stream_id"
	logAttrError           = "error"
	logAttrDurationMS      = "duration_ms"

	metricRebuildDuration = "projections_rebuild_duration_seconds"
	metricEventsApplied   = "projections_events_applied_total"
	metricApplyFailures   = "projections_apply_failures_total"
	metricLabelSchema     = "schema"
	metricLabelStatus     = "status"

	spanNameRebuild = "projections.rebuild"
	spanAttrSchema  = "schema"
	spanAttrIndex   = "index"
	spanAttrEvents  = "events_processed"

	statusSuccess   = "success"
	statusError     = "error"
	statusCancelled = "cancelled"
)

func (o *options) logDebug(ctx context.Context, msg string, args ...any) {
	if o.logger != nil {
		o.logger.Debug(msg, args...)
	}

	if o.contextualLogger != nil {
		o.contextualLogger.DebugContext(ctx, msg, args...)
	}
}

func (o *options) logInfo(ctx context.Context, msg string, args ...any) {
	if o.logger != nil {
		o.logger.Info(msg, args...)
	}

	if o.contextualLogger != nil {
		o.contextualLogger.InfoContext(ctx, msg, args...)
	}
}

func (o *options) logWarn(ctx context.Context, msg string, args ...any) {
	if o.logger != nil {
		o.logger.Warn(msg, args...)
	}

	if o.contextualLogger != nil {
		o.contextualLogger.WarnContext(ctx, msg, args...)
	}
}

func (o *options) logError(ctx context.Context, msg string, err error, args ...any) {
	allArgs := append([]any{logAttrError, err.Error()}, args...)

	if o.logger != nil {
		o.logger.Error(msg, allArgs...)
	}

	if o.contextualLogger != nil {
		o.contextualLogger.ErrorContext(ctx, msg, allArgs...)
	}
}

func (o *options) incrementCounter(ctx context.Context, metric string, labels map[string]string) {
	if o.metricsCollector == nil {
		return
	}

	if contextual, ok := o.metricsCollector.(eventstore.ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, metric, labels)
		return
	}

	o.metricsCollector.IncrementCounter(metric, labels)
}

func (o *options) recordDuration(ctx context.Context, metric string, duration time.Duration, labels map[string]string) {
	if o.metricsCollector == nil {
		return
	}

	if contextual, ok := o.metricsCollector.(eventstore.ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, metric, duration, labels)
		return
	}

	o.metricsCollector.RecordDuration(metric, duration, labels)
}

func (o *options) startSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, eventstore.SpanContext) {
	if o.tracingCollector == nil {
		return ctx, nil
	}

	return o.tracingCollector.StartSpan(ctx, name, attrs)
}

func (o *options) finishSpan(span eventstore.SpanContext, status string, attrs map[string]string) {
	if o.tracingCollector == nil || span == nil {
		return
	}

	o.tracingCollector.FinishSpan(span, status, attrs)
}
