package sqlengine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/AntonStoeckl/eventstore-projections-go/eventstore"
)

const (
	metricQueryDuration        = "eventstore_query_duration_seconds"
	metricAppendDuration       = "eventstore_append_duration_seconds"
	metricItemDuration         = "eventstore_item_duration_seconds"
	metricEventsQueried        = "eventstore_events_queried_total"
	metricEventsAppended       = "eventstore_events_appended_total"
	metricConcurrencyConflicts = "eventstore_concurrency_conflicts_total"
	metricDatabaseErrors       = "eventstore_database_errors_total"

	spanNameQuery  = "eventstore.query"
	spanNameAppend = "eventstore.append"
	spanNameItem   = "eventstore.item"

	spanAttrOperation    = "operation"
	spanAttrStreamID     = "stream_id"
	spanAttrEventCount   = "event_count"
	spanAttrEventType    = "event_type"
	spanAttrExpectedVer  = "expected_version"
	spanAttrErrorType    = "error_type"
	spanAttrDurationMS   = "duration_ms"
	metricLabelStatus    = "status"
	metricLabelConflicts = "conflict_type"

	operationLoadStream    = "load_stream"
	operationAppend        = "append"
	operationChronological = "load_chronological"
	operationCount         = "count"
	operationLoadItem      = "load_item"
	operationUpsertItem    = "upsert_item"

	statusSuccess  = "success"
	statusError    = "error"
	statusConflict = "conflict"

	errorTypeBuildQuery = "build_query"
	errorTypeDatabase   = "database"
	errorTypeScan       = "scan"
	errorTypeUninit     = "uninitialized"
)

// operationObserver bundles the tracing span and the metrics of one EventStore operation.
type operationObserver struct {
	es             *EventStore
	ctx            context.Context
	span           eventstore.SpanContext
	operation      string
	durationMetric string
	start          time.Time
}

// startOperation opens a tracing span (if configured) and starts the clock for duration metrics.
func (es *EventStore) startOperation(
	ctx context.Context,
	spanName string,
	durationMetric string,
	operation string,
	attrs map[string]string,
) (*operationObserver, context.Context) {

	if attrs == nil {
		attrs = make(map[string]string)
	}

	attrs[spanAttrOperation] = operation

	var span eventstore.SpanContext
	if es.tracingCollector != nil {
		ctx, span = es.tracingCollector.StartSpan(ctx, spanName, attrs)
	}

	return &operationObserver{
		es:             es,
		ctx:            ctx,
		span:           span,
		operation:      operation,
		durationMetric: durationMetric,
		start:          time.Now(),
	}, ctx
}

// success finishes the span and records the duration plus an optional counter value.
func (o *operationObserver) success(valueMetric string, value float64, attrs map[string]string) {
	duration := time.Since(o.start)
	o.es.recordDuration(o.ctx, o.durationMetric, duration, o.operation, statusSuccess)

	if valueMetric != "" {
		o.es.recordValue(o.ctx, valueMetric, value, o.operation, statusSuccess)
	}

	o.finishSpan(statusSuccess, duration, attrs)
}

// conflict finishes the span of an operation that was rejected by an optimistic concurrency check.
func (o *operationObserver) conflict() {
	duration := time.Since(o.start)
	o.es.recordDuration(o.ctx, o.durationMetric, duration, o.operation, statusConflict)

	if o.es.metricsCollector != nil {
		labels := map[string]string{spanAttrOperation: o.operation, metricLabelConflicts: "concurrency"}

		if contextual, ok := o.es.metricsCollector.(eventstore.ContextualMetricsCollector); ok {
			contextual.IncrementCounterContext(o.ctx, metricConcurrencyConflicts, labels)
		} else {
			o.es.metricsCollector.IncrementCounter(metricConcurrencyConflicts, labels)
		}
	}

	o.finishSpan(statusConflict, duration, nil)
}

// failure finishes the span with error details and records error metrics.
func (o *operationObserver) failure(errorType string) {
	duration := time.Since(o.start)
	o.es.recordDuration(o.ctx, o.durationMetric, duration, o.operation, statusError)

	if o.es.metricsCollector != nil {
		labels := map[string]string{
			spanAttrOperation: o.operation,
			metricLabelStatus: statusError,
			spanAttrErrorType: errorType,
		}

		if contextual, ok := o.es.metricsCollector.(eventstore.ContextualMetricsCollector); ok {
			contextual.IncrementCounterContext(o.ctx, metricDatabaseErrors, labels)
		} else {
			o.es.metricsCollector.IncrementCounter(metricDatabaseErrors, labels)
		}
	}

	o.finishSpan(statusError, duration, map[string]string{spanAttrErrorType: errorType})
}

func (o *operationObserver) finishSpan(status string, duration time.Duration, attrs map[string]string) {
	if o.es.tracingCollector == nil || o.span == nil {
		return
	}

	o.span.SetStatus(status)
	o.span.AddAttribute(spanAttrDurationMS, fmt.Sprintf("%.2f", toMilliseconds(duration)))

	for key, value := range attrs {
		o.span.AddAttribute(key, value)
	}

	o.es.tracingCollector.FinishSpan(o.span, status, attrs)
}

// recordDuration records duration metrics, with context if the collector supports it.
func (es *EventStore) recordDuration(
	ctx context.Context,
	metricName string,
	duration time.Duration,
	operation, status string,
) {

	if es.metricsCollector == nil {
		return
	}

	labels := map[string]string{spanAttrOperation: operation, metricLabelStatus: status}

	if contextual, ok := es.metricsCollector.(eventstore.ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, metricName, duration, labels)
		return
	}

	es.metricsCollector.RecordDuration(metricName, duration, labels)
}

// recordValue records value metrics, with context if the collector supports it.
func (es *EventStore) recordValue(
	ctx context.Context,
	metricName string,
	value float64,
	operation, status string,
) {

	if es.metricsCollector == nil {
		return
	}

	labels := map[string]string{spanAttrOperation: operation, metricLabelStatus: status}

	if contextual, ok := es.metricsCollector.(eventstore.ContextualMetricsCollector); ok {
		contextual.RecordValueContext(ctx, metricName, value, labels)
		return
	}

	es.metricsCollector.RecordValue(metricName, value, labels)
}

// logQueryWithDuration logs SQL queries with execution time at debug level if a logger is configured.
func (es *EventStore) logQueryWithDuration(
	ctx context.Context,
	sqlQuery string,
	action string,
	duration time.Duration,
) {

	if es.logger != nil {
		es.logger.Debug(logMsgSQLExecuted+action, logAttrDurationMS, toMilliseconds(duration), logAttrQuery, sqlQuery)
	}

	if es.contextualLogger != nil {
		es.contextualLogger.DebugContext(ctx, logMsgSQLExecuted+action, logAttrDurationMS, toMilliseconds(duration), logAttrQuery, sqlQuery)
	}
}

// logOperation logs operational information at info level if a logger is configured.
func (es *EventStore) logOperation(ctx context.Context, action string, args ...any) {
	if es.logger != nil {
		es.logger.Info(logMsgOperation+action, args...)
	}

	if es.contextualLogger != nil {
		es.contextualLogger.InfoContext(ctx, logMsgOperation+action, args...)
	}
}

// logWarn logs non-critical issues if a logger is configured.
func (es *EventStore) logWarn(ctx context.Context, message string, err error) {
	if es.logger != nil {
		es.logger.Warn(message, logAttrError, err.Error())
	}

	if es.contextualLogger != nil {
		es.contextualLogger.WarnContext(ctx, message, logAttrError, err.Error())
	}
}

// logError logs error information at the error level if a logger is configured.
func (es *EventStore) logError(ctx context.Context, message string, err error, args ...any) {
	allArgs := []any{logAttrError, err.Error()}
	allArgs = append(allArgs, args...)

	if es.logger != nil {
		es.logger.Error(message, allArgs...)
	}

	if es.contextualLogger != nil {
		es.contextualLogger.ErrorContext(ctx, message, allArgs...)
	}
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}
