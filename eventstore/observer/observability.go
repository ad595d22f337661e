package observer

import (
	"context"
	"time"

	"github.com/AntonStoeckl/eventstore-projections-go/eventstore"
)

func (o *Observer) logDebug(ctx context.Context, msg string, args ...any) {
	if o.logger != nil {
		o.logger.Debug(msg, args...)
	}

	if o.contextualLogger != nil {
		o.contextualLogger.DebugContext(ctx, msg, args...)
	}
}

func (o *Observer) logInfo(ctx context.Context, msg string, args ...any) {
	if o.logger != nil {
		o.logger.Info(msg, args...)
	}

	if o.contextualLogger != nil {
		o.contextualLogger.InfoContext(ctx, msg, args...)
	}
}

func (o *Observer) logError(ctx context.Context, msg string, err error, args ...any) {
	allArgs := append([]any{logAttrError, err.Error()}, args...)

	if o.logger != nil {
		o.logger.Error(msg, allArgs...)
	}

	if o.contextualLogger != nil {
		o.contextualLogger.ErrorContext(ctx, msg, allArgs...)
	}
}

func (o *Observer) incrementCounter(ctx context.Context, metric string, labels map[string]string) {
	if o.metricsCollector == nil {
		return
	}

	if contextual, ok := o.metricsCollector.(eventstore.ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, metric, labels)
		return
	}

	o.metricsCollector.IncrementCounter(metric, labels)
}

func (o *Observer) recordReplay(ctx context.Context, instanceName string, result ReplayResult, start time.Time, status string) {
	if o.metricsCollector == nil {
		return
	}

	labels := map[string]string{metricLabelInstance: instanceName, metricLabelStatus: status}
	duration := time.Since(start)

	if contextual, ok := o.metricsCollector.(eventstore.ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, metricReplayDuration, duration, labels)
		contextual.RecordValueContext(ctx, metricReplayEvents, float64(result.EventsProcessed), labels)

		return
	}

	o.metricsCollector.RecordDuration(metricReplayDuration, duration, labels)
	o.metricsCollector.RecordValue(metricReplayEvents, float64(result.EventsProcessed), labels)
}
