package oteladapters_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/AntonStoeckl/eventstore-projections-go/eventstore/oteladapters"
)

func Test_SlogBridgeLogger_WithHandler_WritesToHandler(t *testing.T) {
	// setup
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := oteladapters.NewSlogBridgeLoggerWithHandler("test", handler)

	// act
	logger.DebugContext(context.Background(), "projections: rebuild started", "index", "Orders_1")
	logger.WarnContext(context.Background(), "projections: rebuild failed", "error", "boom")

	// assert
	output := buf.String()
	assert.Contains(t, output, `"msg":"projections: rebuild started"`)
	assert.Contains(t, output, `"index":"Orders_1"`)
	assert.Contains(t, output, `"level":"WARN"`)
	assert.Contains(t, output, `"error":"boom"`)
}

func Test_SlogBridgeLogger_WithHandler_When_LevelBelowHandlerLevel(t *testing.T) {
	// setup
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := oteladapters.NewSlogBridgeLoggerWithHandler("test", handler)

	// act
	logger.DebugContext(context.Background(), "hidden")
	logger.InfoContext(context.Background(), "visible")

	// assert
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "visible")
}

type recordingLogger struct {
	noop.Logger

	mu      sync.Mutex
	records []log.Record
}

func (l *recordingLogger) Emit(_ context.Context, record log.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, record)
}

func Test_OTelLogger_EmitsTypedAttributes(t *testing.T) {
	// setup
	recorder := &recordingLogger{}
	logger := oteladapters.NewOTelLogger(recorder)

	// act
	logger.ErrorContext(
		context.Background(),
		"projections: document update failed",
		"index", "Orders_2",
		"attempt", 3,
		"duration", 1500*time.Millisecond,
		"error", errors.New("boom"),
		"dangling",
	)

	// assert
	require.Len(t, recorder.records, 1)
	record := recorder.records[0]
	assert.Equal(t, log.SeverityError, record.Severity())
	assert.Equal(t, "projections: document update failed", record.Body().AsString())

	attrs := make(map[string]log.Value)
	record.WalkAttributes(func(kv log.KeyValue) bool {
		attrs[kv.Key] = kv.Value
		return true
	})

	require.Len(t, attrs, 4)
	assert.Equal(t, "Orders_2", attrs["index"].AsString())
	assert.Equal(t, int64(3), attrs["attempt"].AsInt64())
	assert.InDelta(t, 1.5, attrs["duration"].AsFloat64(), 0.0001)
	assert.Equal(t, "boom", attrs["error"].AsString())
}

func newMeterProvider() (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()

	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)), reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	metrics := make(map[string]metricdata.Metrics)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			metrics[m.Name] = m
		}
	}

	return metrics
}

func Test_MetricsCollector_RecordsAllInstrumentKinds(t *testing.T) {
	// setup
	provider, reader := newMeterProvider()
	collector := oteladapters.NewMetricsCollector(provider.Meter("test"))
	ctx := context.Background()
	labels := map[string]string{"index": "Orders", "status": "success"}

	// act
	collector.RecordDuration("projections_rebuild_duration_seconds", 2*time.Second, labels)
	collector.RecordDurationContext(ctx, "projections_rebuild_duration_seconds", time.Second, labels)
	collector.IncrementCounter("projections_rebuilds_total", labels)
	collector.IncrementCounterContext(ctx, "projections_rebuilds_total", map[string]string{"status": "success", "index": "Orders"})
	collector.RecordValue("projections_lag_events", 7, labels)
	collector.RecordValueContext(ctx, "projections_lag_events", 3, labels)

	// assert
	metrics := collect(t, reader)

	histogram, ok := metrics["projections_rebuild_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, histogram.DataPoints, 1)
	assert.Equal(t, uint64(2), histogram.DataPoints[0].Count)
	assert.InDelta(t, 3.0, histogram.DataPoints[0].Sum, 0.0001)
	assert.Equal(t, "s", metrics["projections_rebuild_duration_seconds"].Unit)
	assert.Equal(t, "Projections engine rebuild duration seconds", metrics["projections_rebuild_duration_seconds"].Description)

	counter, ok := metrics["projections_rebuilds_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, counter.DataPoints, 1, "label maps with equal content must hit one series")
	assert.Equal(t, int64(2), counter.DataPoints[0].Value)

	status, found := counter.DataPoints[0].Attributes.Value(attribute.Key("status"))
	require.True(t, found)
	assert.Equal(t, "success", status.AsString())

	gauge, ok := metrics["projections_lag_events"].Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.InDelta(t, 3.0, gauge.DataPoints[0].Value, 0.0001)
}

func Test_MetricsCollector_When_UsedConcurrently(t *testing.T) {
	// setup
	provider, reader := newMeterProvider()
	collector := oteladapters.NewMetricsCollector(provider.Meter("test"))

	var wg sync.WaitGroup

	// act
	for i := 0; i < 20; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()
			collector.IncrementCounter("eventstore_appends_total", map[string]string{"status": "success"})
		}()
	}

	wg.Wait()

	// assert
	counter, ok := collect(t, reader)["eventstore_appends_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, counter.DataPoints, 1)
	assert.Equal(t, int64(20), counter.DataPoints[0].Value)
}

func newTracer() (*oteladapters.TracingCollector, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	return oteladapters.NewTracingCollector(provider.Tracer("test")), recorder
}

func Test_TracingCollector_StatusMapping(t *testing.T) {
	testCases := []struct {
		status       string
		expectedCode codes.Code
	}{
		{status: "success", expectedCode: codes.Ok},
		{status: "error", expectedCode: codes.Error},
		{status: "cancelled", expectedCode: codes.Error},
		{status: "conflict", expectedCode: codes.Unset},
	}

	for _, tc := range testCases {
		t.Run(tc.status, func(t *testing.T) {
			// setup
			collector, recorder := newTracer()

			// act
			_, span := collector.StartSpan(context.Background(), "projections.rebuild", map[string]string{"index": "Orders"})
			span.AddAttribute("events", "12")
			collector.FinishSpan(span, tc.status, map[string]string{"index_version": "2"})

			// assert
			ended := recorder.Ended()
			require.Len(t, ended, 1)
			assert.Equal(t, "projections.rebuild", ended[0].Name())
			assert.Equal(t, tc.expectedCode, ended[0].Status().Code)

			attrs := attribute.NewSet(ended[0].Attributes()...)
			for key, expected := range map[string]string{
				"index":         "Orders",
				"events":        "12",
				"index_version": "2",
				"status":        tc.status,
			} {
				value, found := attrs.Value(attribute.Key(key))
				assert.True(t, found, key)
				assert.Equal(t, expected, value.AsString(), key)
			}
		})
	}
}

func Test_TracingCollector_ChildSpansShareTrace(t *testing.T) {
	// setup
	collector, recorder := newTracer()

	// act
	ctx, parent := collector.StartSpan(context.Background(), "aggregate.execute", nil)
	_, child := collector.StartSpan(ctx, "eventstore.append", nil)
	collector.FinishSpan(child, "success", nil)
	collector.FinishSpan(parent, "success", nil)

	// assert
	ended := recorder.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, ended[1].SpanContext().TraceID(), ended[0].SpanContext().TraceID())
	assert.Equal(t, ended[1].SpanContext().SpanID(), ended[0].Parent().SpanID())
}
