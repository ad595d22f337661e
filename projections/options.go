package projections

import (
	"time"

	"github.com/AntonStoeckl/eventstore-projections-go/eventstore"
)

type options struct {
	now              func() time.Time
	stallThreshold   time.Duration
	lockPrecision    time.Duration
	chunkSize        int
	logger           eventstore.Logger
	contextualLogger eventstore.ContextualLogger
	metricsCollector eventstore.MetricsCollector
	tracingCollector eventstore.TracingCollector
}

func buildOptions(opts []Option) options {
	o := options{
		now:            time.Now,
		stallThreshold: DefaultStallThreshold,
		lockPrecision:  DefaultLockPrecision,
	}

	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// Option defines a functional option for configuring a Registry or an Engine.
type Option func(*options)

// WithClock replaces time.Now, e.g. to control stall detection in tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithStallThreshold sets the heartbeat age after which a rebuild counts as stalled.
// The default is DefaultStallThreshold.
func WithStallThreshold(threshold time.Duration) Option {
	return func(o *options) {
		if threshold > 0 {
			o.stallThreshold = threshold
		}
	}
}

// WithLockPrecision sets the precision timestamps are truncated to when the rebuild lock is verified.
// It must be at least as coarse as the timestamp precision of the KeyValueStore. The default is DefaultLockPrecision.
func WithLockPrecision(precision time.Duration) Option {
	return func(o *options) {
		if precision > 0 {
			o.lockPrecision = precision
		}
	}
}

// WithReplayChunkSize sets the number of events loaded per chunk during a rebuild.
func WithReplayChunkSize(chunkSize int) Option {
	return func(o *options) {
		o.chunkSize = chunkSize
	}
}

// WithLogger sets the logger.
//
// Debug level: index resolution, skipped rebuilds
// Info level: index versions created, rebuild locks acquired, rebuilds started and finished
// Warn level: lost rebuild locks
// Error level: failed rebuilds.
func WithLogger(logger eventstore.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithContextualLogger sets a context-aware logger, e.g. the OpenTelemetry slog bridge.
func WithContextualLogger(logger eventstore.ContextualLogger) Option {
	return func(o *options) {
		o.contextualLogger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(collector eventstore.MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = collector
	}
}

// WithTracing sets the tracing collector.
func WithTracing(collector eventstore.TracingCollector) Option {
	return func(o *options) {
		o.tracingCollector = collector
	}
}
