package messaging

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/event/v3/transport"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/RedRL/messaging-system-backend/queue"
	"github.com/RedRL/messaging-system-backend/retry"
	"github.com/RedRL/messaging-system-backend/store"
)

// Default configuration values.
const (
	// DefaultMaxConcurrentFanout bounds concurrent inbox appends during
	// group fan-out.
	DefaultMaxConcurrentFanout = 10

	// DefaultConsumerBatchSize is the number of queue records fetched per
	// consumer poll.
	DefaultConsumerBatchSize = 10

	// DefaultShutdownTimeout is the graceful shutdown wait for in-flight
	// fan-out work.
	DefaultShutdownTimeout = 30 * time.Second
	MinShutdownTimeout     = 1 * time.Second
)

// options holds service configuration.
type options struct {
	store  store.Store
	queue  queue.Queue
	logger *slog.Logger

	retryConfig         retry.Config
	maxConcurrentFanout int
	consumerBatchSize   int
	shutdownTimeout     time.Duration

	// OpenTelemetry
	tracingEnabled bool
	metricsEnabled bool
	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Event handling
	eventTransport        transport.Transport
	redisClient           redis.UniversalClient
	onEventPublishFailure EventPublishFailureFunc
}

// EventPublishFailureFunc is called when an event fails to publish.
type EventPublishFailureFunc func(eventName string, err error)

// safeEventPublishFailure calls the event failure callback with panic
// recovery so a misbehaving handler cannot take down the operation.
func (o *options) safeEventPublishFailure(eventName string, err error) {
	if o.onEventPublishFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in event publish failure handler",
				"event", eventName,
				"original_error", err,
				"panic", r,
			)
		}
	}()
	o.onEventPublishFailure(eventName, err)
}

// newOptions creates options with defaults and applies provided options.
func newOptions(opts ...Option) *options {
	o := &options{
		logger:              slog.Default(),
		retryConfig:         retry.DefaultConfig(),
		maxConcurrentFanout: DefaultMaxConcurrentFanout,
		consumerBatchSize:   DefaultConsumerBatchSize,
		shutdownTimeout:     DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.onEventPublishFailure == nil {
		o.onEventPublishFailure = func(eventName string, err error) {
			o.logger.Error("failed to publish event", "event", eventName, "error", err)
		}
	}

	return o
}

// Option configures a messaging service.
type Option func(*options)

// WithStore sets the storage backend (required).
func WithStore(s store.Store) Option {
	return func(o *options) {
		if s != nil {
			o.store = s
		}
	}
}

// WithQueue sets the delivery queue transport (required).
func WithQueue(q queue.Queue) Option {
	return func(o *options) {
		if q != nil {
			o.queue = q
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRetryConfig sets the retry policy applied to store operations.
// The IsRetryable field is managed by the service and ignored here.
func WithRetryConfig(cfg retry.Config) Option {
	return func(o *options) {
		o.retryConfig = cfg
	}
}

// WithMaxConcurrentFanout sets the maximum number of concurrent inbox
// appends during group fan-out. Default is 10.
func WithMaxConcurrentFanout(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrentFanout = n
		}
	}
}

// WithConsumerBatchSize sets the number of queue records fetched per
// consumer poll. Default is 10.
func WithConsumerBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.consumerBatchSize = n
		}
	}
}

// WithShutdownTimeout sets the maximum time Close() waits for in-flight
// fan-out work. Default is 30 seconds. Minimum is 1 second.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= MinShutdownTimeout {
			o.shutdownTimeout = d
		}
	}
}

// --- OTel Options ---

// WithTracing enables or disables OpenTelemetry tracing.
// Default is disabled.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables or disables OpenTelemetry metrics.
// Default is disabled.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithServiceName sets the service name for telemetry and event bus naming.
// Default is "messaging".
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTracerProvider sets a custom OpenTelemetry tracer provider.
// Default uses the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets a custom OpenTelemetry meter provider.
// Default uses the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// --- Event Options ---

// WithEventTransport sets the event transport for publishing lifecycle
// events. If not provided, a noop transport is used.
func WithEventTransport(t transport.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.eventTransport = t
		}
	}
}

// WithRedisClient sets a Redis client for the event transport.
// Compatible with *redis.Client, *redis.ClusterClient, and
// redis.UniversalClient.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		if client != nil {
			o.redisClient = client
		}
	}
}

// WithEventPublishFailureHandler sets a callback for event publishing
// failures. By default failures are logged with the configured logger.
func WithEventPublishFailureHandler(fn EventPublishFailureFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.onEventPublishFailure = fn
		}
	}
}
