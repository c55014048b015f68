package messaging

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/RedRL/messaging-system-backend"

// otelInstrumentation holds OpenTelemetry instrumentation for the service.
type otelInstrumentation struct {
	enabled bool

	// Tracing
	tracingEnabled bool
	tracer         trace.Tracer

	// Metrics
	metricsEnabled bool

	sendLatency   metric.Float64Histogram
	sendCount     metric.Int64Counter
	sendErrors    metric.Int64Counter
	fanoutLatency metric.Float64Histogram
	fanoutCount   metric.Int64Counter
	fanoutErrors  metric.Int64Counter
	inboxLatency  metric.Float64Histogram
	inboxCount    metric.Int64Counter
	inboxErrors   metric.Int64Counter
}

// newOtelInstrumentation creates new OTel instrumentation from options.
func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		enabled:        opts.tracingEnabled || opts.metricsEnabled,
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
	}

	if !o.enabled {
		return o, nil
	}

	if opts.tracingEnabled {
		tp := opts.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp.Tracer(instrumentationName)
	}

	if opts.metricsEnabled {
		mp := opts.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := o.initMetrics(mp); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// initMetrics initializes all metric instruments.
func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error

	o.sendLatency, err = meter.Float64Histogram(
		"messaging.send.duration",
		metric.WithDescription("Duration of send operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.sendCount, err = meter.Int64Counter(
		"messaging.send.count",
		metric.WithDescription("Number of messages accepted for delivery"),
	)
	if err != nil {
		return err
	}

	o.sendErrors, err = meter.Int64Counter(
		"messaging.send.errors",
		metric.WithDescription("Number of send errors"),
	)
	if err != nil {
		return err
	}

	o.fanoutLatency, err = meter.Float64Histogram(
		"messaging.fanout.duration",
		metric.WithDescription("Duration of fan-out record processing"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.fanoutCount, err = meter.Int64Counter(
		"messaging.fanout.count",
		metric.WithDescription("Number of fan-out records processed"),
	)
	if err != nil {
		return err
	}

	o.fanoutErrors, err = meter.Int64Counter(
		"messaging.fanout.errors",
		metric.WithDescription("Number of fan-out failures"),
	)
	if err != nil {
		return err
	}

	o.inboxLatency, err = meter.Float64Histogram(
		"messaging.inbox.duration",
		metric.WithDescription("Duration of inbox retrieval operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.inboxCount, err = meter.Int64Counter(
		"messaging.inbox.count",
		metric.WithDescription("Number of inbox retrieval operations"),
	)
	if err != nil {
		return err
	}

	o.inboxErrors, err = meter.Int64Counter(
		"messaging.inbox.errors",
		metric.WithDescription("Number of inbox retrieval errors"),
	)
	if err != nil {
		return err
	}

	return nil
}

// startSpan starts a new span if tracing is enabled.
// The returned func records the outcome and ends the span.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !o.tracingEnabled || o.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := o.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// recordSend records send operation metrics.
func (o *otelInstrumentation) recordSend(ctx context.Context, duration time.Duration, group bool, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.Bool("group", group),
	)

	o.sendLatency.Record(ctx, duration.Seconds(), attrs)
	o.sendCount.Add(ctx, 1, attrs)
	if err != nil {
		o.sendErrors.Add(ctx, 1, attrs)
	}
}

// recordFanout records fan-out processing metrics.
func (o *otelInstrumentation) recordFanout(ctx context.Context, duration time.Duration, recipientCount int, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.Int("recipient_count", recipientCount),
	)

	o.fanoutLatency.Record(ctx, duration.Seconds(), attrs)
	o.fanoutCount.Add(ctx, 1, attrs)
	if err != nil {
		o.fanoutErrors.Add(ctx, 1, attrs)
	}
}

// recordInbox records inbox retrieval metrics.
func (o *otelInstrumentation) recordInbox(ctx context.Context, duration time.Duration, resultCount int, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.Int("result_count", resultCount),
	)

	o.inboxLatency.Record(ctx, duration.Seconds(), attrs)
	o.inboxCount.Add(ctx, 1, attrs)
	if err != nil {
		o.inboxErrors.Add(ctx, 1, attrs)
	}
}
