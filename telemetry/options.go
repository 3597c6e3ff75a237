package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/propagation"
	sdklogs "go.opentelemetry.io/otel/sdk/log"
	sdkmetrics "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type Option func(ctx context.Context, m *manager)

// WithDisableTracing disable tracing for the service.
func WithDisableTracing() Option {
	return func(_ context.Context, m *manager) {
		m.disableTracing = true
	}
}

// WithServiceName sets the service name for resource tagging.
func WithServiceName(name string) Option {
	return func(_ context.Context, m *manager) {
		m.serviceName = name
	}
}

// WithServiceVersion sets the service version for resource tagging.
func WithServiceVersion(version string) Option {
	return func(_ context.Context, m *manager) {
		m.serviceVersion = version
	}
}

// WithServiceEnvironment sets the service environment for resource tagging.
func WithServiceEnvironment(env string) Option {
	return func(_ context.Context, m *manager) {
		m.serviceEnvironment = env
	}
}

// WithPropagationTextMap specifies the trace baggage carrier exporter to use.
func WithPropagationTextMap(carrier propagation.TextMapPropagator) Option {
	return func(_ context.Context, m *manager) {
		m.traceTextMap = carrier
	}
}

// WithTraceExporter specifies the trace exporter to use.
func WithTraceExporter(exporter sdktrace.SpanExporter) Option {
	return func(_ context.Context, m *manager) {
		m.traceExporter = exporter
	}
}

// WithTraceSampler specifies the trace sampler to use.
func WithTraceSampler(sampler sdktrace.Sampler) Option {
	return func(_ context.Context, m *manager) {
		m.traceSampler = sampler
	}
}

// WithMetricsReader specifies the metrics reader for the service.
func WithMetricsReader(reader sdkmetrics.Reader) Option {
	return func(_ context.Context, m *manager) {
		m.metricsReader = reader
	}
}

// WithMetricsViews registers extra views on the meter provider.
func WithMetricsViews(views ...sdkmetrics.View) Option {
	return func(_ context.Context, m *manager) {
		m.views = append(m.views, views...)
	}
}

// WithTraceLogsExporter specifies the trace logs exporter for the service.
func WithTraceLogsExporter(exporter sdklogs.Exporter) Option {
	return func(_ context.Context, m *manager) {
		m.traceLogsExporter = exporter
	}
}
