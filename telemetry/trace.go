package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/pitabwire/util"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

//nolint:gochecknoglobals // OpenTelemetry attribute keys must be global for reuse
var (
	AttrKeyKey    = attribute.Key("msgsource.key")
	AttrLocaleKey = attribute.Key("msgsource.locale")
	AttrCodeKey   = attribute.Key("msgsource.code")
	AttrErrorKey  = attribute.Key("msgsource.error")
)

type contextKey string

const startTimeContextKey contextKey = "spanStartTimeCtxKey"

// Tracer starts spans whose latency lands in the package latency histogram.
type Tracer interface {
	Start(ctx context.Context, methodName string, options ...trace.SpanStartOption) (context.Context, trace.Span)
	End(ctx context.Context, span trace.Span, methodName string, err error, options ...trace.SpanEndOption)
}

type tracer struct {
	name           string
	tracer         trace.Tracer
	latencyMeasure metric.Float64Histogram
}

// NewTracer creates a new tracer for a package.
func NewTracer(name string, options ...trace.TracerOption) Tracer {
	return &tracer{
		name:           name,
		tracer:         otel.Tracer(name, options...),
		latencyMeasure: LatencyMeasure(name),
	}
}

// Start creates and starts a new span. The caller is responsible for ending it.
//
//nolint:spancheck // spans are returned to the caller
func (t *tracer) Start(
	ctx context.Context,
	spanName string,
	options ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	options = append(options, trace.WithAttributes(methodKey.String(spanName)))

	sCtx, span := t.tracer.Start(ctx, t.name+"/"+spanName, options...)
	return context.WithValue(sCtx, startTimeContextKey, time.Now()), span
}

// End completes a span with error information if applicable and records its latency.
func (t *tracer) End(
	ctx context.Context,
	span trace.Span,
	methodName string,
	err error,
	options ...trace.SpanEndOption,
) {
	startTime, ok := ctx.Value(startTimeContextKey).(time.Time)
	if !ok {
		util.Log(ctx).WithField("method", methodName).Error("span context carries no start time")
		span.End(options...)
		return
	}

	if err != nil {
		options = append(options, trace.WithStackTrace(true))
		span.SetAttributes(AttrErrorKey.String(err.Error()))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End(options...)

	t.latencyMeasure.Record(ctx,
		float64(time.Since(startTime).Milliseconds()),
		metric.WithAttributes(StatusAttr(err), MethodAttr(methodName)),
	)
}

func ErrorCode(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "deadline exceeded"
	}
	return "err"
}
