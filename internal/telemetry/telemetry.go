// Package telemetry bridges mediators and emitters to OpenTelemetry: spans around
// dispatch and W3C trace context carried in message headers.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	cmed "github.com/next-trace/scg-mediator/contract/mediator"
)

const instrumentation = "github.com/next-trace/scg-mediator"

// Span names.
const (
	SpanSend   = "mediator.Send"
	SpanHandle = "mediator.Handle"
	SpanEmit   = "signal.Emit"
	SpanSignal = "signal.Handle"
)

// Propagator carries trace context through message headers using the globally
// configured OpenTelemetry text map propagator.
type Propagator struct{}

var _ cmed.HeaderPropagator = Propagator{}

func (Propagator) Inject(ctx context.Context, headers map[string]string) {
	if headers == nil {
		return
	}

	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
}

func (Propagator) Extract(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}

	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(headers))
}

// Start opens a span tagged with the pattern and transport name.
func Start(
	ctx context.Context,
	name string,
	kind trace.SpanKind,
	pattern, transport string,
) (context.Context, trace.Span) {
	return otel.Tracer(instrumentation).Start(ctx, name,
		trace.WithSpanKind(kind),
		trace.WithAttributes(
			attribute.String("mediator.pattern", pattern),
			attribute.String("mediator.transport", transport),
		),
	)
}

// Finish records a response code on the span, if any, and ends it.
func Finish(span trace.Span, code string) {
	if code != "" {
		span.SetStatus(codes.Error, code)
	}

	span.End()
}

// FinishErr records err on the span, if any, and ends it.
func FinishErr(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.End()
}
