package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/Geralt1983/Thanos-sub001"

// Tracer wraps span creation for client operations. It accepts whatever
// TracerProvider the application configured; wiring exporters and samplers
// belongs to the composition root, not this library.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer builds a tracer from the given provider. A nil provider falls
// back to the globally registered one, which is a no-op unless the
// application installed a real provider.
func NewTracer(provider trace.TracerProvider) *Tracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &Tracer{tracer: provider.Tracer(tracerName)}
}

// StartToolCall opens a span for one tool invocation.
func (t *Tracer) StartToolCall(ctx context.Context, server, tool string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, "tool_call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("server.name", server),
			attribute.String("tool.name", tool),
		),
	)
}

// StartOperation opens a span for a named client operation.
func (t *Tracer) StartOperation(ctx context.Context, operation, server string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("server.name", server)),
	)
}

// EndSpan records the outcome and closes the span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
