package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ujala-development/serials/internal/platform/requestctx"
)

const instrumentationName = "github.com/ujala-development/serials"

// StartSpan starts an internal span on the global tracer provider and records its IDs on
// the returned context for log correlation. Call the returned function with the
// operation's error to end the span.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	if sc := span.SpanContext(); sc.IsValid() {
		ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{
			TraceID: sc.TraceID().String(),
			SpanID:  sc.SpanID().String(),
			Sampled: sc.IsSampled(),
		})
	}
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, SanitizeValue(err.Error()))
		}
		span.End()
	}
}
