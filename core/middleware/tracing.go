package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/miladsoleymani/queuemux/core"
)

const tracerName = "github.com/miladsoleymani/queuemux"

// Tracing starts a consumer span around every handler call. A nil tracer
// uses the global provider.
func Tracing(tracer trace.Tracer) core.MiddlewareFunc {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return func(next core.HandlerFunc) core.HandlerFunc {
		return func(ctx context.Context, hc *core.HandleContext) (bool, error) {
			ctx, span := tracer.Start(ctx, "queuemux.handle "+hc.MessageType(),
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String("messaging.destination.name", hc.QueueName()),
					attribute.String("messaging.message.id", hc.MessageID()),
					attribute.String("queuemux.message_type", hc.MessageType()),
					attribute.Int("queuemux.receive_count", hc.ReceiveCount()),
				))
			defer span.End()

			handled, err := next(ctx, hc)
			span.SetAttributes(attribute.Bool("queuemux.handled", handled))
			switch {
			case err != nil:
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			case !handled:
				span.SetStatus(codes.Error, "not handled")
			default:
				span.SetStatus(codes.Ok, "")
			}
			return handled, err
		}
	}
}
