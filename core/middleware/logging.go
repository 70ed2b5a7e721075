package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/miladsoleymani/queuemux/core"
)

// Logging returns middleware that logs message processing duration and
// outcome. A nil logger uses slog.Default.
func Logging(logger *slog.Logger) core.MiddlewareFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next core.HandlerFunc) core.HandlerFunc {
		return func(ctx context.Context, hc *core.HandleContext) (bool, error) {
			start := time.Now()
			handled, err := next(ctx, hc)
			elapsed := time.Since(start)

			attrs := []any{
				"queue", hc.QueueName(),
				"type", hc.MessageType(),
				"message_id", hc.MessageID(),
				"elapsed", elapsed,
			}
			switch {
			case err != nil:
				logger.Error("message failed", append(attrs, "error", err)...)
			case !handled:
				logger.Warn("message not handled", attrs...)
			default:
				logger.Debug("message handled", attrs...)
			}
			return handled, err
		}
	}
}
