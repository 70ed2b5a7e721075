package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/miladsoleymani/queuemux/core"
)

// Recovery returns middleware that recovers from panics in handlers,
// logs the stack trace, and returns the panic as an error.
func Recovery(logger *slog.Logger) core.MiddlewareFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next core.HandlerFunc) core.HandlerFunc {
		return func(ctx context.Context, hc *core.HandleContext) (handled bool, err error) {
			defer func() {
				if r := recover(); r != nil {
					buf := make([]byte, 4096)
					n := runtime.Stack(buf, false)
					logger.Error("panic recovered",
						"queue", hc.QueueName(), "type", hc.MessageType(), "panic", r, "stack", string(buf[:n]))
					handled, err = false, fmt.Errorf("queuemux: panic recovered: %v", r)
				}
			}()
			return next(ctx, hc)
		}
	}
}
