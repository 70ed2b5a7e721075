package middleware

import (
	"context"
	"time"

	"github.com/miladsoleymani/queuemux/core"
)

// Throttle waits on limiter before every handler call and reports the wait to
// monitor, which may be nil. A cancelled wait fails the call with ctx.Err().
func Throttle(limiter core.Limiter, monitor core.Monitor) core.MiddlewareFunc {
	if monitor == nil {
		monitor = core.NopMonitor{}
	}
	return func(next core.HandlerFunc) core.HandlerFunc {
		return func(ctx context.Context, hc *core.HandleContext) (bool, error) {
			start := time.Now()
			err := limiter.Wait(ctx)
			monitor.HandleThrottlingTime(time.Since(start))
			if err != nil {
				return false, err
			}
			return next(ctx, hc)
		}
	}
}
