package middleware

import (
	"context"
	"time"

	"github.com/miladsoleymani/queuemux/core"
)

// Timeout bounds every handler call with a deadline d.
func Timeout(d time.Duration) core.MiddlewareFunc {
	return func(next core.HandlerFunc) core.HandlerFunc {
		return func(ctx context.Context, hc *core.HandleContext) (bool, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, hc)
		}
	}
}
