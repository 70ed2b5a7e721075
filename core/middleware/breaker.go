package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/miladsoleymani/queuemux/core"
)

// BreakerSettings configures CircuitBreaker.
type BreakerSettings struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Defaults to 5.
	FailureThreshold uint32

	// ResetTimeout is how long the circuit stays open before a trial call.
	// Defaults to 30s.
	ResetTimeout time.Duration

	Logger *slog.Logger
}

var errNotHandled = errors.New("not handled")

// CircuitBreaker stops calling the handler named name after repeated
// failures. While the circuit is open every call fails fast with
// gobreaker.ErrOpenState, so messages are backed off without reaching a
// handler whose dependency is down. A handler returning false counts as a
// failure.
func CircuitBreaker(name string, s BreakerSettings) core.MiddlewareFunc {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = 30 * time.Second
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     s.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("handler circuit breaker state changed",
				slog.String("handler", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return func(next core.HandlerFunc) core.HandlerFunc {
		return func(ctx context.Context, hc *core.HandleContext) (bool, error) {
			_, err := cb.Execute(func() (interface{}, error) {
				handled, err := next(ctx, hc)
				if err == nil && !handled {
					return nil, errNotHandled
				}
				return nil, err
			})
			if errors.Is(err, errNotHandled) {
				return false, nil
			}
			if err != nil {
				return false, err
			}
			return true, nil
		}
	}
}
