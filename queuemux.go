// Package queuemux provides the top-level API for the queuemux bus.
// It re-exports core types for convenience, so users can write:
//
//	b := queuemux.New(queuemux.WithLogger(logger))
//	b.AddQueue("orders", transport)
//	b.Handle("orders", "OrderPlaced", handler)
//	b.Run(ctx)
package queuemux

import (
	"github.com/miladsoleymani/queuemux/core"
)

// Re-export core types at the package level for ergonomic usage.
type (
	Bus             = core.Bus
	Option          = core.Option
	GroupSettings   = core.GroupSettings
	Transport       = core.Transport
	RawMessage      = core.RawMessage
	HandleContext   = core.HandleContext
	HandlerFunc     = core.HandlerFunc
	MiddlewareFunc  = core.MiddlewareFunc
	ChainFactory    = core.ChainFactory
	Serializer      = core.Serializer
	BackoffStrategy = core.BackoffStrategy
	Monitor         = core.Monitor
	MessageLock     = core.MessageLock
	Limiter         = core.Limiter
)

// Re-exported options.
var (
	WithLogger        = core.WithLogger
	WithMonitor       = core.WithMonitor
	WithPauseSignal   = core.WithPauseSignal
	WithThrottled     = core.WithThrottled
	WithSerializer    = core.WithSerializer
	WithBackoff       = core.WithBackoff
	WithSettleTimeout = core.WithSettleTimeout
)

// New creates an empty Bus.
func New(fns ...Option) *Bus {
	return core.New(fns...)
}

// NewJSONSerializer returns a serializer with no registered types.
func NewJSONSerializer() *core.JSONSerializer {
	return core.NewJSONSerializer()
}

// RegisterType registers T under name on s.
func RegisterType[T any](s *core.JSONSerializer, name string) {
	core.RegisterType[T](s, name)
}
