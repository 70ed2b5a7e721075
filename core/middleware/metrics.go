package middleware

import (
	"context"
	"time"

	"github.com/miladsoleymani/queuemux/core"
)

// MetricsCollector is the interface that metrics backends must implement.
// This keeps the middleware decoupled from any specific metrics library.
type MetricsCollector interface {
	// MessageProcessed records that a message went through a handler.
	// handled is the handler's verdict and err is nil on success.
	MessageProcessed(queue, messageType string, duration time.Duration, handled bool, err error)
}

// Metrics returns middleware that reports processing metrics to the given collector.
func Metrics(collector MetricsCollector) core.MiddlewareFunc {
	return func(next core.HandlerFunc) core.HandlerFunc {
		return func(ctx context.Context, hc *core.HandleContext) (bool, error) {
			start := time.Now()
			handled, err := next(ctx, hc)
			collector.MessageProcessed(hc.QueueName(), hc.MessageType(), time.Since(start), handled, err)
			return handled, err
		}
	}
}

// MonitorCollector reports through a core.Monitor: every call is a handle
// time, every failed call also a handle exception.
func MonitorCollector(m core.Monitor) MetricsCollector {
	return monitorCollector{m: m}
}

type monitorCollector struct{ m core.Monitor }

func (c monitorCollector) MessageProcessed(_, messageType string, d time.Duration, handled bool, err error) {
	c.m.HandleTime(d)
	if !handled || err != nil {
		c.m.HandleException(messageType)
	}
}
