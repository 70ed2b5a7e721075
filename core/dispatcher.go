package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"
)

// DefaultSettleTimeout bounds the delete and visibility calls made after a
// handler returns.
const DefaultSettleTimeout = 10 * time.Second

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// Serializer decodes message bodies. Defaults to an empty JSONSerializer.
	Serializer Serializer

	// Routes resolves the handler chain per (queue, message type).
	Routes *MiddlewareMap

	// Backoff, when set, extends the invisibility of failed messages.
	Backoff BackoffStrategy

	Monitor Monitor
	Logger  *slog.Logger

	// SettleTimeout bounds delete/visibility calls. Defaults to
	// DefaultSettleTimeout.
	SettleTimeout time.Duration
}

// Dispatcher decodes a received message, runs its handler chain and settles
// the message on the transport. Every per-message error is contained here.
type Dispatcher struct {
	serializer    Serializer
	routes        *MiddlewareMap
	backoff       BackoffStrategy
	monitor       Monitor
	logger        *slog.Logger
	settleTimeout time.Duration
}

// NewDispatcher returns a Dispatcher for cfg.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	serializer := cfg.Serializer
	if serializer == nil {
		serializer = NewJSONSerializer()
	}
	settle := cfg.SettleTimeout
	if settle <= 0 {
		settle = DefaultSettleTimeout
	}
	return &Dispatcher{
		serializer:    serializer,
		routes:        cfg.Routes,
		backoff:       cfg.Backoff,
		monitor:       newSafeMonitor(cfg.Monitor, logger),
		logger:        logger,
		settleTimeout: settle,
	}
}

// Dispatch processes one message. It never panics and never returns an
// error: the outcome is visible only through the transport (deleted, left,
// or hidden for a backoff period), the Monitor and the logs.
func (d *Dispatcher) Dispatch(ctx context.Context, qm *QueueMessage) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch panicked", "queue", qm.QueueName(), "message_id", qm.ID(), "panic", r)
			d.monitor.HandleError(fmt.Errorf("queuemux: dispatch panic: %v", r), qm.Raw())
		}
	}()

	env, err := d.serializer.Deserialize(qm.Body())
	if err != nil {
		d.monitor.HandleError(err, qm.Raw())
		if errors.Is(err, ErrUnsupportedFormat) {
			d.logger.Warn("deleting message with unsupported format",
				"queue", qm.QueueName(), "message_id", qm.ID(), "error", err)
			d.delete(ctx, qm)
			return
		}
		// Left in place: the transport's redelivery policy takes over.
		d.logger.Error("failed to deserialize message",
			"queue", qm.QueueName(), "message_id", qm.ID(), "error", err)
		return
	}

	hc := NewHandleContext(qm, env)
	handler, ok := d.routes.Get(hc.QueueName(), hc.MessageType())
	if !ok {
		d.logger.Debug("no handler registered, deleting message",
			"queue", hc.QueueName(), "type", hc.MessageType(), "message_id", qm.ID())
		d.delete(ctx, qm)
		return
	}

	handled, err := d.handle(ctx, handler, hc)
	if handled && err == nil {
		d.delete(ctx, qm)
		return
	}

	d.monitor.HandleException(hc.MessageType())
	if err != nil {
		d.logger.Error("handler failed",
			"queue", hc.QueueName(), "type", hc.MessageType(), "message_id", qm.ID(), "error", err)
	} else {
		d.logger.Warn("handler did not handle message",
			"queue", hc.QueueName(), "type", hc.MessageType(), "message_id", qm.ID())
	}
	d.applyBackoff(ctx, hc, err)
}

func (d *Dispatcher) handle(ctx context.Context, h HandlerFunc, hc *HandleContext) (handled bool, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			d.logger.Error("handler panicked", "type", hc.MessageType(), "panic", r, "stack", string(buf[:n]))
			handled, err = false, fmt.Errorf("queuemux: handler panic: %v", r)
		}
		d.monitor.HandleTime(time.Since(start))
	}()
	return h(ctx, hc)
}

func (d *Dispatcher) applyBackoff(ctx context.Context, hc *HandleContext, cause error) {
	if d.backoff == nil {
		return
	}
	delay := d.backoff.Backoff(hc.Message(), hc.ReceiveCount(), cause)
	if delay < 0 {
		return
	}

	sctx, cancel := d.settleContext(ctx)
	defer cancel()
	if err := hc.ChangeVisibility(sctx, delay); err != nil {
		d.logger.Error("failed to extend message visibility",
			"queue", hc.QueueName(), "message_id", hc.MessageID(), "delay", delay, "error", err)
		d.monitor.HandleError(err, hc.qm.Raw())
	}
}

func (d *Dispatcher) delete(ctx context.Context, qm *QueueMessage) {
	sctx, cancel := d.settleContext(ctx)
	defer cancel()
	if err := qm.Delete(sctx); err != nil {
		d.logger.Error("failed to delete message", "queue", qm.QueueName(), "message_id", qm.ID(), "error", err)
		d.monitor.HandleError(err, qm.Raw())
	}
}

// settleContext detaches from shutdown so a handled message is still
// acknowledged after the bus was cancelled mid-dispatch.
func (d *Dispatcher) settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), d.settleTimeout)
}
