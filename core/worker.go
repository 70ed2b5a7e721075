package core

import (
	"context"
	"time"
)

// MessageDispatcher is what a DispatchWorker hands messages to. *Dispatcher
// implements it.
type MessageDispatcher interface {
	Dispatch(ctx context.Context, qm *QueueMessage)
}

// DispatchWorker pulls messages one at a time and dispatches them
// sequentially. Concurrency comes from running several workers.
type DispatchWorker struct {
	in         *Channel[*QueueMessage]
	dispatcher MessageDispatcher
	limiter    Limiter
	throttled  *Throttled
	monitor    Monitor
}

// NewDispatchWorker returns a worker reading in. limiter and throttled are
// optional.
func NewDispatchWorker(in *Channel[*QueueMessage], d MessageDispatcher, limiter Limiter, throttled *Throttled, monitor Monitor) *DispatchWorker {
	if monitor == nil {
		monitor = NopMonitor{}
	}
	return &DispatchWorker{
		in:         in,
		dispatcher: d,
		limiter:    limiter,
		throttled:  throttled,
		monitor:    monitor,
	}
}

// Run processes messages until the input closes or ctx ends.
func (w *DispatchWorker) Run(ctx context.Context) error {
	for {
		qm, ok := w.in.Read(ctx)
		if !ok {
			return nil
		}
		if !w.process(ctx, qm) {
			return nil
		}
	}
}

// process reports false when ctx ended before qm could be dispatched; the
// message is then left for the transport to redeliver.
func (w *DispatchWorker) process(ctx context.Context, qm *QueueMessage) bool {
	if w.limiter != nil {
		start := time.Now()
		err := w.limiter.Wait(ctx)
		w.monitor.HandleThrottlingTime(time.Since(start))
		if err != nil {
			return false
		}
	}
	if w.throttled == nil {
		w.dispatcher.Dispatch(ctx, qm)
		return true
	}
	return w.throttled.Do(ctx, func(ctx context.Context) {
		w.dispatcher.Dispatch(ctx, qm)
	}) == nil
}
