package core

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
)

// Limiter paces dispatches. Implementations live in the ratelimit package;
// *rate.Limiter from golang.org/x/time/rate also satisfies it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Throttled caps how many dispatches run at the same time across every
// worker sharing it. A dispatch that finds no free slot is counted once with
// Monitor.IncrementThrottlingStatistic and its wait is reported through
// Monitor.HandleThrottlingTime.
type Throttled struct {
	sem      *semaphore.Weighted
	capacity int
	monitor  Monitor
}

// NewThrottled returns a strategy allowing capacity concurrent dispatches.
// Panics from monitor hooks are logged with slog.Default and swallowed.
func NewThrottled(capacity int, monitor Monitor) *Throttled {
	if capacity < 1 {
		capacity = 1
	}
	return &Throttled{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
		monitor:  newSafeMonitor(monitor, slog.Default()),
	}
}

// Capacity returns the number of concurrent dispatches allowed.
func (t *Throttled) Capacity() int { return t.capacity }

// Do runs fn once a slot is free. It returns ctx.Err() without running fn if
// ctx ends while waiting.
func (t *Throttled) Do(ctx context.Context, fn func(ctx context.Context)) error {
	if !t.sem.TryAcquire(1) {
		t.monitor.IncrementThrottlingStatistic()
		start := time.Now()
		err := t.sem.Acquire(ctx, 1)
		t.monitor.HandleThrottlingTime(time.Since(start))
		if err != nil {
			return err
		}
	}
	defer t.sem.Release(1)
	fn(ctx)
	return nil
}
