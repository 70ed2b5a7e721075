package core

import (
	"context"
	"sync"
)

// Channel is a bounded channel that lets a writer wait for free capacity
// before it has an item to write. Receive buffers use this to stop polling the
// transport while downstream is full.
type Channel[T any] struct {
	items     chan T
	space     chan struct{}
	closeOnce sync.Once
}

// NewChannel returns a channel holding at most capacity items. A capacity
// below one is raised to one.
func NewChannel[T any](capacity int) *Channel[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Channel[T]{
		items: make(chan T, capacity),
		space: make(chan struct{}, 1),
	}
}

// Cap returns the capacity.
func (c *Channel[T]) Cap() int { return cap(c.items) }

// Len returns the number of buffered items.
func (c *Channel[T]) Len() int { return len(c.items) }

// WaitToWrite blocks until the channel has room for at least one item.
func (c *Channel[T]) WaitToWrite(ctx context.Context) error {
	for len(c.items) >= cap(c.items) {
		select {
		case <-c.space:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Write blocks until v is buffered or ctx ends.
func (c *Channel[T]) Write(ctx context.Context, v T) error {
	select {
	case c.items <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Read returns the next item. ok is false once the channel is closed and
// drained, or when ctx ends.
func (c *Channel[T]) Read(ctx context.Context) (v T, ok bool) {
	select {
	case v, ok = <-c.items:
	case <-ctx.Done():
		return v, false
	}
	if ok {
		c.signalSpace()
	}
	return v, ok
}

// Close completes the writer side. Readers drain what is buffered, then see
// ok == false. Close is idempotent.
func (c *Channel[T]) Close() {
	c.closeOnce.Do(func() { close(c.items) })
}

func (c *Channel[T]) signalSpace() {
	select {
	case c.space <- struct{}{}:
	default:
	}
}
