// Package ratelimit provides core.Limiter implementations for capping the
// dispatch rate of a consumer group.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miladsoleymani/queuemux/core"
)

// ErrClosed is returned by Wait once the limiter was closed.
var ErrClosed = errors.New("queuemux/ratelimit: limiter closed")

var _ core.Limiter = (*TokenBucket)(nil)

// DefaultInterval is the replenishment period of a TokenBucket.
const DefaultInterval = time.Second

// BucketOption configures a TokenBucket.
type BucketOption func(*TokenBucket)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) BucketOption {
	return func(b *TokenBucket) { b.interval = d }
}

// TokenBucket hands out at most capacity tokens per interval. Every interval
// the bucket is refilled to capacity; unused tokens do not carry over.
type TokenBucket struct {
	capacity int64
	interval time.Duration
	tokens   atomic.Int64

	mu     sync.Mutex
	wake   chan struct{} // closed on every refill
	closed bool

	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewTokenBucket returns a full bucket and starts its replenishment loop.
// Call Close to stop it.
func NewTokenBucket(capacity int, fns ...BucketOption) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	b := &TokenBucket{
		capacity: int64(capacity),
		interval: DefaultInterval,
		wake:     make(chan struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, fn := range fns {
		fn(b)
	}
	b.tokens.Store(b.capacity)
	go b.run()
	return b
}

// Capacity returns the number of tokens per interval.
func (b *TokenBucket) Capacity() int { return int(b.capacity) }

// Available returns the tokens left in the current interval.
func (b *TokenBucket) Available() int { return int(b.tokens.Load()) }

func (b *TokenBucket) run() {
	defer close(b.done)
	t := time.NewTicker(b.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			b.refill()
		case <-b.stop:
			return
		}
	}
}

func (b *TokenBucket) refill() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.tokens.Store(b.capacity)
	close(b.wake)
	b.wake = make(chan struct{})
}

func (b *TokenBucket) take() bool {
	for {
		n := b.tokens.Load()
		if n <= 0 {
			return false
		}
		if b.tokens.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

// Wait blocks until a token is available. It returns ctx.Err() when ctx ends
// first and ErrClosed when the bucket is closed.
func (b *TokenBucket) Wait(ctx context.Context) error {
	for {
		// Read wake before trying, so a refill between take and select is
		// never missed.
		b.mu.Lock()
		wake, closed := b.wake, b.closed
		b.mu.Unlock()
		if closed {
			return ErrClosed
		}
		if b.take() {
			return nil
		}
		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops replenishment and releases every waiter with ErrClosed. It
// returns once the replenishment loop exited.
func (b *TokenBucket) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.wake)
		b.mu.Unlock()
		close(b.stop)
	})
	<-b.done
	return nil
}
