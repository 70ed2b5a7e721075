package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/miladsoleymani/queuemux/core"
)

// DefaultLockPrefix prefixes every exactly-once lock key.
const DefaultLockPrefix = "queuemux"

// Keyed is implemented by messages carrying their own deduplication key.
// Messages that do not implement it are keyed by transport message ID.
type Keyed interface {
	UniqueKey() string
}

// ExactlyOnceOption configures ExactlyOnce.
type ExactlyOnceOption func(*exactlyOnce)

// WithLockPrefix overrides DefaultLockPrefix.
func WithLockPrefix(prefix string) ExactlyOnceOption {
	return func(e *exactlyOnce) { e.prefix = prefix }
}

// WithLockLogger sets the logger used for lock bookkeeping failures.
func WithLockLogger(l *slog.Logger) ExactlyOnceOption {
	return func(e *exactlyOnce) { e.logger = l }
}

// WithLockSettleTimeout bounds the make-permanent and release calls made after
// the handler returned. Defaults to core.DefaultSettleTimeout.
func WithLockSettleTimeout(d time.Duration) ExactlyOnceOption {
	return func(e *exactlyOnce) { e.settle = d }
}

type exactlyOnce struct {
	lock    core.MessageLock
	handler string
	ttl     time.Duration
	prefix  string
	settle  time.Duration
	logger  *slog.Logger
}

// ExactlyOnce suppresses duplicate handler runs for the same message under
// at-least-once delivery. handlerName identifies the guarded handler so that
// several handlers may process the same message once each; ttl bounds how long
// an in-flight attempt holds the lock.
//
// A message whose lock is held permanently was already handled and is
// reported as handled without running next. A message locked by another
// in-flight attempt is reported as not handled and left on the queue. After a
// successful run the lock is made permanent; after a failed or panicking run
// it is released so that a redelivery can try again, and the panic is
// propagated. Every attempt holds the lock under its own token, so a late
// attempt whose lock expired cannot release or complete a successor's lock.
// Lock provider errors are returned as handler failures.
func ExactlyOnce(lock core.MessageLock, handlerName string, ttl time.Duration, fns ...ExactlyOnceOption) core.MiddlewareFunc {
	e := &exactlyOnce{
		lock:    lock,
		handler: handlerName,
		ttl:     ttl,
		prefix:  DefaultLockPrefix,
		settle:  core.DefaultSettleTimeout,
		logger:  slog.Default(),
	}
	for _, fn := range fns {
		fn(e)
	}
	return func(next core.HandlerFunc) core.HandlerFunc {
		return func(ctx context.Context, hc *core.HandleContext) (bool, error) {
			return e.handle(ctx, hc, next)
		}
	}
}

func (e *exactlyOnce) key(hc *core.HandleContext) string {
	id := hc.MessageID()
	if k, ok := hc.Message().(Keyed); ok {
		id = k.UniqueKey()
	}
	return e.prefix + ":" + id + ":" + e.handler
}

func (e *exactlyOnce) handle(ctx context.Context, hc *core.HandleContext, next core.HandlerFunc) (bool, error) {
	key := e.key(hc)
	holder := uuid.NewString()
	res, err := e.lock.TryAcquire(ctx, key, holder, e.ttl)
	if err != nil {
		return false, fmt.Errorf("queuemux: acquire lock %q: %w", key, err)
	}

	switch res {
	case core.LockHeldPermanently:
		e.logger.Debug("message already handled", "key", key, "queue", hc.QueueName())
		return true, nil
	case core.LockHeldByOther:
		e.logger.Debug("message in flight elsewhere", "key", key, "queue", hc.QueueName())
		return false, nil
	}

	handled, err := e.run(ctx, hc, next, key, holder)

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.settle)
	defer cancel()

	if err != nil || !handled {
		e.release(sctx, key, holder)
		return handled, err
	}

	ok, perr := e.lock.TryAcquirePermanently(sctx, key, holder)
	if perr != nil {
		return false, fmt.Errorf("queuemux: make lock %q permanent: %w", key, perr)
	}
	if !ok {
		e.logger.Warn("lock lost before it could be made permanent", "key", key)
	}
	return true, nil
}

// run calls next and releases the lock before re-raising a panic from it.
func (e *exactlyOnce) run(ctx context.Context, hc *core.HandleContext, next core.HandlerFunc, key, holder string) (bool, error) {
	defer func() {
		if r := recover(); r != nil {
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.settle)
			defer cancel()
			e.release(sctx, key, holder)
			panic(r)
		}
	}()
	return next(ctx, hc)
}

func (e *exactlyOnce) release(ctx context.Context, key, holder string) {
	if err := e.lock.Release(ctx, key, holder); err != nil {
		e.logger.Error("failed to release lock", "key", key, "error", err)
	}
}
