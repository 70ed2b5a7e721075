package core

import (
	"context"
	"time"
)

// LockResult is the outcome of a lock acquisition attempt.
type LockResult int

const (
	// LockAcquired means the caller now holds the lock until it expires,
	// is released, or is made permanent.
	LockAcquired LockResult = iota

	// LockHeldByOther means another holder currently owns a lock that will
	// expire.
	LockHeldByOther

	// LockHeldPermanently means a previous attempt completed and made the lock
	// permanent.
	LockHeldPermanently
)

func (r LockResult) String() string {
	switch r {
	case LockAcquired:
		return "acquired"
	case LockHeldByOther:
		return "held-by-other"
	case LockHeldPermanently:
		return "held-permanently"
	default:
		return "unknown"
	}
}

// MessageLock is a distributed, TTL-based lock shared by every process
// consuming the same queues. Each acquisition attempt names itself with a
// holder token; only the current holder may release a lock or make it
// permanent. Providers live under lock/.
type MessageLock interface {
	// TryAcquire attempts to take key exclusively for ttl on behalf of
	// holder.
	TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (LockResult, error)

	// TryAcquirePermanently converts holder's lock on key into a permanent
	// one. It reports false if key is permanent already or another holder
	// owns it.
	TryAcquirePermanently(ctx context.Context, key, holder string) (bool, error)

	// Release drops holder's lock on key. Locks owned by another holder and
	// permanent locks are left alone.
	Release(ctx context.Context, key, holder string) error
}
