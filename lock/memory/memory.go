// Package memory provides an in-process core.MessageLock. It only
// deduplicates between workers of one process; use lock/etcd or lock/badger
// when several processes consume the same queues.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/miladsoleymani/queuemux/core"
)

var _ core.MessageLock = (*Lock)(nil)

type entry struct {
	holder    string
	expires   time.Time
	permanent bool
}

// Lock keeps lock records in a map. Expired records are swept lazily.
type Lock struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// New returns an empty lock.
func New() *Lock {
	return &Lock{entries: make(map[string]entry), now: time.Now}
}

func (l *Lock) TryAcquire(_ context.Context, key, holder string, ttl time.Duration) (core.LockResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.entries[key]; ok {
		if e.permanent {
			return core.LockHeldPermanently, nil
		}
		if now.Before(e.expires) {
			return core.LockHeldByOther, nil
		}
	}
	l.entries[key] = entry{holder: holder, expires: now.Add(ttl)}
	return core.LockAcquired, nil
}

// TryAcquirePermanently marks key as permanently locked when holder owns it
// or nobody does. It reports false when key already is permanent or belongs
// to another holder.
func (l *Lock) TryAcquirePermanently(_ context.Context, key, holder string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.entries[key]; ok {
		if e.permanent {
			return false, nil
		}
		if e.holder != holder && l.now().Before(e.expires) {
			return false, nil
		}
	}
	l.entries[key] = entry{holder: holder, permanent: true}
	return true, nil
}

// Release drops holder's time-bounded lock. Permanent locks and locks taken
// over by another holder are kept.
func (l *Lock) Release(_ context.Context, key, holder string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.entries[key]; ok && !e.permanent && e.holder == holder {
		delete(l.entries, key)
	}
	return nil
}

// Sweep removes expired time-bounded locks and returns how many it removed.
func (l *Lock) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	n := 0
	for k, e := range l.entries {
		if !e.permanent && !now.Before(e.expires) {
			delete(l.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of lock records, expired ones included.
func (l *Lock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
