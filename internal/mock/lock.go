package mock

import (
	"context"
	"sync"
	"time"

	"github.com/miladsoleymani/queuemux/core"
)

// Lock is a scripted core.MessageLock. TryAcquire always reports Result.
type Lock struct {
	Result       core.LockResult
	AcquireErr   error
	PermanentErr error
	ReleaseErr   error

	mu        sync.Mutex
	acquired  []string
	permanent []string
	released  []string
	holders   []string
}

func (l *Lock) TryAcquire(_ context.Context, key, holder string, _ time.Duration) (core.LockResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquired = append(l.acquired, key)
	l.holders = append(l.holders, holder)
	return l.Result, l.AcquireErr
}

func (l *Lock) TryAcquirePermanently(_ context.Context, key, holder string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.holders = append(l.holders, holder)
	if l.PermanentErr != nil {
		return false, l.PermanentErr
	}
	l.permanent = append(l.permanent, key)
	return true, nil
}

func (l *Lock) Release(_ context.Context, key, holder string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.holders = append(l.holders, holder)
	l.released = append(l.released, key)
	return l.ReleaseErr
}

// Acquired returns the keys passed to TryAcquire.
func (l *Lock) Acquired() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.acquired...)
}

// Permanent returns the keys locked permanently.
func (l *Lock) Permanent() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.permanent...)
}

// Released returns the keys passed to Release.
func (l *Lock) Released() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.released...)
}

// Holders returns the holder tokens of every call, in call order.
func (l *Lock) Holders() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.holders...)
}
