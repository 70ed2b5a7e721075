// Package etcd provides a core.MessageLock shared by every process talking to
// the same etcd cluster. Time-bounded locks are keys attached to a lease with
// the lock TTL; permanent locks are the same keys rewritten without a lease.
package etcd

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/miladsoleymani/queuemux/core"
)

var _ core.MessageLock = (*Lock)(nil)

// DefaultPrefix is prepended to every lock key.
const DefaultPrefix = "/queuemux/locks/"

const permanentValue = "done"

// Option configures a Lock.
type Option func(*Lock)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(p string) Option {
	return func(l *Lock) { l.prefix = p }
}

// Lock implements core.MessageLock on etcd.
type Lock struct {
	kv     clientv3.KV
	lease  clientv3.Lease
	prefix string

	mu   sync.Mutex
	held map[string]clientv3.LeaseID // by heldKey
}

// New returns a lock using the KV and Lease APIs of c.
func New(c *clientv3.Client, fns ...Option) *Lock {
	return NewWithAPI(c.KV, c.Lease, fns...)
}

// NewWithAPI returns a lock on explicit KV and Lease implementations, such as
// namespaced wrappers.
func NewWithAPI(kv clientv3.KV, lease clientv3.Lease, fns ...Option) *Lock {
	l := &Lock{
		kv:     kv,
		lease:  lease,
		prefix: DefaultPrefix,
		held:   make(map[string]clientv3.LeaseID),
	}
	for _, fn := range fns {
		fn(l)
	}
	return l
}

// ttlSeconds rounds ttl up to whole seconds, the lease granularity.
func ttlSeconds(ttl time.Duration) int64 {
	s := int64(math.Ceil(ttl.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

func heldKey(key, holder string) string {
	return key + "\x00" + holder
}

func (l *Lock) TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (core.LockResult, error) {
	k := l.prefix + key
	grant, err := l.lease.Grant(ctx, ttlSeconds(ttl))
	if err != nil {
		return core.LockHeldByOther, fmt.Errorf("queuemux/etcd: grant lease: %w", err)
	}

	resp, err := l.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(k), "=", 0)).
		Then(clientv3.OpPut(k, holder, clientv3.WithLease(grant.ID))).
		Else(clientv3.OpGet(k)).
		Commit()
	if err != nil {
		l.revoke(ctx, grant.ID)
		return core.LockHeldByOther, fmt.Errorf("queuemux/etcd: acquire %q: %w", key, err)
	}

	if resp.Succeeded {
		l.mu.Lock()
		l.held[heldKey(key, holder)] = grant.ID
		l.mu.Unlock()
		return core.LockAcquired, nil
	}

	l.revoke(ctx, grant.ID)
	kvs := resp.Responses[0].GetResponseRange().GetKvs()
	if len(kvs) > 0 && clientv3.LeaseID(kvs[0].Lease) == clientv3.NoLease {
		return core.LockHeldPermanently, nil
	}
	return core.LockHeldByOther, nil
}

// TryAcquirePermanently rewrites the key without a lease. It succeeds when
// the key still carries holder or when the key is free, and reports false
// when the key is permanent already or held by someone else.
func (l *Lock) TryAcquirePermanently(ctx context.Context, key, holder string) (bool, error) {
	k := l.prefix + key
	hk := heldKey(key, holder)

	l.mu.Lock()
	lease, ok := l.held[hk]
	delete(l.held, hk)
	l.mu.Unlock()

	cmp := clientv3.Compare(clientv3.CreateRevision(k), "=", 0)
	if ok {
		cmp = clientv3.Compare(clientv3.Value(k), "=", holder)
	}
	resp, err := l.kv.Txn(ctx).
		If(cmp).
		Then(clientv3.OpPut(k, permanentValue)).
		Commit()
	if err != nil {
		return false, fmt.Errorf("queuemux/etcd: make %q permanent: %w", key, err)
	}
	if ok {
		// The key no longer references the lease.
		l.revoke(ctx, lease)
	}
	return resp.Succeeded, nil
}

// Release deletes the key if it still carries holder.
func (l *Lock) Release(ctx context.Context, key, holder string) error {
	k := l.prefix + key
	hk := heldKey(key, holder)

	l.mu.Lock()
	lease, ok := l.held[hk]
	delete(l.held, hk)
	l.mu.Unlock()
	if !ok {
		return nil
	}

	_, err := l.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.Value(k), "=", holder)).
		Then(clientv3.OpDelete(k)).
		Commit()
	l.revoke(ctx, lease)
	if err != nil {
		return fmt.Errorf("queuemux/etcd: release %q: %w", key, err)
	}
	return nil
}

func (l *Lock) revoke(ctx context.Context, id clientv3.LeaseID) {
	// Best effort: an unrevoked lease expires after the lock TTL anyway.
	_, _ = l.lease.Revoke(context.WithoutCancel(ctx), id)
}
