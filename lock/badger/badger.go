// Package badger provides a core.MessageLock persisted in BadgerDB. It
// deduplicates across restarts of processes sharing one host directory.
package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/miladsoleymani/queuemux/core"
)

var _ core.MessageLock = (*Lock)(nil)

const (
	keyPrefix = "lock:"

	permanentValue = "done"

	conflictRetries = 3
)

// Config holds BadgerDB configuration.
type Config struct {
	// Dir is the directory for BadgerDB data. Ignored when InMemory is set.
	Dir string

	// InMemory keeps every lock in memory only.
	InMemory bool
}

// Lock implements core.MessageLock on BadgerDB. Time-bounded locks are
// entries with a TTL whose value is the holder token; permanent locks are
// entries without one.
type Lock struct {
	db     *badger.DB
	ownsDB bool
}

// Open opens a BadgerDB for locks.
func Open(cfg Config) (*Lock, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil
	opts.NumVersionsToKeep = 1

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("queuemux/badger: open: %w", err)
	}
	return &Lock{db: db, ownsDB: true}, nil
}

// New returns a lock stored in an existing database. Close leaves db open.
func New(db *badger.DB) *Lock {
	return &Lock{db: db}
}

// Close closes the database if the lock opened it.
func (l *Lock) Close() error {
	if !l.ownsDB {
		return nil
	}
	return l.db.Close()
}

func lockKey(key string) []byte {
	return []byte(keyPrefix + key)
}

func (l *Lock) TryAcquire(_ context.Context, key, holder string, ttl time.Duration) (core.LockResult, error) {
	k := lockKey(key)
	result := core.LockAcquired

	err := l.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		switch {
		case err == nil:
			if item.ExpiresAt() == 0 {
				result = core.LockHeldPermanently
			} else {
				result = core.LockHeldByOther
			}
			return nil
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return txn.SetEntry(badger.NewEntry(k, []byte(holder)).WithTTL(ttl))
	})
	if errors.Is(err, badger.ErrConflict) {
		// Another attempt wrote the key between our read and commit.
		return core.LockHeldByOther, nil
	}
	if err != nil {
		return core.LockHeldByOther, fmt.Errorf("queuemux/badger: acquire %q: %w", key, err)
	}
	return result, nil
}

// TryAcquirePermanently stores key without a TTL. It reports false when key
// already was permanent or is held by another holder.
func (l *Lock) TryAcquirePermanently(_ context.Context, key, holder string) (bool, error) {
	k := lockKey(key)
	var ok bool
	err := l.retry(func(txn *badger.Txn) error {
		ok = false
		item, err := txn.Get(k)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		case item.ExpiresAt() == 0:
			return nil
		default:
			mine, err := heldBy(item, holder)
			if err != nil || !mine {
				return err
			}
		}
		ok = true
		return txn.SetEntry(badger.NewEntry(k, []byte(permanentValue)))
	})
	if err != nil {
		return false, fmt.Errorf("queuemux/badger: make %q permanent: %w", key, err)
	}
	return ok, nil
}

// Release deletes holder's time-bounded lock. Permanent locks and locks of
// other holders are kept.
func (l *Lock) Release(_ context.Context, key, holder string) error {
	k := lockKey(key)
	err := l.retry(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if item.ExpiresAt() == 0 {
			return nil
		}
		mine, err := heldBy(item, holder)
		if err != nil || !mine {
			return err
		}
		return txn.Delete(k)
	})
	if err != nil {
		return fmt.Errorf("queuemux/badger: release %q: %w", key, err)
	}
	return nil
}

func heldBy(item *badger.Item, holder string) (bool, error) {
	v, err := item.ValueCopy(nil)
	if err != nil {
		return false, err
	}
	return string(v) == holder, nil
}

func (l *Lock) retry(fn func(txn *badger.Txn) error) error {
	var err error
	for range conflictRetries {
		err = l.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}
