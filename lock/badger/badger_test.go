package badger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/queuemux/core"
)

func setupLock(t *testing.T) *Lock {
	t.Helper()
	l, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLock_ThreeWayResult(t *testing.T) {
	ctx := context.Background()
	l := setupLock(t)

	res, err := l.TryAcquire(ctx, "msg-1:handler", "a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, core.LockAcquired, res)

	res, err = l.TryAcquire(ctx, "msg-1:handler", "b", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, core.LockHeldByOther, res)

	ok, err := l.TryAcquirePermanently(ctx, "msg-1:handler", "a")
	require.NoError(t, err)
	assert.True(t, ok)

	res, err = l.TryAcquire(ctx, "msg-1:handler", "c", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, core.LockHeldPermanently, res)

	ok, err = l.TryAcquirePermanently(ctx, "msg-1:handler", "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLock_Release(t *testing.T) {
	ctx := context.Background()
	l := setupLock(t)

	_, err := l.TryAcquire(ctx, "a", "h1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx, "a", "h1"))

	res, err := l.TryAcquire(ctx, "a", "h2", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, core.LockAcquired, res)

	_, err = l.TryAcquirePermanently(ctx, "b", "h1")
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx, "b", "h1"))
	res, err = l.TryAcquire(ctx, "b", "h2", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, core.LockHeldPermanently, res)

	assert.NoError(t, l.Release(ctx, "missing", "h1"))
}

func TestLock_OtherHolderKeepsLock(t *testing.T) {
	ctx := context.Background()
	l := setupLock(t)

	res, err := l.TryAcquire(ctx, "k", "b", time.Hour)
	require.NoError(t, err)
	require.Equal(t, core.LockAcquired, res)

	// A holder whose lock expired releases late.
	require.NoError(t, l.Release(ctx, "k", "a"))
	res, err = l.TryAcquire(ctx, "k", "c", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, core.LockHeldByOther, res)

	ok, err := l.TryAcquirePermanently(ctx, "k", "a")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.TryAcquirePermanently(ctx, "k", "b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLock_Expiry(t *testing.T) {
	ctx := context.Background()
	l := setupLock(t)

	res, err := l.TryAcquire(ctx, "k", "a", time.Second)
	require.NoError(t, err)
	require.Equal(t, core.LockAcquired, res)

	require.Eventually(t, func() bool {
		res, err := l.TryAcquire(ctx, "k", "b", time.Minute)
		return err == nil && res == core.LockAcquired
	}, 5*time.Second, 100*time.Millisecond)
}

func TestLock_ConcurrentAcquire(t *testing.T) {
	ctx := context.Background()
	l := setupLock(t)

	var acquired atomic.Int64
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.TryAcquire(ctx, "contended", uuid.NewString(), time.Minute)
			assert.NoError(t, err)
			if res == core.LockAcquired {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, acquired.Load())
}
