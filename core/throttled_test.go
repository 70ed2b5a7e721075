package core_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/queuemux/core"
	"github.com/miladsoleymani/queuemux/internal/mock"
)

// runThrottled starts messageCount dispatches that all hold their slot until
// capacity is reached, then releases them.
func runThrottled(t *testing.T, messageCount, capacity int) *mock.Monitor {
	t.Helper()
	mon := &mock.Monitor{}
	th := core.NewThrottled(capacity, mon)
	release := make(chan struct{})
	var running atomic.Int64
	var wg sync.WaitGroup

	for range messageCount {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := th.Do(context.Background(), func(context.Context) {
				running.Add(1)
				<-release
			})
			assert.NoError(t, err)
		}()
	}

	want := int64(min(messageCount, capacity))
	require.Eventually(t, func() bool { return running.Load() == want }, 5*time.Second, time.Millisecond)
	close(release)
	wg.Wait()
	assert.EqualValues(t, messageCount, running.Load())
	return mon
}

func TestThrottled_OverCapacityIsCounted(t *testing.T) {
	mon := runThrottled(t, 1000, 900)
	assert.GreaterOrEqual(t, mon.ThrottlingEvents.Load(), int64(1))
	assert.GreaterOrEqual(t, mon.ThrottleWaits.Load(), int64(1))
}

func TestThrottled_WithinCapacityIsNotCounted(t *testing.T) {
	mon := runThrottled(t, 900, 900)
	assert.Zero(t, mon.ThrottlingEvents.Load())
	assert.Zero(t, mon.ThrottleWaits.Load())
}

func TestThrottled_CancelledWait(t *testing.T) {
	th := core.NewThrottled(1, nil)
	release := make(chan struct{})
	go th.Do(context.Background(), func(context.Context) { <-release })
	defer close(release)

	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		defer cancel()
		ran := false
		err := th.Do(ctx, func(context.Context) { ran = true })
		return err != nil && !ran
	}, time.Second, time.Millisecond)
}

func TestThrottled_PanickingMonitor(t *testing.T) {
	th := core.NewThrottled(1, mock.PanickingMonitor{})
	release := make(chan struct{})
	held := make(chan struct{})
	go th.Do(context.Background(), func(context.Context) {
		close(held)
		<-release
	})
	<-held

	time.AfterFunc(10*time.Millisecond, func() { close(release) })
	ran := false
	require.NotPanics(t, func() {
		err := th.Do(context.Background(), func(context.Context) { ran = true })
		assert.NoError(t, err)
	})
	assert.True(t, ran)
}
