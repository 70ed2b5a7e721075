package middleware_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/miladsoleymani/queuemux/core"
	"github.com/miladsoleymani/queuemux/core/middleware"
	"github.com/miladsoleymani/queuemux/internal/mock"
	"github.com/miladsoleymani/queuemux/lock/memory"
)

type payment struct{ Ref string }

func (p *payment) UniqueKey() string { return "pay-" + p.Ref }

func handleContext(t *testing.T, id string, msg any) *core.HandleContext {
	t.Helper()
	tr := mock.NewTransport("payments")
	raw := core.RawMessage{ID: id, Attributes: map[string]string{core.AttrReceiveCount: "1"}}
	return core.NewHandleContext(core.NewQueueMessage(tr, raw), core.Envelope{Type: "Payment", Message: msg})
}

func ok(context.Context, *core.HandleContext) (bool, error)      { return true, nil }
func notOK(context.Context, *core.HandleContext) (bool, error)   { return false, nil }
func failing(context.Context, *core.HandleContext) (bool, error) { return false, errors.New("boom") }

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func TestLogging(t *testing.T) {
	logger, buf := bufferLogger()
	handled, err := middleware.Logging(logger)(ok)(context.Background(), handleContext(t, "m-1", nil))
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Contains(t, buf.String(), "message handled")
	assert.Contains(t, buf.String(), "m-1")
	assert.Contains(t, buf.String(), "queue=payments")
}

func TestLogging_Error(t *testing.T) {
	logger, buf := bufferLogger()
	_, err := middleware.Logging(logger)(failing)(context.Background(), handleContext(t, "m-1", nil))
	require.Error(t, err)
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "boom")
}

func TestLogging_NotHandled(t *testing.T) {
	logger, buf := bufferLogger()
	handled, err := middleware.Logging(logger)(notOK)(context.Background(), handleContext(t, "m-1", nil))
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Contains(t, buf.String(), "level=WARN")
}

func TestRecovery(t *testing.T) {
	logger, buf := bufferLogger()
	h := middleware.Recovery(logger)(func(context.Context, *core.HandleContext) (bool, error) {
		panic("test panic")
	})

	handled, err := h(context.Background(), handleContext(t, "m-1", nil))
	require.Error(t, err)
	assert.False(t, handled)
	assert.True(t, strings.Contains(err.Error(), "panic recovered"), err.Error())
	assert.Contains(t, buf.String(), "test panic")
}

func TestRecovery_NoPanic(t *testing.T) {
	logger, buf := bufferLogger()
	handled, err := middleware.Recovery(logger)(ok)(context.Background(), handleContext(t, "m-1", nil))
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Empty(t, buf.String())
}

type collector struct {
	mu    sync.Mutex
	calls []string
}

func (c *collector) MessageProcessed(queue, messageType string, _ time.Duration, handled bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	outcome := "ok"
	if !handled || err != nil {
		outcome = "fail"
	}
	c.calls = append(c.calls, queue+"/"+messageType+"/"+outcome)
}

func TestMetrics(t *testing.T) {
	c := &collector{}
	mw := middleware.Metrics(c)
	_, _ = mw(ok)(context.Background(), handleContext(t, "1", nil))
	_, _ = mw(failing)(context.Background(), handleContext(t, "2", nil))
	assert.Equal(t, []string{"payments/Payment/ok", "payments/Payment/fail"}, c.calls)
}

func TestMetrics_MonitorCollector(t *testing.T) {
	mon := &mock.Monitor{}
	mw := middleware.Metrics(middleware.MonitorCollector(mon))
	_, _ = mw(ok)(context.Background(), handleContext(t, "1", nil))
	_, _ = mw(notOK)(context.Background(), handleContext(t, "2", nil))
	assert.EqualValues(t, 2, mon.HandleTimes.Load())
	assert.EqualValues(t, 1, mon.Exceptions.Load())
}

func TestExactlyOnce_AlreadyHandled(t *testing.T) {
	lock := &mock.Lock{Result: core.LockHeldPermanently}
	called := false
	h := middleware.ExactlyOnce(lock, "charge", time.Minute)(func(context.Context, *core.HandleContext) (bool, error) {
		called = true
		return true, nil
	})

	handled, err := h(context.Background(), handleContext(t, "m-1", nil))
	require.NoError(t, err)
	assert.True(t, handled, "permanently locked message must be reported handled")
	assert.False(t, called)
	assert.Empty(t, lock.Released())
	assert.Empty(t, lock.Permanent())
}

func TestExactlyOnce_AlreadyHandledMessageIsDeleted(t *testing.T) {
	tr := mock.NewTransport("payments")
	body, err := core.MarshalJSONEnvelope("Payment", payment{Ref: "1"}, nil)
	require.NoError(t, err)

	ser := core.NewJSONSerializer()
	core.RegisterType[payment](ser, "Payment")

	called := false
	b := core.NewMiddlewareMapBuilder()
	b.Add("payments", "Payment", func() core.HandlerFunc {
		return core.Chain(func(context.Context, *core.HandleContext) (bool, error) {
			called = true
			return true, nil
		}, middleware.ExactlyOnce(&mock.Lock{Result: core.LockHeldPermanently}, "charge", time.Minute))
	})
	routes, err := b.Build()
	require.NoError(t, err)

	d := core.NewDispatcher(core.DispatcherConfig{Serializer: ser, Routes: routes, Logger: slog.New(slog.DiscardHandler)})
	d.Dispatch(context.Background(), core.NewQueueMessage(tr, core.RawMessage{ID: "m-1", Body: body}))

	assert.False(t, called)
	assert.Len(t, tr.Deleted(), 1)
}

func TestExactlyOnce_HeldByOther(t *testing.T) {
	lock := &mock.Lock{Result: core.LockHeldByOther}
	handled, err := middleware.ExactlyOnce(lock, "charge", time.Minute)(ok)(context.Background(), handleContext(t, "m-1", nil))
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Empty(t, lock.Released())
}

func TestExactlyOnce_Success(t *testing.T) {
	lock := &mock.Lock{Result: core.LockAcquired}
	handled, err := middleware.ExactlyOnce(lock, "charge", time.Minute)(ok)(context.Background(), handleContext(t, "m-1", nil))
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, []string{"queuemux:m-1:charge"}, lock.Acquired())
	assert.Equal(t, []string{"queuemux:m-1:charge"}, lock.Permanent())
	assert.Empty(t, lock.Released())
}

func TestExactlyOnce_FailureReleases(t *testing.T) {
	lock := &mock.Lock{Result: core.LockAcquired}
	mw := middleware.ExactlyOnce(lock, "charge", time.Minute)

	_, err := mw(failing)(context.Background(), handleContext(t, "m-1", nil))
	require.Error(t, err)
	handled, err := mw(notOK)(context.Background(), handleContext(t, "m-2", nil))
	require.NoError(t, err)
	assert.False(t, handled)

	assert.Equal(t, []string{"queuemux:m-1:charge", "queuemux:m-2:charge"}, lock.Released())
	assert.Empty(t, lock.Permanent())
}

func TestExactlyOnce_PanicReleases(t *testing.T) {
	lock := &mock.Lock{Result: core.LockAcquired}
	h := middleware.ExactlyOnce(lock, "charge", time.Minute)(func(context.Context, *core.HandleContext) (bool, error) {
		panic("card declined")
	})

	assert.PanicsWithValue(t, "card declined", func() {
		_, _ = h(context.Background(), handleContext(t, "m-1", nil))
	})
	assert.Equal(t, []string{"queuemux:m-1:charge"}, lock.Released())
	assert.Empty(t, lock.Permanent())
}

func TestExactlyOnce_PanickedMessageIsRedelivered(t *testing.T) {
	tr := mock.NewTransport("payments")
	body, err := core.MarshalJSONEnvelope("Payment", payment{Ref: "1"}, nil)
	require.NoError(t, err)

	ser := core.NewJSONSerializer()
	core.RegisterType[payment](ser, "Payment")

	lock := memory.New()
	var calls atomic.Int64
	b := core.NewMiddlewareMapBuilder()
	b.Add("payments", "Payment", func() core.HandlerFunc {
		return core.Chain(func(context.Context, *core.HandleContext) (bool, error) {
			if calls.Add(1) == 1 {
				panic("first attempt")
			}
			return true, nil
		}, middleware.ExactlyOnce(lock, "charge", time.Hour))
	})
	routes, err := b.Build()
	require.NoError(t, err)

	d := core.NewDispatcher(core.DispatcherConfig{Serializer: ser, Routes: routes, Logger: slog.New(slog.DiscardHandler)})
	raw := core.RawMessage{ID: "m-1", Body: body}
	d.Dispatch(context.Background(), core.NewQueueMessage(tr, raw))
	require.Empty(t, tr.Deleted())

	d.Dispatch(context.Background(), core.NewQueueMessage(tr, raw))
	assert.EqualValues(t, 2, calls.Load())
	assert.Len(t, tr.Deleted(), 1)

	res, err := lock.TryAcquire(context.Background(), "queuemux:m-1:charge", "other", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, core.LockHeldPermanently, res)
}

func TestExactlyOnce_HolderPerAttempt(t *testing.T) {
	lock := &mock.Lock{Result: core.LockAcquired}
	mw := middleware.ExactlyOnce(lock, "charge", time.Minute)

	_, err := mw(ok)(context.Background(), handleContext(t, "m-1", nil))
	require.NoError(t, err)
	_, err = mw(notOK)(context.Background(), handleContext(t, "m-1", nil))
	require.NoError(t, err)

	holders := lock.Holders()
	require.Len(t, holders, 4)
	assert.Equal(t, holders[0], holders[1], "acquire and make-permanent share a token")
	assert.Equal(t, holders[2], holders[3], "acquire and release share a token")
	assert.NotEqual(t, holders[0], holders[2])
	assert.NotEmpty(t, holders[0])
}

func TestExactlyOnce_KeyedMessage(t *testing.T) {
	lock := &mock.Lock{Result: core.LockAcquired}
	mw := middleware.ExactlyOnce(lock, "charge", time.Minute, middleware.WithLockPrefix("app"))
	_, err := mw(ok)(context.Background(), handleContext(t, "m-1", &payment{Ref: "42"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"app:pay-42:charge"}, lock.Acquired())
}

func TestExactlyOnce_LockErrors(t *testing.T) {
	acquireErr := errors.New("lock down")
	lock := &mock.Lock{AcquireErr: acquireErr}
	called := false
	h := middleware.ExactlyOnce(lock, "charge", time.Minute)(func(context.Context, *core.HandleContext) (bool, error) {
		called = true
		return true, nil
	})
	_, err := h(context.Background(), handleContext(t, "m-1", nil))
	assert.ErrorIs(t, err, acquireErr)
	assert.False(t, called)

	permErr := errors.New("cannot persist")
	lock = &mock.Lock{Result: core.LockAcquired, PermanentErr: permErr}
	handled, err := middleware.ExactlyOnce(lock, "charge", time.Minute)(ok)(context.Background(), handleContext(t, "m-1", nil))
	assert.ErrorIs(t, err, permErr)
	assert.False(t, handled)
}

func TestExactlyOnce_ConcurrentAttempts(t *testing.T) {
	const workers = 16
	lock := memory.New()
	var runs atomic.Int64
	start := make(chan struct{})

	h := middleware.ExactlyOnce(lock, "charge", time.Minute)(func(context.Context, *core.HandleContext) (bool, error) {
		runs.Add(1)
		time.Sleep(10 * time.Millisecond)
		return true, nil
	})

	var handledCount, untouched atomic.Int64
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			handled, err := h(context.Background(), handleContext(t, "same-message", nil))
			assert.NoError(t, err)
			if handled {
				handledCount.Add(1)
			} else {
				untouched.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, runs.Load())
	assert.EqualValues(t, workers, handledCount.Load()+untouched.Load())
	assert.GreaterOrEqual(t, handledCount.Load(), int64(1))

	// A redelivery after completion is a no-op success.
	handled, err := h(context.Background(), handleContext(t, "same-message", nil))
	require.NoError(t, err)
	assert.True(t, handled)
	assert.EqualValues(t, 1, runs.Load())
}

type fakeLimiter struct {
	waits atomic.Int64
	err   error
}

func (l *fakeLimiter) Wait(context.Context) error {
	l.waits.Add(1)
	return l.err
}

func TestThrottle(t *testing.T) {
	lim := &fakeLimiter{}
	mon := &mock.Monitor{}
	handled, err := middleware.Throttle(lim, mon)(ok)(context.Background(), handleContext(t, "1", nil))
	require.NoError(t, err)
	assert.True(t, handled)
	assert.EqualValues(t, 1, lim.waits.Load())
	assert.EqualValues(t, 1, mon.ThrottleWaits.Load())

	lim.err = context.Canceled
	called := false
	_, err = middleware.Throttle(lim, nil)(func(context.Context, *core.HandleContext) (bool, error) {
		called = true
		return true, nil
	})(context.Background(), handleContext(t, "2", nil))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestTimeout(t *testing.T) {
	h := middleware.Timeout(10 * time.Millisecond)(func(ctx context.Context, _ *core.HandleContext) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	})
	_, err := h(context.Background(), handleContext(t, "1", nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCircuitBreaker(t *testing.T) {
	calls := 0
	h := middleware.CircuitBreaker("charge", middleware.BreakerSettings{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
		Logger:           slog.New(slog.DiscardHandler),
	})(func(context.Context, *core.HandleContext) (bool, error) {
		calls++
		return false, nil
	})

	for range 2 {
		handled, err := h(context.Background(), handleContext(t, "1", nil))
		assert.NoError(t, err)
		assert.False(t, handled)
	}

	handled, err := h(context.Background(), handleContext(t, "1", nil))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.False(t, handled)
	assert.Equal(t, 2, calls)
}

func TestCircuitBreaker_PassThrough(t *testing.T) {
	h := middleware.CircuitBreaker("charge", middleware.BreakerSettings{})(ok)
	handled, err := h(context.Background(), handleContext(t, "1", nil))
	require.NoError(t, err)
	assert.True(t, handled)
}

func TestTracing(t *testing.T) {
	var inner trace.Span
	h := middleware.Tracing(noop.NewTracerProvider().Tracer("test"))(func(ctx context.Context, _ *core.HandleContext) (bool, error) {
		inner = trace.SpanFromContext(ctx)
		return true, nil
	})
	handled, err := h(context.Background(), handleContext(t, "1", nil))
	require.NoError(t, err)
	assert.True(t, handled)
	assert.NotNil(t, inner)

	_, err = middleware.Tracing(nil)(failing)(context.Background(), handleContext(t, "2", nil))
	assert.Error(t, err)
}
