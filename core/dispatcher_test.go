package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/queuemux/core"
	"github.com/miladsoleymani/queuemux/internal/mock"
)

func newDispatcher(routes *core.MiddlewareMap, backoff core.BackoffStrategy, mon core.Monitor) *core.Dispatcher {
	return core.NewDispatcher(core.DispatcherConfig{
		Serializer: newSerializer(),
		Routes:     routes,
		Backoff:    backoff,
		Monitor:    mon,
		Logger:     discardLogger(),
	})
}

func rawOrder(t *testing.T, id string) core.RawMessage {
	return core.RawMessage{
		ID:            id,
		ReceiptHandle: "rh-" + id,
		Body:          orderBody(t, id),
		Attributes:    map[string]string{core.AttrReceiveCount: "1"},
	}
}

func TestDispatcher_HandledMessageIsDeleted(t *testing.T) {
	tr := mock.NewTransport("orders")
	rec := &recorder{}
	mon := &mock.Monitor{}
	d := newDispatcher(routesFor(t, "orders", "OrderPlaced", rec.handler()), nil, mon)

	d.Dispatch(context.Background(), core.NewQueueMessage(tr, rawOrder(t, "1")))

	assert.Equal(t, []string{"1"}, rec.handled())
	require.Len(t, tr.Deleted(), 1)
	assert.Equal(t, "1", tr.Deleted()[0].ID)
	assert.Empty(t, tr.VisibilityChanges())
	assert.EqualValues(t, 1, mon.HandleTimes.Load())
	assert.Zero(t, mon.Exceptions.Load())
}

func TestDispatcher_HandleContext(t *testing.T) {
	tr := mock.NewTransport("orders")
	var got *core.HandleContext
	h := func(_ context.Context, hc *core.HandleContext) (bool, error) {
		got = hc
		return true, nil
	}
	d := newDispatcher(routesFor(t, "orders", "OrderPlaced", h), nil, nil)

	raw := rawOrder(t, "7")
	raw.Attributes[core.AttrReceiveCount] = "3"
	d.Dispatch(context.Background(), core.NewQueueMessage(tr, raw))

	require.NotNil(t, got)
	assert.Equal(t, "orders", got.QueueName())
	assert.Equal(t, "mock://orders", got.QueueURI())
	assert.Equal(t, "OrderPlaced", got.MessageType())
	assert.Equal(t, "7", got.MessageID())
	assert.Equal(t, 3, got.ReceiveCount())
	assert.Equal(t, "t-7", got.Attributes().String("trace"))
	assert.Equal(t, &orderPlaced{ID: "7"}, got.Message())
}

func TestDispatcher_UnsupportedFormatIsDeleted(t *testing.T) {
	tr := mock.NewTransport("orders")
	mon := &mock.Monitor{}
	called := false
	h := func(context.Context, *core.HandleContext) (bool, error) {
		called = true
		return true, nil
	}
	d := newDispatcher(routesFor(t, "orders", "OrderPlaced", h), nil, mon)

	d.Dispatch(context.Background(), core.NewQueueMessage(tr, core.RawMessage{ID: "x", Body: []byte("not json")}))

	assert.False(t, called)
	assert.Len(t, tr.Deleted(), 1)
	require.Len(t, mon.Errors(), 1)
	assert.ErrorIs(t, mon.Errors()[0], core.ErrUnsupportedFormat)
}

func TestDispatcher_UnknownTypeIsDeleted(t *testing.T) {
	tr := mock.NewTransport("orders")
	mon := &mock.Monitor{}
	d := newDispatcher(routesFor(t, "orders", "OrderPlaced", (&recorder{}).handler()), nil, mon)

	body, err := core.MarshalJSONEnvelope("Refund", struct{}{}, nil)
	require.NoError(t, err)
	d.Dispatch(context.Background(), core.NewQueueMessage(tr, core.RawMessage{ID: "x", Body: body}))

	assert.Len(t, tr.Deleted(), 1)
	require.Len(t, mon.Errors(), 1)
	assert.ErrorIs(t, mon.Errors()[0], core.ErrUnsupportedFormat)
}

func TestDispatcher_DecodeFailureIsLeftInPlace(t *testing.T) {
	tr := mock.NewTransport("orders")
	mon := &mock.Monitor{}
	d := newDispatcher(routesFor(t, "orders", "OrderPlaced", (&recorder{}).handler()), nil, mon)

	body := []byte(`{"type":"OrderPlaced","message":"not an object"}`)
	d.Dispatch(context.Background(), core.NewQueueMessage(tr, core.RawMessage{ID: "x", Body: body}))

	assert.Empty(t, tr.Deleted())
	assert.Empty(t, tr.VisibilityChanges())
	require.Len(t, mon.Errors(), 1)
	assert.NotErrorIs(t, mon.Errors()[0], core.ErrUnsupportedFormat)
}

func TestDispatcher_NoHandlerIsDeleted(t *testing.T) {
	tr := mock.NewTransport("orders")
	mon := &mock.Monitor{}
	d := newDispatcher(routesFor(t, "orders", "OrderCancelled", (&recorder{}).handler()), nil, mon)

	d.Dispatch(context.Background(), core.NewQueueMessage(tr, rawOrder(t, "1")))

	assert.Len(t, tr.Deleted(), 1)
	assert.Empty(t, mon.Errors())
	assert.Zero(t, mon.Exceptions.Load())
}

func TestDispatcher_PatternRoute(t *testing.T) {
	tr := mock.NewTransport("orders.eu")
	rec := &recorder{}
	d := newDispatcher(routesFor(t, "orders.*", "OrderPlaced", rec.handler()), nil, nil)

	d.Dispatch(context.Background(), core.NewQueueMessage(tr, rawOrder(t, "1")))

	assert.Equal(t, []string{"1"}, rec.handled())
}

func TestDispatcher_Backoff(t *testing.T) {
	const delay = 42 * time.Second
	boom := errors.New("boom")

	tests := []struct {
		name    string
		handler core.HandlerFunc
		wantErr bool
	}{
		{
			name: "not handled",
			handler: func(context.Context, *core.HandleContext) (bool, error) {
				return false, nil
			},
		},
		{
			name: "error",
			handler: func(context.Context, *core.HandleContext) (bool, error) {
				return false, boom
			},
			wantErr: true,
		},
		{
			name: "handled with error",
			handler: func(context.Context, *core.HandleContext) (bool, error) {
				return true, boom
			},
			wantErr: true,
		},
		{
			name: "panic",
			handler: func(context.Context, *core.HandleContext) (bool, error) {
				panic("kaboom")
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := mock.NewTransport("orders")
			mon := &mock.Monitor{}
			var gotCount int
			var gotMsg any
			var gotErr error
			backoff := core.BackoffFunc(func(msg any, receiveCount int, err error) time.Duration {
				gotMsg, gotCount, gotErr = msg, receiveCount, err
				return delay
			})
			d := newDispatcher(routesFor(t, "orders", "OrderPlaced", tt.handler), backoff, mon)

			d.Dispatch(context.Background(), core.NewQueueMessage(tr, rawOrder(t, "1")))

			assert.Empty(t, tr.Deleted())
			require.Len(t, tr.VisibilityChanges(), 1)
			assert.Equal(t, delay, tr.VisibilityChanges()[0].Delay)
			assert.Equal(t, 1, gotCount)
			assert.Equal(t, &orderPlaced{ID: "1"}, gotMsg)
			assert.Equal(t, tt.wantErr, gotErr != nil)
			assert.EqualValues(t, 1, mon.Exceptions.Load())
			assert.EqualValues(t, 1, mon.HandleTimes.Load())
		})
	}
}

func TestDispatcher_NegativeBackoffSkipsVisibility(t *testing.T) {
	tr := mock.NewTransport("orders")
	h := func(context.Context, *core.HandleContext) (bool, error) { return false, nil }
	backoff := core.BackoffFunc(func(any, int, error) time.Duration { return -1 })
	d := newDispatcher(routesFor(t, "orders", "OrderPlaced", h), backoff, nil)

	d.Dispatch(context.Background(), core.NewQueueMessage(tr, rawOrder(t, "1")))

	assert.Empty(t, tr.Deleted())
	assert.Empty(t, tr.VisibilityChanges())
}

func TestDispatcher_VisibilityFailureIsReported(t *testing.T) {
	tr := mock.NewTransport("orders")
	tr.VisibilityErr = errors.New("visibility refused")
	mon := &mock.Monitor{}
	h := func(context.Context, *core.HandleContext) (bool, error) { return false, nil }
	backoff := core.BackoffFunc(func(any, int, error) time.Duration { return time.Second })
	d := newDispatcher(routesFor(t, "orders", "OrderPlaced", h), backoff, mon)

	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), core.NewQueueMessage(tr, rawOrder(t, "1")))
	})
	require.Len(t, mon.Errors(), 1)
	assert.ErrorIs(t, mon.Errors()[0], tr.VisibilityErr)
}

func TestDispatcher_DeleteFailureIsReported(t *testing.T) {
	tr := mock.NewTransport("orders")
	tr.DeleteErr = errors.New("delete refused")
	mon := &mock.Monitor{}
	d := newDispatcher(routesFor(t, "orders", "OrderPlaced", (&recorder{}).handler()), nil, mon)

	d.Dispatch(context.Background(), core.NewQueueMessage(tr, rawOrder(t, "1")))

	require.Len(t, mon.Errors(), 1)
	assert.ErrorIs(t, mon.Errors()[0], tr.DeleteErr)
}

func TestDispatcher_PanickingMonitorIsIsolated(t *testing.T) {
	tr := mock.NewTransport("orders")
	rec := &recorder{}
	d := newDispatcher(routesFor(t, "orders", "OrderPlaced", rec.handler()), nil, mock.PanickingMonitor{})

	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), core.NewQueueMessage(tr, rawOrder(t, "1")))
		d.Dispatch(context.Background(), core.NewQueueMessage(tr, core.RawMessage{ID: "bad", Body: []byte("{")}))
	})
	assert.Equal(t, 1, rec.count())
	assert.Len(t, tr.Deleted(), 2)
}

func TestDispatcher_SettlesAfterCancellation(t *testing.T) {
	tr := mock.NewTransport("orders")
	ctx, cancel := context.WithCancel(context.Background())
	h := func(context.Context, *core.HandleContext) (bool, error) {
		cancel()
		return true, nil
	}
	d := newDispatcher(routesFor(t, "orders", "OrderPlaced", h), nil, nil)

	d.Dispatch(ctx, core.NewQueueMessage(tr, rawOrder(t, "1")))

	assert.Len(t, tr.Deleted(), 1)
}

func TestDispatcher_HandlerOfTypeMismatch(t *testing.T) {
	tr := mock.NewTransport("orders")
	var gotErr error
	backoff := core.BackoffFunc(func(_ any, _ int, err error) time.Duration {
		gotErr = err
		return time.Second
	})
	h := core.HandlerOf(func(context.Context, *core.HandleContext, *orderCancelled) (bool, error) {
		return true, nil
	})
	d := newDispatcher(routesFor(t, "orders", "OrderPlaced", h), backoff, nil)

	d.Dispatch(context.Background(), core.NewQueueMessage(tr, rawOrder(t, "1")))

	assert.ErrorIs(t, gotErr, core.ErrUnexpectedMessage)
	assert.Empty(t, tr.Deleted())
}
