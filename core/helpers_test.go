package core_test

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/queuemux/core"
	"github.com/miladsoleymani/queuemux/internal/mock"
)

type orderPlaced struct {
	ID string `json:"id"`
}

type orderCancelled struct {
	ID string `json:"id"`
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSerializer() *core.JSONSerializer {
	s := core.NewJSONSerializer()
	core.RegisterType[orderPlaced](s, "OrderPlaced")
	core.RegisterType[orderCancelled](s, "OrderCancelled")
	return s
}

func orderBody(t testing.TB, id string) []byte {
	t.Helper()
	b, err := core.MarshalJSONEnvelope("OrderPlaced", orderPlaced{ID: id}, map[string]string{"trace": "t-" + id})
	require.NoError(t, err)
	return b
}

func orderMessages(t testing.TB, n int) []core.RawMessage {
	t.Helper()
	return mock.Messages(n, func(i int) []byte { return orderBody(t, strconv.Itoa(i)) })
}

func routesFor(t testing.TB, queue, messageType string, h core.HandlerFunc) *core.MiddlewareMap {
	t.Helper()
	b := core.NewMiddlewareMapBuilder()
	b.Add(queue, messageType, func() core.HandlerFunc { return h })
	m, err := b.Build()
	require.NoError(t, err)
	return m
}

// recorder collects handled order ids.
type recorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *recorder) handler() core.HandlerFunc {
	return core.HandlerOf(func(_ context.Context, _ *core.HandleContext, o *orderPlaced) (bool, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.ids = append(r.ids, o.ID)
		return true, nil
	})
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

func (r *recorder) handled() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}
