package mock

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miladsoleymani/queuemux/core"
)

// VisibilityChange records a ChangeVisibility call.
type VisibilityChange struct {
	Message core.RawMessage
	Delay   time.Duration
}

// Transport is a test double for core.Transport. Messages pushed into it are
// handed out in order; an empty receive waits briefly and returns nothing.
type Transport struct {
	QueueName string

	// ReceiveErr, when set, is returned by every ReceiveBatch call.
	ReceiveErr error

	// CloseWhenEmpty makes ReceiveBatch return core.ErrTransportClosed once
	// every pushed message was handed out.
	CloseWhenEmpty bool

	DeleteErr     error
	VisibilityErr error

	mu         sync.Mutex
	queued     []core.RawMessage
	deleted    []core.RawMessage
	visibility []VisibilityChange
	batchSizes []int
	calls      atomic.Int64
}

// NewTransport returns a transport named name holding msgs.
func NewTransport(name string, msgs ...core.RawMessage) *Transport {
	t := &Transport{QueueName: name}
	t.Push(msgs...)
	return t
}

// Messages builds n messages whose bodies are produced by body(i).
func Messages(n int, body func(i int) []byte) []core.RawMessage {
	out := make([]core.RawMessage, n)
	for i := range n {
		out[i] = core.RawMessage{
			ID:            "msg-" + strconv.Itoa(i),
			ReceiptHandle: "rh-" + strconv.Itoa(i),
			Body:          body(i),
			Attributes:    map[string]string{core.AttrReceiveCount: "1"},
		}
	}
	return out
}

// Push appends messages to the queue.
func (t *Transport) Push(msgs ...core.RawMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queued = append(t.queued, msgs...)
}

func (t *Transport) Name() string { return t.QueueName }
func (t *Transport) URI() string  { return "mock://" + t.QueueName }

func (t *Transport) ReceiveBatch(ctx context.Context, max int, _ []string) ([]core.RawMessage, error) {
	t.calls.Add(1)
	if t.ReceiveErr != nil {
		return nil, t.ReceiveErr
	}

	t.mu.Lock()
	t.batchSizes = append(t.batchSizes, max)
	n := min(max, len(t.queued))
	batch := append([]core.RawMessage(nil), t.queued[:n]...)
	t.queued = t.queued[n:]
	closed := t.CloseWhenEmpty && n == 0
	t.mu.Unlock()

	if closed {
		return nil, core.ErrTransportClosed
	}
	if n == 0 {
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Millisecond):
		}
	}
	return batch, nil
}

func (t *Transport) Delete(_ context.Context, msg core.RawMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.DeleteErr != nil {
		return t.DeleteErr
	}
	t.deleted = append(t.deleted, msg)
	return nil
}

func (t *Transport) ChangeVisibility(_ context.Context, msg core.RawMessage, d time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.VisibilityErr != nil {
		return t.VisibilityErr
	}
	t.visibility = append(t.visibility, VisibilityChange{Message: msg, Delay: d})
	return nil
}

// ReceiveCalls returns how many times ReceiveBatch was called.
func (t *Transport) ReceiveCalls() int64 { return t.calls.Load() }

// Pending returns the number of messages not yet handed out.
func (t *Transport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queued)
}

// Deleted returns all deleted messages.
func (t *Transport) Deleted() []core.RawMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]core.RawMessage(nil), t.deleted...)
}

// VisibilityChanges returns all ChangeVisibility calls.
func (t *Transport) VisibilityChanges() []VisibilityChange {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]VisibilityChange(nil), t.visibility...)
}

// BatchSizes returns the max argument of every ReceiveBatch call that got past
// ReceiveErr.
func (t *Transport) BatchSizes() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int(nil), t.batchSizes...)
}
