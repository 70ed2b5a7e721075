// Package memory provides an in-process queue with visibility timeouts and
// receive counts. Queues opened under the same name share their messages, so
// a producer and the bus can meet on one queue inside a single process.
package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miladsoleymani/queuemux/broker"
	"github.com/miladsoleymani/queuemux/core"
)

func init() {
	broker.Register("memory", func(cfg broker.Config) (core.Transport, error) {
		if cfg.Queue == "" {
			return nil, fmt.Errorf("queuemux/memory: queue name is required")
		}
		var opts []Option
		if cfg.VisibilityTimeout > 0 {
			opts = append(opts, WithVisibilityTimeout(cfg.VisibilityTimeout))
		}
		if n, ok := cfg.Int("max_batch"); ok {
			opts = append(opts, WithMaxBatch(n))
		}
		return Open(cfg.Queue, opts...), nil
	})
}

// ErrInvalidReceipt is returned when a receipt handle no longer names the
// latest receipt of its message.
var ErrInvalidReceipt = errors.New("queuemux/memory: receipt handle is no longer valid")

var (
	_ core.Transport  = (*Queue)(nil)
	_ core.BatchSizer = (*Queue)(nil)
)

var (
	registryMu sync.Mutex
	registry   = make(map[string]*Queue)
)

// Open returns the process-wide queue named name, creating it with fns on
// first use. Options are ignored for an existing queue.
func Open(name string, fns ...Option) *Queue {
	registryMu.Lock()
	defer registryMu.Unlock()
	if q, ok := registry[name]; ok && !q.isClosed() {
		return q
	}
	q := New(name, fns...)
	registry[name] = q
	return q
}

type entry struct {
	id           string
	body         []byte
	attrs        map[string]string
	sentAt       time.Time
	receiveCount int
	visibleAt    time.Time
	receipt      string
}

// Queue is an in-memory core.Transport.
type Queue struct {
	name string
	opts options

	mu      sync.Mutex
	entries []*entry
	wake    chan struct{}
	closed  bool
}

// New returns a standalone queue that is not shared through Open.
func New(name string, fns ...Option) *Queue {
	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}
	return &Queue{
		name: name,
		opts: opts,
		wake: make(chan struct{}),
	}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// URI returns memory://<name>.
func (q *Queue) URI() string { return "memory://" + q.name }

// MaxBatchSize implements core.BatchSizer.
func (q *Queue) MaxBatchSize() int { return q.opts.maxBatch }

// Send appends a message and returns its id.
func (q *Queue) Send(body []byte, attrs map[string]string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", core.ErrTransportClosed
	}
	e := &entry{
		id:     uuid.NewString(),
		body:   body,
		attrs:  maps.Clone(attrs),
		sentAt: time.Now(),
	}
	q.entries = append(q.entries, e)
	q.notifyLocked()
	return e.id, nil
}

// ReceiveBatch returns up to max visible messages and hides them for the
// visibility timeout. With nothing visible it waits for a send, a message
// becoming visible again, the wait time or ctx, whichever comes first.
func (q *Queue) ReceiveBatch(ctx context.Context, max int, _ []string) ([]core.RawMessage, error) {
	deadline := time.Now().Add(q.opts.waitTime)
	for {
		msgs, wake, next, err := q.take(max)
		if err != nil || len(msgs) > 0 {
			return msgs, err
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, nil
		}
		if !next.IsZero() {
			wait = min(wait, time.Until(next))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, nil
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// take receives up to max visible messages. It also returns the channel
// closed on the next change and the earliest time a hidden message becomes
// visible.
func (q *Queue) take(max int) ([]core.RawMessage, <-chan struct{}, time.Time, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, nil, time.Time{}, core.ErrTransportClosed
	}

	now := time.Now()
	var (
		msgs []core.RawMessage
		next time.Time
	)
	for _, e := range q.entries {
		if e.visibleAt.After(now) {
			if next.IsZero() || e.visibleAt.Before(next) {
				next = e.visibleAt
			}
			continue
		}
		if len(msgs) == max {
			break
		}
		e.receiveCount++
		e.visibleAt = now.Add(q.opts.visibilityTimeout)
		e.receipt = uuid.NewString()
		msgs = append(msgs, e.raw())
	}
	return msgs, q.wake, next, nil
}

func (e *entry) raw() core.RawMessage {
	attrs := make(map[string]string, len(e.attrs)+2)
	maps.Copy(attrs, e.attrs)
	attrs[core.AttrReceiveCount] = strconv.Itoa(e.receiveCount)
	attrs[core.AttrSentTimestamp] = strconv.FormatInt(e.sentAt.UnixMilli(), 10)
	return core.RawMessage{
		ID:            e.id,
		ReceiptHandle: e.receipt,
		Body:          e.body,
		Attributes:    attrs,
	}
}

// Delete removes msg if its receipt handle is still current.
func (q *Queue) Delete(_ context.Context, msg core.RawMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return core.ErrTransportClosed
	}
	for i, e := range q.entries {
		if e.id != msg.ID {
			continue
		}
		if e.receipt != msg.ReceiptHandle {
			return ErrInvalidReceipt
		}
		q.entries = append(q.entries[:i], q.entries[i+1:]...)
		return nil
	}
	return ErrInvalidReceipt
}

// ChangeVisibility hides msg for d from now. A zero d makes it visible
// immediately.
func (q *Queue) ChangeVisibility(_ context.Context, msg core.RawMessage, d time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return core.ErrTransportClosed
	}
	for _, e := range q.entries {
		if e.id != msg.ID {
			continue
		}
		if e.receipt != msg.ReceiptHandle {
			return ErrInvalidReceipt
		}
		e.visibleAt = time.Now().Add(d)
		q.notifyLocked()
		return nil
	}
	return ErrInvalidReceipt
}

// Len returns the number of messages in the queue, hidden ones included.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Close drops every message and wakes waiting receivers, which then report
// core.ErrTransportClosed.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	q.entries = nil
	close(q.wake)
	return nil
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue) notifyLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}
