package core

import (
	"context"
	"time"
)

// Well-known transport attribute names.
const (
	// AttrReceiveCount holds the approximate number of times the transport has
	// delivered a message, starting at 1.
	AttrReceiveCount = "ApproximateReceiveCount"

	// AttrSentTimestamp holds the time the message was sent, in milliseconds
	// since the epoch, when the transport knows it.
	AttrSentTimestamp = "SentTimestamp"
)

// DefaultMaxBatchSize caps a single receive call for transports that do not
// implement BatchSizer.
const DefaultMaxBatchSize = 10

// Transport is the contract a queue must satisfy to be consumed by the bus.
// Any broker offering batch receive, per-message delete and per-message
// visibility extension can be plugged in. Plugins live under plugins/.
type Transport interface {
	// Name returns the queue name.
	Name() string

	// URI returns the address of the queue.
	URI() string

	// ReceiveBatch returns at most max messages. It may return an empty slice
	// when no message arrived before ctx expired or the transport's own wait
	// elapsed. attributeNames lists the attributes the caller wants populated.
	ReceiveBatch(ctx context.Context, max int, attributeNames []string) ([]RawMessage, error)

	// Delete removes a processed message from the queue.
	Delete(ctx context.Context, msg RawMessage) error

	// ChangeVisibility hides msg from other receivers for d.
	ChangeVisibility(ctx context.Context, msg RawMessage, d time.Duration) error
}

// BatchSizer is implemented by transports that accept more (or fewer) than
// DefaultMaxBatchSize messages per receive call.
type BatchSizer interface {
	MaxBatchSize() int
}

// RawMessage is one message as handed over by a Transport.
type RawMessage struct {
	// ID uniquely identifies the physical message on its queue.
	ID string

	// ReceiptHandle identifies this particular receipt; transports use it to
	// delete or change visibility. Its meaning is transport specific.
	ReceiptHandle string

	// Body is the serialized payload.
	Body []byte

	// Attributes are transport-level attributes such as AttrReceiveCount.
	Attributes map[string]string

	// Native carries the transport's own message value, if it needs one to
	// settle the message later.
	Native any
}

func maxBatchSize(t Transport) int {
	if bs, ok := t.(BatchSizer); ok && bs.MaxBatchSize() > 0 {
		return bs.MaxBatchSize()
	}
	return DefaultMaxBatchSize
}
