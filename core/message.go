package core

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// QueueMessage is the handle to one received message while it travels
// through the pipeline. Exactly one QueueMessage exists per in-flight physical
// message; it is owned by a single dispatch attempt and never shared.
type QueueMessage struct {
	raw        RawMessage
	transport  Transport
	receivedAt time.Time
}

// NewQueueMessage wraps raw as received from t.
func NewQueueMessage(t Transport, raw RawMessage) *QueueMessage {
	return &QueueMessage{raw: raw, transport: t, receivedAt: time.Now()}
}

// QueueName returns the name of the queue the message was received from.
func (m *QueueMessage) QueueName() string { return m.transport.Name() }

// QueueURI returns the address of the queue the message was received from.
func (m *QueueMessage) QueueURI() string { return m.transport.URI() }

// ID returns the transport message ID.
func (m *QueueMessage) ID() string { return m.raw.ID }

// Body returns the raw payload.
func (m *QueueMessage) Body() []byte { return m.raw.Body }

// Raw returns the underlying transport message.
func (m *QueueMessage) Raw() RawMessage { return m.raw }

// ReceivedAt returns when the receive buffer took the message off the transport.
func (m *QueueMessage) ReceivedAt() time.Time { return m.receivedAt }

// Attribute returns a single transport attribute.
func (m *QueueMessage) Attribute(name string) (string, bool) {
	v, ok := m.raw.Attributes[name]
	return v, ok
}

// ReceiveCount returns the approximate receive count reported by the
// transport. A missing or malformed attribute counts as the first receipt.
func (m *QueueMessage) ReceiveCount() int {
	v, ok := m.raw.Attributes[AttrReceiveCount]
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// Delete removes the message from its queue.
func (m *QueueMessage) Delete(ctx context.Context) error {
	if err := m.transport.Delete(ctx, m.raw); err != nil {
		return fmt.Errorf("queuemux: delete %s from %q: %w", m.raw.ID, m.QueueName(), err)
	}
	return nil
}

// ChangeVisibility hides the message from other receivers for d.
func (m *QueueMessage) ChangeVisibility(ctx context.Context, d time.Duration) error {
	if err := m.transport.ChangeVisibility(ctx, m.raw, d); err != nil {
		return fmt.Errorf("queuemux: change visibility of %s on %q: %w", m.raw.ID, m.QueueName(), err)
	}
	return nil
}
