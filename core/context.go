package core

import (
	"context"
	"time"
)

// HandleContext is the typed view of a message after it was decoded. It is
// passed explicitly to every middleware and handler for one call and is never
// modified after construction.
type HandleContext struct {
	queueName   string
	queueURI    string
	messageType string
	message     any
	attributes  MessageAttributes
	qm          *QueueMessage
}

// NewHandleContext builds the context for one decoded message.
func NewHandleContext(qm *QueueMessage, env Envelope) *HandleContext {
	return &HandleContext{
		queueName:   qm.QueueName(),
		queueURI:    qm.QueueURI(),
		messageType: env.Type,
		message:     env.Message,
		attributes:  env.Attributes,
		qm:          qm,
	}
}

// QueueName returns the queue the message was received from.
func (c *HandleContext) QueueName() string { return c.queueName }

// QueueURI returns the address of the queue the message was received from.
func (c *HandleContext) QueueURI() string { return c.queueURI }

// MessageType returns the type tag the message was decoded as.
func (c *HandleContext) MessageType() string { return c.messageType }

// Message returns the decoded message value.
func (c *HandleContext) Message() any { return c.message }

// Attributes returns the message attributes.
func (c *HandleContext) Attributes() MessageAttributes { return c.attributes }

// MessageID returns the transport message ID.
func (c *HandleContext) MessageID() string { return c.qm.ID() }

// ReceiveCount returns the approximate number of deliveries so far.
func (c *HandleContext) ReceiveCount() int { return c.qm.ReceiveCount() }

// Delete removes the message from its queue ahead of the dispatcher.
func (c *HandleContext) Delete(ctx context.Context) error { return c.qm.Delete(ctx) }

// ChangeVisibility hides the message from other receivers for d.
func (c *HandleContext) ChangeVisibility(ctx context.Context, d time.Duration) error {
	return c.qm.ChangeVisibility(ctx, d)
}

// HandlerFunc processes one message. It reports true when the message was
// handled and may be deleted. Returning false or an error leaves the message
// on the queue.
//
//	bus.Handle("orders", "OrderPlaced", func(ctx context.Context, hc *core.HandleContext) (bool, error) {
//	    order := hc.Message().(*OrderPlaced)
//	    // process order...
//	    return true, nil
//	})
type HandlerFunc func(ctx context.Context, hc *HandleContext) (bool, error)

// MiddlewareFunc wraps a HandlerFunc to add cross-cutting behavior.
//
//	func MyMiddleware() core.MiddlewareFunc {
//	    return func(next core.HandlerFunc) core.HandlerFunc {
//	        return func(ctx context.Context, hc *core.HandleContext) (bool, error) {
//	            // before
//	            ok, err := next(ctx, hc)
//	            // after
//	            return ok, err
//	        }
//	    }
//	}
type MiddlewareFunc func(next HandlerFunc) HandlerFunc

// HandlerOf adapts a function taking a concrete message type to a
// HandlerFunc. The decoded message must be exactly T.
func HandlerOf[T any](fn func(ctx context.Context, hc *HandleContext, msg T) (bool, error)) HandlerFunc {
	return func(ctx context.Context, hc *HandleContext) (bool, error) {
		msg, ok := hc.Message().(T)
		if !ok {
			return false, ErrUnexpectedMessage
		}
		return fn(ctx, hc, msg)
	}
}
