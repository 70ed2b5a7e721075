package core

import "errors"

var (
	// ErrTransportClosed is returned by a Transport that will never deliver
	// another message. A receive buffer treats it as end-of-stream.
	ErrTransportClosed = errors.New("queuemux: transport is closed")

	// ErrUnsupportedFormat is returned by a Serializer when no decoder is
	// registered for a message body. Such messages can never succeed and are
	// deleted.
	ErrUnsupportedFormat = errors.New("queuemux: unsupported message format")

	// ErrAlreadyStarted is returned when Run is called on a running bus.
	ErrAlreadyStarted = errors.New("queuemux: bus already started")

	// ErrNoQueues is returned when a bus or consumer group is run without any
	// queue to consume from.
	ErrNoQueues = errors.New("queuemux: no queues registered")

	// ErrNoTransport is returned when a queue is registered with a nil transport.
	ErrNoTransport = errors.New("queuemux: transport is nil")

	// ErrUnexpectedMessage is returned by typed handlers when the decoded
	// message is not of the type they were registered for.
	ErrUnexpectedMessage = errors.New("queuemux: unexpected message type")
)
