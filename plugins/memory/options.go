package memory

import "time"

// Option configures a Queue.
type Option func(*options)

type options struct {
	visibilityTimeout time.Duration
	waitTime          time.Duration
	maxBatch          int
}

func defaults() options {
	return options{
		visibilityTimeout: 30 * time.Second,
		waitTime:          time.Second,
		maxBatch:          10,
	}
}

// WithVisibilityTimeout sets how long a received message stays hidden.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(o *options) { o.visibilityTimeout = d }
}

// WithWaitTime bounds how long an empty receive waits for a message.
func WithWaitTime(d time.Duration) Option {
	return func(o *options) { o.waitTime = d }
}

// WithMaxBatch sets how many messages a single receive may return.
func WithMaxBatch(n int) Option {
	return func(o *options) { o.maxBatch = n }
}
