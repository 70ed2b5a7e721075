package nats

import (
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Option configures the NATS transport.
type Option func(*options)

type options struct {
	// Stream
	maxMsgs   int64
	maxBytes  int64
	maxAge    time.Duration
	replicas  int
	retention jetstream.RetentionPolicy
	storage   jetstream.StorageType

	// Consumer
	ackWait    time.Duration
	maxDeliver int
	filterSubj string

	// Receive
	maxBatch  int
	fetchWait time.Duration
}

func defaults() options {
	return options{
		maxMsgs:    -1, // unlimited
		maxBytes:   -1,
		maxAge:     0,
		replicas:   1,
		retention:  jetstream.WorkQueuePolicy,
		storage:    jetstream.FileStorage,
		ackWait:    30 * time.Second,
		maxDeliver: -1,
		maxBatch:   100,
		fetchWait:  5 * time.Second,
	}
}

// WithMaxMessages sets the maximum number of messages per stream.
func WithMaxMessages(n int64) Option {
	return func(o *options) { o.maxMsgs = n }
}

// WithMaxBytes sets the maximum total size of a stream.
func WithMaxBytes(n int64) Option {
	return func(o *options) { o.maxBytes = n }
}

// WithMaxAge sets the maximum age of messages in the stream.
func WithMaxAge(d time.Duration) Option {
	return func(o *options) { o.maxAge = d }
}

// WithReplicas sets the stream replication factor.
func WithReplicas(n int) Option {
	return func(o *options) { o.replicas = n }
}

// WithRetention sets the stream retention policy. Defaults to
// jetstream.WorkQueuePolicy so that acked messages leave the stream.
func WithRetention(r jetstream.RetentionPolicy) Option {
	return func(o *options) { o.retention = r }
}

// WithStorage sets the stream storage type (file or memory).
func WithStorage(s jetstream.StorageType) Option {
	return func(o *options) { o.storage = s }
}

// WithAckWait sets how long a fetched message stays invisible before the
// server redelivers it. It plays the role of the visibility timeout.
func WithAckWait(d time.Duration) Option {
	return func(o *options) { o.ackWait = d }
}

// WithMaxDeliver sets the maximum number of delivery attempts. -1 means
// unlimited.
func WithMaxDeliver(n int) Option {
	return func(o *options) { o.maxDeliver = n }
}

// WithFilterSubject restricts the consumer to a subset of the stream.
func WithFilterSubject(s string) Option {
	return func(o *options) { o.filterSubj = s }
}

// WithMaxBatch sets how many messages a single fetch may return.
func WithMaxBatch(n int) Option {
	return func(o *options) { o.maxBatch = n }
}

// WithFetchWait bounds how long a fetch waits for the first message.
func WithFetchWait(d time.Duration) Option {
	return func(o *options) { o.fetchWait = d }
}
