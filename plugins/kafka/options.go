package kafka

import (
	"time"

	"github.com/segmentio/kafka-go"
)

// Option configures the Kafka transport.
type Option func(*options)

type options struct {
	// Writer
	balancer  kafka.Balancer
	batchSize int
	async     bool

	// Reader
	minBytes    int
	maxBytes    int
	maxWait     time.Duration
	startOffset int64
	maxBatch    int
	linger      time.Duration
	retryTopic  string

	// General
	dialer *kafka.Dialer
}

func defaults() options {
	return options{
		balancer:    &kafka.LeastBytes{},
		batchSize:   100,
		minBytes:    1,
		maxBytes:    10e6, // 10 MB
		maxWait:     500 * time.Millisecond,
		startOffset: kafka.FirstOffset,
		maxBatch:    100,
		linger:      10 * time.Millisecond,
	}
}

// WithBalancer sets the partition balancer for the writer.
func WithBalancer(b kafka.Balancer) Option {
	return func(o *options) { o.balancer = b }
}

// WithBatchSize sets the maximum batch size for writes.
func WithBatchSize(n int) Option {
	return func(o *options) { o.batchSize = n }
}

// WithAsync enables asynchronous writes.
func WithAsync(async bool) Option {
	return func(o *options) { o.async = async }
}

// WithMaxBytes sets the maximum bytes per fetch.
func WithMaxBytes(n int) Option {
	return func(o *options) { o.maxBytes = n }
}

// WithMaxWait bounds how long a receive waits for the first message.
func WithMaxWait(d time.Duration) Option {
	return func(o *options) { o.maxWait = d }
}

// WithStartOffset sets the consumer start offset (kafka.FirstOffset or kafka.LastOffset).
func WithStartOffset(offset int64) Option {
	return func(o *options) { o.startOffset = offset }
}

// WithMaxBatch sets how many messages a single receive may return.
func WithMaxBatch(n int) Option {
	return func(o *options) { o.maxBatch = n }
}

// WithLinger sets how long a receive waits for each message after the
// first one.
func WithLinger(d time.Duration) Option {
	return func(o *options) { o.linger = d }
}

// WithRetryTopic makes visibility changes republish the message to topic
// and commit the original. Without a retry topic a visibility change leaves
// the offset uncommitted.
func WithRetryTopic(topic string) Option {
	return func(o *options) { o.retryTopic = topic }
}

// WithDialer sets a custom dialer for TLS/SASL connections.
func WithDialer(d *kafka.Dialer) Option {
	return func(o *options) { o.dialer = d }
}
