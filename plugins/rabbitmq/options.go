package rabbitmq

import "time"

// Option configures the RabbitMQ transport.
type Option func(*options)

type options struct {
	// Exchange settings
	exchange     string
	exchangeType string
	routingKey   string

	// Queue settings
	durable    bool
	autoDelete bool
	exclusive  bool
	quorum     bool

	// Consumer settings
	prefetchCount int
	maxBatch      int
	pollInterval  time.Duration
	fetchWait     time.Duration
}

func defaults() options {
	return options{
		exchange:      "",       // default exchange
		exchangeType:  "direct", // direct, fanout, topic, headers
		durable:       true,
		prefetchCount: 10,
		maxBatch:      10,
		pollInterval:  200 * time.Millisecond,
		fetchWait:     5 * time.Second,
	}
}

// WithExchange sets the exchange name and type.
func WithExchange(name, kind string) Option {
	return func(o *options) {
		o.exchange = name
		o.exchangeType = kind
	}
}

// WithRoutingKey sets the routing key for queue binding.
func WithRoutingKey(key string) Option {
	return func(o *options) { o.routingKey = key }
}

// WithDurable controls whether queues survive broker restart.
func WithDurable(d bool) Option {
	return func(o *options) { o.durable = d }
}

// WithQuorum declares a quorum queue. Quorum queues report the delivery
// count in the x-delivery-count header.
func WithQuorum(q bool) Option {
	return func(o *options) { o.quorum = q }
}

// WithPrefetchCount sets how many unacknowledged messages the channel may
// hold.
func WithPrefetchCount(n int) Option {
	return func(o *options) { o.prefetchCount = n }
}

// WithMaxBatch sets how many messages a single receive may return.
func WithMaxBatch(n int) Option {
	return func(o *options) { o.maxBatch = n }
}

// WithPollInterval sets the pause between polls of an empty queue.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

// WithFetchWait bounds how long a receive polls an empty queue.
func WithFetchWait(d time.Duration) Option {
	return func(o *options) { o.fetchWait = d }
}

// WithAutoDelete causes the queue to be deleted when the last consumer disconnects.
func WithAutoDelete(d bool) Option {
	return func(o *options) { o.autoDelete = d }
}
