package broker

import "time"

// Config holds broker-agnostic configuration.
// Broker plugins extract the fields they need.
type Config struct {
	// Brokers is a list of broker addresses (e.g., "localhost:9092").
	Brokers []string

	// Queue is the queue, stream subject or topic to consume.
	Queue string

	// Group is the consumer group, durable consumer or queue binding name.
	Group string

	// VisibilityTimeout is how long a received message stays hidden from
	// other consumers when the broker supports it.
	VisibilityTimeout time.Duration

	// Extra holds plugin-specific configuration.
	Extra map[string]any
}

// String returns Extra[key] when it is a string.
func (c Config) String(key string) (string, bool) {
	v, ok := c.Extra[key].(string)
	return v, ok
}

// Int returns Extra[key] when it is an integer. YAML decodes numbers as int.
func (c Config) Int(key string) (int, bool) {
	switch v := c.Extra[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
