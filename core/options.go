package core

import (
	"log/slog"
	"time"
)

// Option configures a Bus or a ConsumerGroup.
type Option func(*options)

type options struct {
	logger        *slog.Logger
	monitor       Monitor
	pause         *PauseSignal
	throttled     *Throttled
	serializer    Serializer
	backoff       BackoffStrategy
	settleTimeout time.Duration
}

func defaults() options {
	return options{
		logger:     slog.Default(),
		monitor:    NopMonitor{},
		pause:      &PauseSignal{},
		serializer: NewJSONSerializer(),
	}
}

func applyOptions(fns []Option) options {
	o := defaults()
	for _, fn := range fns {
		fn(&o)
	}
	o.monitor = newSafeMonitor(o.monitor, o.logger)
	return o
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMonitor sets the monitoring sink.
func WithMonitor(m Monitor) Option {
	return func(o *options) {
		if m != nil {
			o.monitor = m
		}
	}
}

// WithPauseSignal shares p with every receive buffer.
func WithPauseSignal(p *PauseSignal) Option {
	return func(o *options) {
		if p != nil {
			o.pause = p
		}
	}
}

// WithThrottled caps concurrent dispatches across every group with t.
func WithThrottled(t *Throttled) Option {
	return func(o *options) { o.throttled = t }
}

// WithSerializer sets the serializer used to decode message bodies.
func WithSerializer(s Serializer) Option {
	return func(o *options) {
		if s != nil {
			o.serializer = s
		}
	}
}

// WithBackoff sets the strategy used to delay failed messages.
func WithBackoff(b BackoffStrategy) Option {
	return func(o *options) { o.backoff = b }
}

// WithSettleTimeout bounds delete and visibility calls.
func WithSettleTimeout(d time.Duration) Option {
	return func(o *options) { o.settleTimeout = d }
}
