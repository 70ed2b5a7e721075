package core

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// BackoffStrategy maps a failed handling attempt to how long the message
// should stay invisible before it is retried.
type BackoffStrategy interface {
	Backoff(message any, receiveCount int, err error) time.Duration
}

// BackoffFunc adapts a function to a BackoffStrategy.
type BackoffFunc func(message any, receiveCount int, err error) time.Duration

func (f BackoffFunc) Backoff(message any, receiveCount int, err error) time.Duration {
	return f(message, receiveCount, err)
}

// ExponentialBackoff grows the invisibility window with each receive:
// Initial on the first receive, multiplied by Multiplier on every further
// receive, capped at Max.
type ExponentialBackoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// NewExponentialBackoff returns a strategy with the given bounds and a
// multiplier of 2.
func NewExponentialBackoff(initial, max time.Duration) ExponentialBackoff {
	return ExponentialBackoff{Initial: initial, Max: max, Multiplier: 2}
}

func (e ExponentialBackoff) Backoff(_ any, receiveCount int, _ error) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     e.Initial,
		RandomizationFactor: 0,
		Multiplier:          e.Multiplier,
		MaxInterval:         e.Max,
	}
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	if b.MaxInterval <= 0 {
		b.MaxInterval = backoff.DefaultMaxInterval
	}
	b.Reset()

	// Stop stepping once the interval is capped or no longer grows, so huge
	// receive counts cost no more than reaching Max.
	d := b.NextBackOff()
	for i := 1; i < receiveCount; i++ {
		prev := d
		d = b.NextBackOff()
		if d >= b.MaxInterval || d == prev {
			break
		}
	}
	return d
}
