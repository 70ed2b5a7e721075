package core

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Defaults for a ReceiveBuffer.
const (
	DefaultBufferSize     = 10
	DefaultPrefetch       = 10
	DefaultReceiveTimeout = 5 * time.Minute
)

// BufferConfig configures a ReceiveBuffer.
type BufferConfig struct {
	// BufferSize is the capacity of the output channel.
	BufferSize int

	// Prefetch caps a single receive call. It is further capped by the
	// transport's maximum batch size.
	Prefetch int

	// ReceiveTimeout bounds a single receive call. A timeout is not an error.
	ReceiveTimeout time.Duration

	// ErrorBackoffInitial and ErrorBackoffMax pace retries after a failed
	// receive. They default to 100ms and 5s.
	ErrorBackoffInitial time.Duration
	ErrorBackoffMax     time.Duration

	// AttributeNames are requested from the transport on every receive.
	// AttrReceiveCount is always included.
	AttributeNames []string

	Pause   *PauseSignal
	Monitor Monitor
	Logger  *slog.Logger
}

// ReceiveBuffer polls one queue and feeds a bounded channel. A full channel
// stops the polling, not only the delivery.
type ReceiveBuffer struct {
	transport Transport
	out       *Channel[*QueueMessage]
	prefetch  int
	timeout   time.Duration
	attrs     []string
	pause     *PauseSignal
	errPacing *backoff.ExponentialBackOff
	monitor   Monitor
	logger    *slog.Logger
}

// NewReceiveBuffer returns a buffer for t.
func NewReceiveBuffer(t Transport, cfg BufferConfig) *ReceiveBuffer {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = DefaultPrefetch
	}
	if cfg.ReceiveTimeout <= 0 {
		cfg.ReceiveTimeout = DefaultReceiveTimeout
	}
	if cfg.ErrorBackoffInitial <= 0 {
		cfg.ErrorBackoffInitial = 100 * time.Millisecond
	}
	if cfg.ErrorBackoffMax < cfg.ErrorBackoffInitial {
		cfg.ErrorBackoffMax = max(5*time.Second, cfg.ErrorBackoffInitial)
	}
	if cfg.Pause == nil {
		cfg.Pause = &PauseSignal{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	attrs := []string{AttrReceiveCount}
	for _, a := range cfg.AttributeNames {
		if a != AttrReceiveCount {
			attrs = append(attrs, a)
		}
	}

	pacing := backoff.NewExponentialBackOff()
	pacing.InitialInterval = cfg.ErrorBackoffInitial
	pacing.MaxInterval = cfg.ErrorBackoffMax
	pacing.Reset()

	return &ReceiveBuffer{
		transport: t,
		out:       NewChannel[*QueueMessage](cfg.BufferSize),
		prefetch:  min(cfg.Prefetch, maxBatchSize(t)),
		timeout:   cfg.ReceiveTimeout,
		attrs:     attrs,
		pause:     cfg.Pause,
		errPacing: pacing,
		monitor:   newSafeMonitor(cfg.Monitor, logger),
		logger:    logger.With("queue", t.Name()),
	}
}

// QueueName returns the name of the polled queue.
func (b *ReceiveBuffer) QueueName() string { return b.transport.Name() }

// Reader returns the output channel.
func (b *ReceiveBuffer) Reader() *Channel[*QueueMessage] { return b.out }

// Run polls until ctx is cancelled or the transport reports
// ErrTransportClosed, then closes the output channel. Receive failures never
// stop the loop.
func (b *ReceiveBuffer) Run(ctx context.Context) error {
	defer b.out.Close()

	for ctx.Err() == nil {
		if err := b.pause.Wait(ctx); err != nil {
			return nil
		}
		if err := b.out.WaitToWrite(ctx); err != nil {
			return nil
		}

		msgs, err := b.receive(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, ErrTransportClosed):
				b.logger.Info("transport closed, stopping receive buffer")
				return nil
			case errors.Is(err, context.DeadlineExceeded):
				b.logger.Debug("receive timed out")
				continue
			}
			delay := b.errPacing.NextBackOff()
			b.logger.Error("failed to receive messages", "error", err, "retry_in", delay)
			if !sleep(ctx, delay) {
				return nil
			}
			continue
		}
		b.errPacing.Reset()

		for _, raw := range msgs {
			if err := b.out.Write(ctx, NewQueueMessage(b.transport, raw)); err != nil {
				// Unwritten messages become visible again once their
				// visibility timeout lapses.
				return nil
			}
		}
	}
	return nil
}

func (b *ReceiveBuffer) receive(ctx context.Context) ([]RawMessage, error) {
	rctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	msgs, err := b.transport.ReceiveBatch(rctx, b.prefetch, b.attrs)
	b.monitor.ReceiveTime(time.Since(start), b.transport.Name())
	if err != nil {
		return nil, err
	}
	if len(msgs) > 0 {
		b.logger.Debug("received messages", "count", len(msgs))
	}
	return msgs, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
