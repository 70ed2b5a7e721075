// Package kafka plugs a Kafka topic, consumed through a consumer group, into
// the bus using segmentio/kafka-go.
//
// Deleting a message commits its offset. Kafka cannot hide a single message,
// so a visibility change either republishes the message to a retry topic or
// leaves its offset uncommitted until a later commit on the partition moves
// past it.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/miladsoleymani/queuemux/broker"
	"github.com/miladsoleymani/queuemux/core"
)

func init() {
	broker.Register("kafka", func(cfg broker.Config) (core.Transport, error) {
		return New(cfg.Brokers, cfg.Queue, cfg.Group, optsFromConfig(cfg)...)
	})
}

var (
	_ core.Transport  = (*Transport)(nil)
	_ core.BatchSizer = (*Transport)(nil)
)

// Transport implements core.Transport for one Kafka topic.
type Transport struct {
	brokers []string
	topic   string
	group   string
	opts    options

	reader *kafka.Reader
	writer *kafka.Writer

	mu     sync.Mutex
	closed bool
}

// New creates a transport reading topic as member of group.
func New(brokers []string, topic, group string, fns ...Option) (*Transport, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("queuemux/kafka: at least one broker address is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("queuemux/kafka: topic is required")
	}
	if group == "" {
		return nil, fmt.Errorf("queuemux/kafka: consumer group is required to commit offsets")
	}

	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}

	rc := kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     group,
		MinBytes:    opts.minBytes,
		MaxBytes:    opts.maxBytes,
		MaxWait:     opts.maxWait,
		StartOffset: opts.startOffset,
	}
	if opts.dialer != nil {
		rc.Dialer = opts.dialer
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     opts.balancer,
		BatchSize:    opts.batchSize,
		Async:        opts.async,
		RequiredAcks: kafka.RequireAll,
	}
	if opts.dialer != nil {
		w.Transport = &kafka.Transport{
			TLS:  opts.dialer.TLS,
			SASL: opts.dialer.SASLMechanism,
		}
	}

	return &Transport{
		brokers: brokers,
		topic:   topic,
		group:   group,
		opts:    opts,
		reader:  kafka.NewReader(rc),
		writer:  w,
	}, nil
}

// Name returns the topic.
func (t *Transport) Name() string { return t.topic }

// URI returns kafka://<first broker>/<topic>.
func (t *Transport) URI() string { return "kafka://" + t.brokers[0] + "/" + t.topic }

// MaxBatchSize implements core.BatchSizer.
func (t *Transport) MaxBatchSize() int { return t.opts.maxBatch }

// ReceiveBatch waits up to the max wait for a first message, then collects
// further messages while each arrives within the linger time.
func (t *Transport) ReceiveBatch(ctx context.Context, max int, _ []string) ([]core.RawMessage, error) {
	if t.isClosed() {
		return nil, core.ErrTransportClosed
	}

	var msgs []core.RawMessage
	wait := t.opts.maxWait
	for len(msgs) < max {
		m, err := t.fetch(ctx, wait)
		if err != nil {
			switch {
			case errors.Is(err, context.DeadlineExceeded), ctx.Err() != nil:
				return msgs, nil
			case len(msgs) > 0:
				return msgs, nil
			case errors.Is(err, io.EOF):
				return nil, core.ErrTransportClosed
			}
			return nil, fmt.Errorf("queuemux/kafka: fetch from %q: %w", t.topic, err)
		}
		msgs = append(msgs, toRaw(m))
		wait = t.opts.linger
	}
	return msgs, nil
}

func (t *Transport) fetch(ctx context.Context, wait time.Duration) (kafka.Message, error) {
	fctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	return t.reader.FetchMessage(fctx)
}

// Delete commits the offset of msg.
func (t *Transport) Delete(ctx context.Context, msg core.RawMessage) error {
	m, err := native(msg)
	if err != nil {
		return err
	}
	if err := t.reader.CommitMessages(ctx, m); err != nil {
		return fmt.Errorf("queuemux/kafka: commit %s: %w", msg.ID, err)
	}
	return nil
}

// ChangeVisibility republishes msg to the retry topic and commits it when a
// retry topic is configured. Otherwise it leaves the offset uncommitted and
// the delay is not applied.
func (t *Transport) ChangeVisibility(ctx context.Context, msg core.RawMessage, _ time.Duration) error {
	if t.opts.retryTopic == "" {
		return nil
	}
	m, err := native(msg)
	if err != nil {
		return err
	}
	if err := t.writer.WriteMessages(ctx, retryMessage(m, t.opts.retryTopic)); err != nil {
		return fmt.Errorf("queuemux/kafka: republish %s to %q: %w", msg.ID, t.opts.retryTopic, err)
	}
	if err := t.reader.CommitMessages(ctx, m); err != nil {
		return fmt.Errorf("queuemux/kafka: commit %s: %w", msg.ID, err)
	}
	return nil
}

// Publish writes body to the topic with the given headers.
func (t *Transport) Publish(ctx context.Context, key, body []byte, headers map[string]string) error {
	if t.isClosed() {
		return core.ErrTransportClosed
	}
	km := kafka.Message{
		Topic:   t.topic,
		Key:     key,
		Value:   body,
		Headers: toHeaders(headers),
	}
	if err := t.writer.WriteMessages(ctx, km); err != nil {
		return fmt.Errorf("queuemux/kafka: publish to %q: %w", t.topic, err)
	}
	return nil
}

// Close flushes the writer and closes the reader.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	var errs []error
	if err := t.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("queuemux/kafka: close writer: %w", err))
	}
	if err := t.reader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("queuemux/kafka: close reader: %w", err))
	}
	return errors.Join(errs...)
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func native(msg core.RawMessage) (kafka.Message, error) {
	m, ok := msg.Native.(kafka.Message)
	if !ok {
		return kafka.Message{}, fmt.Errorf("queuemux/kafka: message %q was not received from kafka", msg.ID)
	}
	return m, nil
}

// optsFromConfig extracts options from the broker.Config.Extra map.
func optsFromConfig(cfg broker.Config) []Option {
	var opts []Option
	if v, ok := cfg.Extra["async"].(bool); ok && v {
		opts = append(opts, WithAsync(true))
	}
	if v, ok := cfg.Int("batch_size"); ok {
		opts = append(opts, WithBatchSize(v))
	}
	if v, ok := cfg.Int("max_bytes"); ok {
		opts = append(opts, WithMaxBytes(v))
	}
	if v, ok := cfg.Int("max_batch"); ok {
		opts = append(opts, WithMaxBatch(v))
	}
	if v, ok := cfg.String("retry_topic"); ok {
		opts = append(opts, WithRetryTopic(v))
	}
	if v, ok := cfg.String("start_offset"); ok && v == "last" {
		opts = append(opts, WithStartOffset(kafka.LastOffset))
	}
	return opts
}
