// Package nats plugs a NATS JetStream durable pull consumer into the bus.
//
// Fetch serves receive, Ack serves delete and NakWithDelay serves visibility
// changes. The consumer's AckWait is the visibility timeout of fetched
// messages.
package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/miladsoleymani/queuemux/broker"
	"github.com/miladsoleymani/queuemux/core"
)

func init() {
	broker.Register("nats", func(cfg broker.Config) (core.Transport, error) {
		if len(cfg.Brokers) == 0 {
			return nil, fmt.Errorf("queuemux/nats: at least one broker URL is required")
		}
		return New(context.Background(), cfg.Brokers[0], cfg.Queue, cfg.Group, optsFromConfig(cfg)...)
	})
}

var (
	_ core.Transport  = (*Transport)(nil)
	_ core.BatchSizer = (*Transport)(nil)
)

// Transport implements core.Transport for one JetStream subject.
type Transport struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	cons    jetstream.Consumer
	url     string
	subject string
	stream  string
	durable string
	opts    options

	mu     sync.Mutex
	closed bool
}

// New connects to url, creates or updates a stream capturing subject and a
// durable pull consumer named after group.
func New(ctx context.Context, url, subject, group string, fns ...Option) (*Transport, error) {
	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}
	if subject == "" {
		return nil, fmt.Errorf("queuemux/nats: subject is required")
	}

	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("queuemux/nats: connect to %q: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("queuemux/nats: init jetstream: %w", err)
	}

	t := &Transport{
		conn:    nc,
		js:      js,
		url:     url,
		subject: subject,
		stream:  sanitizeStreamName(subject),
		durable: durableName(group, subject),
		opts:    opts,
	}
	if err := t.setup(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	return t, nil
}

func (t *Transport) setup(ctx context.Context) error {
	stream, err := t.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      t.stream,
		Subjects:  []string{t.subject},
		MaxMsgs:   t.opts.maxMsgs,
		MaxBytes:  t.opts.maxBytes,
		MaxAge:    t.opts.maxAge,
		Replicas:  t.opts.replicas,
		Retention: t.opts.retention,
		Storage:   t.opts.storage,
	})
	if err != nil {
		return fmt.Errorf("queuemux/nats: create stream %q: %w", t.stream, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       t.durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       t.opts.ackWait,
		MaxDeliver:    t.opts.maxDeliver,
		FilterSubject: t.opts.filterSubj,
	})
	if err != nil {
		return fmt.Errorf("queuemux/nats: create consumer %q: %w", t.durable, err)
	}
	t.cons = cons
	return nil
}

// Name returns the consumed subject.
func (t *Transport) Name() string { return t.subject }

// URI returns the server URL followed by the stream and consumer names.
func (t *Transport) URI() string { return t.url + "/" + t.stream + "/" + t.durable }

// MaxBatchSize implements core.BatchSizer.
func (t *Transport) MaxBatchSize() int { return t.opts.maxBatch }

// ReceiveBatch fetches up to max messages. The fetch waits for the configured
// fetch wait or until ctx expires, whichever comes first.
func (t *Transport) ReceiveBatch(ctx context.Context, max int, _ []string) ([]core.RawMessage, error) {
	if t.isClosed() {
		return nil, core.ErrTransportClosed
	}

	wait := t.opts.fetchWait
	if dl, ok := ctx.Deadline(); ok {
		wait = min(wait, time.Until(dl))
	}
	if wait <= 0 {
		return nil, ctx.Err()
	}

	batch, err := t.cons.Fetch(max, jetstream.FetchMaxWait(wait))
	if err != nil {
		return nil, t.wrap("fetch", err)
	}

	msgs := make([]core.RawMessage, 0, max)
	for {
		select {
		case m, ok := <-batch.Messages():
			if !ok {
				if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
					return msgs, t.wrap("fetch", err)
				}
				return msgs, nil
			}
			msgs = append(msgs, toRaw(m))
		case <-ctx.Done():
			// Messages not collected yet are redelivered after AckWait.
			return msgs, nil
		}
	}
}

// Delete acknowledges msg.
func (t *Transport) Delete(_ context.Context, msg core.RawMessage) error {
	m, err := native(msg)
	if err != nil {
		return err
	}
	if err := m.Ack(); err != nil {
		return t.wrap("ack", err)
	}
	return nil
}

// ChangeVisibility negatively acknowledges msg so that the server redelivers
// it after d.
func (t *Transport) ChangeVisibility(_ context.Context, msg core.RawMessage, d time.Duration) error {
	m, err := native(msg)
	if err != nil {
		return err
	}
	if err := m.NakWithDelay(d); err != nil {
		return t.wrap("nak", err)
	}
	return nil
}

// Publish sends body to the transport's subject with the given headers.
func (t *Transport) Publish(ctx context.Context, body []byte, headers map[string]string) error {
	if t.isClosed() {
		return core.ErrTransportClosed
	}
	h := nats.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	if _, err := t.js.PublishMsg(ctx, &nats.Msg{Subject: t.subject, Data: body, Header: h}); err != nil {
		return fmt.Errorf("queuemux/nats: publish to %q: %w", t.subject, err)
	}
	return nil
}

// Close closes the NATS connection. Later receives report
// core.ErrTransportClosed.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.conn.Close()
	return nil
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) wrap(op string, err error) error {
	if errors.Is(err, nats.ErrConnectionClosed) {
		return core.ErrTransportClosed
	}
	return fmt.Errorf("queuemux/nats: %s on %q: %w", op, t.durable, err)
}

func native(msg core.RawMessage) (jetstream.Msg, error) {
	m, ok := msg.Native.(jetstream.Msg)
	if !ok {
		return nil, fmt.Errorf("queuemux/nats: message %q was not received from nats", msg.ID)
	}
	return m, nil
}

// sanitizeStreamName converts a subject pattern to a valid stream name
// by replacing special characters.
func sanitizeStreamName(subject string) string {
	buf := make([]byte, len(subject))
	for i := range len(subject) {
		c := subject[i]
		if c == '.' || c == '*' || c == '>' {
			buf[i] = '-'
		} else {
			buf[i] = c
		}
	}
	return string(buf)
}

func durableName(group, subject string) string {
	if group != "" {
		return group
	}
	return "queuemux-" + sanitizeStreamName(subject)
}

// optsFromConfig extracts options from broker.Config.
func optsFromConfig(cfg broker.Config) []Option {
	var opts []Option
	if cfg.VisibilityTimeout > 0 {
		opts = append(opts, WithAckWait(cfg.VisibilityTimeout))
	}
	if v, ok := cfg.Int("max_deliver"); ok {
		opts = append(opts, WithMaxDeliver(v))
	}
	if v, ok := cfg.Int("replicas"); ok {
		opts = append(opts, WithReplicas(v))
	}
	if v, ok := cfg.Int("max_batch"); ok {
		opts = append(opts, WithMaxBatch(v))
	}
	if v, ok := cfg.String("filter_subject"); ok {
		opts = append(opts, WithFilterSubject(v))
	}
	if v, ok := cfg.String("storage"); ok && v == "memory" {
		opts = append(opts, WithStorage(jetstream.MemoryStorage))
	}
	return opts
}
