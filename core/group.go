package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// GroupSettings configures one consumer group. They are read once, when the
// group starts.
type GroupSettings struct {
	// ConsumerCount is the number of dispatch workers.
	ConsumerCount int

	// BufferSize is the capacity of each queue's receive buffer.
	BufferSize int

	// MultiplexerCapacity is the capacity of the merged stream.
	MultiplexerCapacity int

	// Prefetch caps a single receive call per queue.
	Prefetch int

	// ReceiveTimeout bounds a single receive call.
	ReceiveTimeout time.Duration

	// ErrorBackoffInitial and ErrorBackoffMax pace receive retries.
	ErrorBackoffInitial time.Duration
	ErrorBackoffMax     time.Duration

	// Limiter, when set, caps the group's dispatch rate.
	Limiter Limiter
}

// DefaultGroupSettings returns the settings used for groups that were never
// configured explicitly.
func DefaultGroupSettings() GroupSettings {
	return GroupSettings{
		ConsumerCount:       4,
		BufferSize:          DefaultBufferSize,
		MultiplexerCapacity: DefaultMultiplexerCapacity,
		Prefetch:            DefaultPrefetch,
		ReceiveTimeout:      DefaultReceiveTimeout,
	}
}

// ConsumerGroup owns a set of queues, one receive buffer per queue, a
// multiplexer and a pool of dispatch workers.
type ConsumerGroup struct {
	name       string
	settings   GroupSettings
	transports []Transport
	dispatcher MessageDispatcher
	opts       options
	logger     *slog.Logger

	mu      sync.Mutex
	started atomic.Bool
	done    chan struct{}
	err     error
}

// NewConsumerGroup returns a group consuming transports.
func NewConsumerGroup(name string, settings GroupSettings, transports []Transport, d MessageDispatcher, fns ...Option) *ConsumerGroup {
	return newConsumerGroup(name, settings, transports, d, applyOptions(fns))
}

func newConsumerGroup(name string, settings GroupSettings, transports []Transport, d MessageDispatcher, opts options) *ConsumerGroup {
	if settings.ConsumerCount <= 0 {
		settings.ConsumerCount = 1
	}
	return &ConsumerGroup{
		name:       name,
		settings:   settings,
		transports: transports,
		dispatcher: d,
		opts:       opts,
		logger:     opts.logger.With("group", name),
		done:       make(chan struct{}),
	}
}

// Name returns the group name.
func (g *ConsumerGroup) Name() string { return g.name }

// Run starts every receive buffer, the multiplexer and the workers, and blocks
// until all of them stopped. A second call does not start anything; it waits
// for the first run and returns its result.
func (g *ConsumerGroup) Run(ctx context.Context) error {
	if !g.started.Load() {
		g.mu.Lock()
		if !g.started.Load() {
			g.started.Store(true)
			go func() {
				g.err = g.run(ctx)
				close(g.done)
			}()
		}
		g.mu.Unlock()
	}
	<-g.done
	return g.err
}

func (g *ConsumerGroup) run(ctx context.Context) error {
	if len(g.transports) == 0 {
		return fmt.Errorf("queuemux: group %q: %w", g.name, ErrNoQueues)
	}

	eg, ctx := errgroup.WithContext(ctx)
	mux := NewMultiplexer(g.settings.MultiplexerCapacity, g.logger)

	for _, t := range g.transports {
		buf := NewReceiveBuffer(t, BufferConfig{
			BufferSize:          g.settings.BufferSize,
			Prefetch:            g.settings.Prefetch,
			ReceiveTimeout:      g.settings.ReceiveTimeout,
			ErrorBackoffInitial: g.settings.ErrorBackoffInitial,
			ErrorBackoffMax:     g.settings.ErrorBackoffMax,
			Pause:               g.opts.pause,
			Monitor:             g.opts.monitor,
			Logger:              g.logger,
		})
		mux.ReadFrom(buf.Reader())
		eg.Go(func() error { return buf.Run(ctx) })
	}
	eg.Go(func() error { return mux.Run(ctx) })

	for range g.settings.ConsumerCount {
		w := NewDispatchWorker(mux.Messages(), g.dispatcher, g.settings.Limiter, g.opts.throttled, g.opts.monitor)
		eg.Go(func() error { return w.Run(ctx) })
	}

	g.logger.Info("consumer group started",
		"queues", len(g.transports), "consumers", g.settings.ConsumerCount)
	err := eg.Wait()
	g.logger.Info("consumer group stopped")
	return err
}
