package core

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Bus is the top-level runtime. It holds named consumer groups, the handler
// registrations and global middleware, and runs every group under one
// context.
type Bus struct {
	mu          sync.RWMutex
	opts        options
	groups      map[string]*groupSpec
	groupOrder  []string
	middlewares []MiddlewareFunc
	routes      []busRoute
	matcher     QueueMatcher
	started     bool
}

type groupSpec struct {
	settings   GroupSettings
	transports []Transport
}

type busRoute struct {
	queue       string
	messageType string
	build       func(globals []MiddlewareFunc) HandlerFunc
}

// New creates an empty Bus.
func New(fns ...Option) *Bus {
	return &Bus{
		opts:    applyOptions(fns),
		groups:  make(map[string]*groupSpec),
		matcher: DefaultMatcher{},
	}
}

// SetMatcher replaces the queue pattern matcher. Must be called before Run.
func (b *Bus) SetMatcher(m QueueMatcher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.matcher = m
}

// SetSerializer replaces the serializer. Must be called before Run.
func (b *Bus) SetSerializer(s Serializer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opts.serializer = s
}

// SetBackoff sets the strategy used to delay failed messages.
func (b *Bus) SetBackoff(s BackoffStrategy) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opts.backoff = s
}

// ConfigureGroup sets the settings of a named group, creating it if needed.
func (b *Bus) ConfigureGroup(name string, s GroupSettings) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.group(name).settings = s
}

// AddQueue assigns t to the named group. Groups that were never configured
// use DefaultGroupSettings.
func (b *Bus) AddQueue(group string, t Transport) error {
	if t == nil {
		return ErrNoTransport
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	g := b.group(group)
	g.transports = append(g.transports, t)
	return nil
}

// group must be called with b.mu held.
func (b *Bus) group(name string) *groupSpec {
	g, ok := b.groups[name]
	if !ok {
		g = &groupSpec{settings: DefaultGroupSettings()}
		b.groups[name] = g
		b.groupOrder = append(b.groupOrder, name)
	}
	return g
}

// Use registers global middleware. It wraps every handler, outside any
// per-handler middleware, in registration order.
func (b *Bus) Use(mws ...MiddlewareFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middlewares = append(b.middlewares, mws...)
}

// Handle registers h for messageType arriving on queue. queue may be a
// pattern such as "orders.*". mws wrap h inside the global middleware.
//
//	bus.Handle("orders", "OrderPlaced", core.HandlerOf(func(ctx context.Context, hc *core.HandleContext, o *OrderPlaced) (bool, error) {
//	    return true, process(o)
//	}), middleware.Timeout(30*time.Second))
func (b *Bus) Handle(queue, messageType string, h HandlerFunc, mws ...MiddlewareFunc) {
	b.HandleChain(queue, messageType, func() HandlerFunc { return Chain(h, mws...) })
}

// HandleChain registers a factory building the whole per-handler chain. The
// factory runs once, when the bus starts.
func (b *Bus) HandleChain(queue, messageType string, f ChainFactory) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routes = append(b.routes, busRoute{
		queue:       queue,
		messageType: messageType,
		build: func(globals []MiddlewareFunc) HandlerFunc {
			return Chain(f(), globals...)
		},
	})
}

// Pause stops every receive buffer from polling until Resume.
func (b *Bus) Pause() { b.opts.pause.Pause() }

// Resume restarts polling after Pause.
func (b *Bus) Resume() { b.opts.pause.Resume() }

// Paused reports whether the bus is paused.
func (b *Bus) Paused() bool { return b.opts.pause.Paused() }

// Run starts every consumer group and blocks until all of them stopped,
// normally because ctx was cancelled.
func (b *Bus) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return ErrAlreadyStarted
	}
	if len(b.groups) == 0 {
		b.mu.Unlock()
		return ErrNoQueues
	}
	b.started = true

	// Snapshot middleware and routes under lock.
	globals := make([]MiddlewareFunc, len(b.middlewares))
	copy(globals, b.middlewares)
	builder := NewMiddlewareMapBuilder()
	builder.SetMatcher(b.matcher)
	for _, r := range b.routes {
		build := r.build
		builder.Add(r.queue, r.messageType, func() HandlerFunc { return build(globals) })
	}
	routes, err := builder.Build()
	if err != nil {
		b.mu.Unlock()
		return err
	}

	opts := b.opts
	dispatcher := NewDispatcher(DispatcherConfig{
		Serializer:    opts.serializer,
		Routes:        routes,
		Backoff:       opts.backoff,
		Monitor:       opts.monitor,
		Logger:        opts.logger,
		SettleTimeout: opts.settleTimeout,
	})

	groups := make([]*ConsumerGroup, 0, len(b.groupOrder))
	for _, name := range b.groupOrder {
		spec := b.groups[name]
		transports := make([]Transport, len(spec.transports))
		copy(transports, spec.transports)
		groups = append(groups, newConsumerGroup(name, spec.settings, transports, dispatcher, opts))
	}
	b.mu.Unlock()

	opts.logger.Info("bus starting", "groups", len(groups), "handlers", routes.Len())

	eg, ctx := errgroup.WithContext(ctx)
	for _, g := range groups {
		eg.Go(func() error { return g.Run(ctx) })
	}
	return eg.Wait()
}
