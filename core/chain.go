package core

import (
	"fmt"
	"sync"
)

// Chain wraps h with middleware. Given middleware [A, B, C], the call order is
// A -> B -> C -> h. The result holds no per-call state and is safe to share
// between dispatch workers.
func Chain(h HandlerFunc, mws ...MiddlewareFunc) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// ChainFactory builds the handler chain for one (queue, message type) pair.
// It is called exactly once, when the MiddlewareMap is built.
type ChainFactory func() HandlerFunc

type routeKey struct {
	queue       string
	messageType string
}

// MiddlewareMapBuilder collects chain factories during configuration.
type MiddlewareMapBuilder struct {
	mu      sync.Mutex
	routes  map[routeKey]ChainFactory
	order   []routeKey
	matcher QueueMatcher
}

// NewMiddlewareMapBuilder returns an empty builder using DefaultMatcher for
// queue patterns.
func NewMiddlewareMapBuilder() *MiddlewareMapBuilder {
	return &MiddlewareMapBuilder{
		routes:  make(map[routeKey]ChainFactory),
		matcher: DefaultMatcher{},
	}
}

// SetMatcher replaces the queue pattern matcher.
func (b *MiddlewareMapBuilder) SetMatcher(m QueueMatcher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.matcher = m
}

// Add registers the factory for queue and messageType. queue may be a pattern
// understood by the matcher. A later registration for the same pair replaces
// the earlier one.
func (b *MiddlewareMapBuilder) Add(queue, messageType string, f ChainFactory) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := routeKey{queue, messageType}
	if _, ok := b.routes[k]; !ok {
		b.order = append(b.order, k)
	}
	b.routes[k] = f
}

// Build runs every factory and freezes the result.
func (b *MiddlewareMapBuilder) Build() (*MiddlewareMap, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := &MiddlewareMap{
		exact:   make(map[routeKey]HandlerFunc, len(b.routes)),
		matcher: b.matcher,
	}
	for _, k := range b.order {
		h := b.routes[k]()
		if h == nil {
			return nil, fmt.Errorf("queuemux: chain factory for %s/%s returned nil", k.queue, k.messageType)
		}
		if isPattern(k.queue) {
			m.patterns = append(m.patterns, patternRoute{pattern: k.queue, messageType: k.messageType, handler: h})
			continue
		}
		m.exact[k] = h
	}
	return m, nil
}

type patternRoute struct {
	pattern     string
	messageType string
	handler     HandlerFunc
}

// MiddlewareMap resolves the handler chain for a (queue, message type) pair.
// It is read-only once built.
type MiddlewareMap struct {
	exact    map[routeKey]HandlerFunc
	patterns []patternRoute
	matcher  QueueMatcher
}

// Get returns the chain registered for queue and messageType. Exact queue
// names win over patterns; among patterns the first match in registration
// order wins.
func (m *MiddlewareMap) Get(queue, messageType string) (HandlerFunc, bool) {
	if m == nil {
		return nil, false
	}
	if h, ok := m.exact[routeKey{queue, messageType}]; ok {
		return h, true
	}
	for _, p := range m.patterns {
		if p.messageType == messageType && m.matcher.Match(p.pattern, queue) {
			return p.handler, true
		}
	}
	return nil, false
}

// Len returns the number of registered chains.
func (m *MiddlewareMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.exact) + len(m.patterns)
}
