package core

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultMultiplexerCapacity is the output capacity of a Multiplexer when none
// is configured.
const DefaultMultiplexerCapacity = 100

// Multiplexer merges the output of several receive buffers into one stream.
//
// Every reader gets its own forwarding goroutine holding at most one message.
// Forwarders blocked on a full output are released in FIFO order, so every
// non-empty reader gets a turn before any reader gets a second one: a fast
// queue cannot starve a slow one. Readers may be added before or while the
// multiplexer runs. The output closes once every reader closed and drained,
// or, when no reader was ever added, once the run context ends.
type Multiplexer struct {
	out    *Channel[*QueueMessage]
	logger *slog.Logger
	done   chan struct{}

	mu        sync.Mutex
	pending   []*Channel[*QueueMessage]
	ctx       context.Context // set once running
	active    int
	started   bool
	completed bool
}

// NewMultiplexer returns a multiplexer whose output holds capacity messages.
func NewMultiplexer(capacity int, logger *slog.Logger) *Multiplexer {
	if capacity <= 0 {
		capacity = DefaultMultiplexerCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Multiplexer{
		out:    NewChannel[*QueueMessage](capacity),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Messages returns the merged stream.
func (m *Multiplexer) Messages() *Channel[*QueueMessage] { return m.out }

// ReadFrom registers a reader. A reader added after the output closed is
// ignored.
func (m *Multiplexer) ReadFrom(reader *Channel[*QueueMessage]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.completed:
		m.logger.Warn("multiplexer already completed, reader ignored")
	case !m.started:
		m.pending = append(m.pending, reader)
	default:
		m.forward(reader)
	}
}

// Run starts forwarding and blocks until the output is closed. Calling Run
// again, concurrently or later, waits for the same completion and does not
// start a second set of forwarders.
func (m *Multiplexer) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		<-m.done
		return nil
	}
	m.started = true
	m.ctx = ctx
	for _, r := range m.pending {
		m.forward(r)
	}
	m.pending = nil
	if m.active == 0 {
		go func() {
			<-ctx.Done()
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.active == 0 {
				m.complete()
			}
		}()
	}
	m.mu.Unlock()

	<-m.done
	return nil
}

// forward must be called with m.mu held and m.started set.
func (m *Multiplexer) forward(reader *Channel[*QueueMessage]) {
	m.active++
	go func() {
		defer m.release()
		for {
			msg, ok := reader.Read(m.ctx)
			if !ok {
				return
			}
			if err := m.out.Write(m.ctx, msg); err != nil {
				return
			}
		}
	}()
}

func (m *Multiplexer) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active--
	if m.active == 0 {
		m.complete()
	}
}

// complete must be called with m.mu held.
func (m *Multiplexer) complete() {
	if m.completed {
		return
	}
	m.completed = true
	m.out.Close()
	close(m.done)
}
