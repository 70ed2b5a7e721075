package core

import (
	"context"
	"sync"
)

// PauseSignal halts receiving without tearing down the pipeline. The zero
// value is not paused.
type PauseSignal struct {
	mu      sync.Mutex
	resumed chan struct{} // nil while running, open while paused
}

// Pause stops new receives until Resume is called. Pausing twice is a no-op.
func (p *PauseSignal) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resumed == nil {
		p.resumed = make(chan struct{})
	}
}

// Resume releases every waiter.
func (p *PauseSignal) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resumed != nil {
		close(p.resumed)
		p.resumed = nil
	}
}

// Paused reports whether the signal is currently active.
func (p *PauseSignal) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resumed != nil
}

// Wait blocks while the signal is paused. It returns ctx.Err() if ctx ends
// first.
func (p *PauseSignal) Wait(ctx context.Context) error {
	for {
		p.mu.Lock()
		ch := p.resumed
		p.mu.Unlock()
		if ch == nil {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
