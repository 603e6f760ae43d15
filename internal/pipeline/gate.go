package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
)

// Gate coordinates cooperative pause/resume plus a one-way stop flag.
// Workers call Wait before each unit of work and before state-changing
// sub-steps; while paused, Wait blocks them all. Stop releases any paused
// waiters so they can observe Stopped and unwind without further writes.
type Gate struct {
	mu      sync.Mutex
	resumed chan struct{} // closed while running
	stopped atomic.Bool
}

// NewGate returns a running (unpaused) gate.
func NewGate() *Gate {
	ch := make(chan struct{})
	close(ch)
	return &Gate{resumed: ch}
}

// Pause blocks future Wait calls until Resume. Idempotent.
func (g *Gate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped.Load() {
		return
	}
	select {
	case <-g.resumed:
		g.resumed = make(chan struct{})
	default:
	}
}

// Resume releases paused waiters. Idempotent.
func (g *Gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.resumed:
	default:
		close(g.resumed)
	}
}

// Stop sets the one-way stop flag and unblocks paused waiters so they can
// reach their next Stopped check.
func (g *Gate) Stop() {
	g.stopped.Store(true)
	g.Resume()
}

// Stopped reports whether Stop has been called.
func (g *Gate) Stopped() bool { return g.stopped.Load() }

// Wait blocks while the gate is paused, returning the context error on
// cancellation.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.resumed
	g.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}
