package supervisor

import "sync"

// Gate parks loops while the engine is paused. Waiters block on a
// condition variable, so a paused engine uses no CPU.
type Gate struct {
	mu     sync.Mutex
	cond   *sync.Cond
	paused bool
	closed bool
}

// NewGate returns an open, unpaused gate.
func NewGate() *Gate {
	g := &Gate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Wait blocks while the gate is paused. It returns false once the gate is
// closed.
func (g *Gate) Wait() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.paused && !g.closed {
		g.cond.Wait()
	}
	return !g.closed
}

// Pause makes Wait block. It reports whether the state changed.
func (g *Gate) Pause() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused || g.closed {
		return false
	}
	g.paused = true
	return true
}

// Resume releases waiters. It reports whether the state changed.
func (g *Gate) Resume() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused || g.closed {
		return false
	}
	g.paused = false
	g.cond.Broadcast()
	return true
}

// Close releases all waiters permanently.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	g.cond.Broadcast()
}

// Paused reports whether the gate is paused.
func (g *Gate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}
