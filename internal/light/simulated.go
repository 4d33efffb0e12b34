package light

import (
	"context"
	"sync"
)

// ModeSimulated logs commands without touching hardware.
const ModeSimulated = "simulated"

// SimulatedBackend records commands in memory.
type SimulatedBackend struct {
	logger Logger

	mu       sync.Mutex
	sent     []Command
	closed   bool
	failWith error
}

// NewSimulatedBackend creates a simulated backend.
func NewSimulatedBackend(logger Logger) *SimulatedBackend {
	if logger == nil {
		logger = noopLogger{}
	}
	return &SimulatedBackend{logger: logger}
}

// Send records the command.
func (b *SimulatedBackend) Send(_ context.Context, cmd Command) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBackendClosed
	}
	if b.failWith != nil {
		return b.failWith
	}
	b.sent = append(b.sent, cmd)
	b.logger.Info("simulated light set", "brightness", cmd.Brightness, "duration_ms", cmd.DurationMS)
	return nil
}

// FailWith makes subsequent sends return err. A nil err clears it.
func (b *SimulatedBackend) FailWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failWith = err
}

// Sent returns a copy of every delivered command.
func (b *SimulatedBackend) Sent() []Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Command(nil), b.sent...)
}

// Status implements Backend.
func (b *SimulatedBackend) Status() BackendStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := BackendStatus{Mode: ModeSimulated, Connected: !b.closed}
	if n := len(b.sent); n > 0 {
		st.Brightness = b.sent[n-1].Brightness
	}
	if b.failWith != nil {
		st.LastError = b.failWith.Error()
	}
	return st
}

// Mode implements Backend.
func (b *SimulatedBackend) Mode() string { return ModeSimulated }

// Close implements Backend.
func (b *SimulatedBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
