package light

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Dispatcher defaults, in milliseconds.
const (
	DefaultSafetyFloorMS = 250
	DefaultCooldownMS    = 100
)

// DispatcherConfig bounds command timing.
type DispatcherConfig struct {
	// SafetyFloorMS is the shortest fade a command may request.
	SafetyFloorMS int

	// CooldownMS is the minimum gap between two sends.
	CooldownMS int
}

// Dispatcher sends commands to a backend one at a time. A send that comes
// too soon after the previous one waits out the cooldown; commands are
// never dropped or merged.
type Dispatcher struct {
	backend Backend
	config  DispatcherConfig
	logger  Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	lastSent time.Time
}

// NewDispatcher creates a dispatcher for backend.
func NewDispatcher(backend Backend, cfg DispatcherConfig) *Dispatcher {
	if cfg.SafetyFloorMS <= 0 {
		cfg.SafetyFloorMS = DefaultSafetyFloorMS
	}
	if cfg.CooldownMS < 0 {
		cfg.CooldownMS = 0
	}
	return &Dispatcher{
		backend: backend,
		config:  cfg,
		logger:  noopLogger{},
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	if logger != nil {
		d.logger = logger
	}
}

// Backend returns the backend commands are sent to.
func (d *Dispatcher) Backend() Backend {
	return d.backend
}

// Dispatch sends a brightness command. The returned Command is filled in
// even when the send fails.
func (d *Dispatcher) Dispatch(ctx context.Context, brightness, durationMS int, source string) (Command, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if durationMS < d.config.SafetyFloorMS {
		durationMS = d.config.SafetyFloorMS
	}

	cmd := Command{
		ID:         uuid.NewString(),
		Brightness: clampBrightness(brightness),
		DurationMS: durationMS,
		Source:     source,
	}

	if !d.lastSent.IsZero() {
		cooldown := time.Duration(d.config.CooldownMS) * time.Millisecond
		if wait := cooldown - d.now().Sub(d.lastSent); wait > 0 {
			if err := d.sleep(ctx, wait); err != nil {
				return cmd, fmt.Errorf("%w: %w", ErrNotSent, err)
			}
		}
	}

	cmd.IssuedAt = d.now()
	err := d.backend.Send(ctx, cmd)
	d.lastSent = d.now()

	if err != nil {
		d.logger.Error("light command failed",
			"command_id", cmd.ID,
			"brightness", cmd.Brightness,
			"mode", d.backend.Mode(),
			"error", err,
		)
		return cmd, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	d.logger.Info("light command sent",
		"command_id", cmd.ID,
		"brightness", cmd.Brightness,
		"duration_ms", cmd.DurationMS,
		"source", source,
	)
	return cmd, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
