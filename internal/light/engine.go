package light

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sarontebebe7/presencelight/internal/infrastructure/config"
	"github.com/sarontebebe7/presencelight/internal/presence"
)

// Default engine timings.
const (
	DefaultOffDelay       = 30 * time.Second
	DefaultDebounceTime   = 2 * time.Second
	DefaultFadeDurationMS = 1000
)

// Decision reasons.
const (
	ReasonNoChange = "no_change"
	ReasonPresence = "presence"
	ReasonHold     = "hold"
	ReasonOffDelay = "off_delay"
	ReasonManual   = "manual"
	ReasonDebounce = "debounce"
)

// EngineConfig configures the decision engine.
type EngineConfig struct {
	Model ScoreModel

	// MinOnBrightness is the lowest brightness used while presence holds.
	MinOnBrightness int

	OffDelay       time.Duration
	FadeDurationMS int

	// DebounceTime applies to OnObjectDetected only.
	DebounceTime time.Duration
}

// EngineConfigFromConfig builds an EngineConfig from the lighting section.
func EngineConfigFromConfig(cfg config.LightingConfig) EngineConfig {
	return EngineConfig{
		Model:           ScoreModelFromConfig(cfg),
		MinOnBrightness: cfg.MinOnBrightness,
		OffDelay:        cfg.OffDelay,
		FadeDurationMS:  cfg.FadeDurationMS,
		DebounceTime:    cfg.DebounceTime,
	}
}

// Decision describes what one engine step did.
type Decision struct {
	Previous int
	Target   int
	Changed  bool
	State    State
	Reason   string

	// Command is set when Changed is true.
	Command Command

	// Err is the dispatch error, if any. The engine state is updated
	// regardless.
	Err error
}

// EngineStatus is a point-in-time view of the engine.
type EngineStatus struct {
	State         State
	Brightness    int
	LastPresentAt time.Time
	LastCommand   Command
	LastError     string
}

// On reports whether the light is lit.
func (s EngineStatus) On() bool {
	return s.Brightness > 0
}

// Engine turns presence signals into light commands.
//
// Operations are serialised; state reads via Status never wait on an
// in-flight command.
type Engine struct {
	config     EngineConfig
	dispatcher *Dispatcher
	logger     Logger

	opMu sync.Mutex

	mu              sync.RWMutex
	state           State
	brightness      int
	lastPresentAt   time.Time
	lastDetectionAt time.Time
	lastCommand     Command
	lastErr         error
}

// NewEngine creates an engine that sends through dispatcher.
func NewEngine(cfg EngineConfig, dispatcher *Dispatcher) *Engine {
	if cfg.OffDelay <= 0 {
		cfg.OffDelay = DefaultOffDelay
	}
	if cfg.FadeDurationMS <= 0 {
		cfg.FadeDurationMS = DefaultFadeDurationMS
	}
	if cfg.DebounceTime <= 0 {
		cfg.DebounceTime = DefaultDebounceTime
	}
	cfg.MinOnBrightness = clampBrightness(cfg.MinOnBrightness)

	return &Engine{
		config:     cfg,
		dispatcher: dispatcher,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Mode returns the backend mode.
func (e *Engine) Mode() string {
	return e.dispatcher.Backend().Mode()
}

// Update applies one aggregated signal observed at now.
func (e *Engine) Update(ctx context.Context, sig presence.Signal, now time.Time) Decision {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	current := e.brightness
	if sig.AnyPresent && now.After(e.lastPresentAt) {
		e.lastPresentAt = now
	}
	lastPresent := e.lastPresentAt
	e.mu.Unlock()

	if sig.AnyPresent {
		computed := e.config.Model.Brightness(sig.Score)
		target := max(computed, e.config.MinOnBrightness)
		reason := ReasonPresence
		if computed == 0 && current > 0 {
			target = current
			reason = ReasonHold
		}
		if target == current {
			return Decision{Previous: current, Target: current, State: e.currentState(), Reason: ReasonNoChange}
		}
		return e.apply(ctx, target, SourceAuto, reason)
	}

	if current > 0 && now.Sub(lastPresent) > e.config.OffDelay {
		e.logger.Info("no presence within off delay, turning light off",
			"since_last_presence", now.Sub(lastPresent).String(),
			"off_delay", e.config.OffDelay.String(),
		)
		return e.apply(ctx, 0, SourceAuto, ReasonOffDelay)
	}

	return Decision{Previous: current, Target: current, State: e.currentState(), Reason: ReasonNoChange}
}

// TurnOn sets a manual brightness. The off delay restarts from now.
func (e *Engine) TurnOn(ctx context.Context, brightness int, now time.Time) Decision {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	if now.After(e.lastPresentAt) {
		e.lastPresentAt = now
	}
	e.mu.Unlock()

	if brightness <= 0 {
		brightness = e.config.Model.MaxBrightness
	}
	return e.apply(ctx, clampBrightness(brightness), SourceManual, ReasonManual)
}

// TurnOff switches the light off immediately.
func (e *Engine) TurnOff(ctx context.Context) Decision {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	return e.apply(ctx, 0, SourceManual, ReasonManual)
}

// ShutOff turns the light off on behalf of a stopping engine.
func (e *Engine) ShutOff(ctx context.Context) Decision {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	return e.apply(ctx, 0, SourceStop, ReasonManual)
}

// OnObjectDetected is the per-detection trigger: it switches an off light
// to full brightness, ignoring detections that arrive within the debounce
// time of the previous one.
//
// Deprecated: use Update, which follows the detection score.
func (e *Engine) OnObjectDetected(ctx context.Context, now time.Time) Decision {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	sinceLast := now.Sub(e.lastDetectionAt)
	debounced := !e.lastDetectionAt.IsZero() && sinceLast < e.config.DebounceTime
	e.lastDetectionAt = now
	if now.After(e.lastPresentAt) {
		e.lastPresentAt = now
	}
	current := e.brightness
	state := e.state
	e.mu.Unlock()

	if debounced {
		return Decision{Previous: current, Target: current, State: state, Reason: ReasonDebounce}
	}
	if state != StateOff {
		return Decision{Previous: current, Target: current, State: state, Reason: ReasonNoChange}
	}
	return e.apply(ctx, e.config.Model.MaxBrightness, SourceLegacy, ReasonPresence)
}

// apply dispatches target and records it. Caller holds opMu.
func (e *Engine) apply(ctx context.Context, target int, source, reason string) Decision {
	e.mu.Lock()
	previous := e.brightness
	prevState := e.state
	e.state = StateTransitioning
	e.mu.Unlock()

	cmd, err := e.dispatcher.Dispatch(ctx, target, e.config.FadeDurationMS, source)

	if errors.Is(err, ErrNotSent) {
		// Nothing reached the light, so the known level still holds.
		e.mu.Lock()
		e.state = prevState
		e.lastErr = err
		e.mu.Unlock()

		e.logger.Warn("light command abandoned",
			"brightness", cmd.Brightness,
			"error", err,
		)
		return Decision{
			Previous: previous,
			Target:   previous,
			State:    prevState,
			Reason:   reason,
			Err:      err,
		}
	}

	e.mu.Lock()
	e.brightness = cmd.Brightness
	if cmd.Brightness > 0 {
		e.state = StateOn
	} else {
		e.state = StateOff
	}
	e.lastCommand = cmd
	e.lastErr = err
	state := e.state
	e.mu.Unlock()

	if err != nil {
		e.logger.Warn("light state updated without confirmation",
			"brightness", cmd.Brightness,
			"error", err,
		)
	}

	return Decision{
		Previous: previous,
		Target:   cmd.Brightness,
		Changed:  true,
		State:    state,
		Reason:   reason,
		Command:  cmd,
		Err:      err,
	}
}

func (e *Engine) currentState() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Reset forgets all state without sending a command.
func (e *Engine) Reset() {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateOff
	e.brightness = 0
	e.lastPresentAt = time.Time{}
	e.lastDetectionAt = time.Time{}
	e.lastErr = nil
}

// Status returns the current engine state.
func (e *Engine) Status() EngineStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := EngineStatus{
		State:         e.state,
		Brightness:    e.brightness,
		LastPresentAt: e.lastPresentAt,
		LastCommand:   e.lastCommand,
	}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}
	return st
}
