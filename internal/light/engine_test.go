package light

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sarontebebe7/presencelight/internal/presence"
)

var t0 = time.Unix(1700000000, 0)

func newTestEngine(cfg EngineConfig) (*Engine, *SimulatedBackend) {
	backend := NewSimulatedBackend(nil)
	d, _ := newTestDispatcher(backend, DispatcherConfig{})
	if cfg.Model.MaxBrightness == 0 {
		cfg.Model = defaultModel()
	}
	return NewEngine(cfg, d), backend
}

func present(score float64) presence.Signal {
	return presence.Signal{AnyPresent: true, TotalCount: 1, Score: score}
}

func absent() presence.Signal {
	return presence.Signal{}
}

func TestNewEngine_Defaults(t *testing.T) {
	e, _ := newTestEngine(EngineConfig{MinOnBrightness: 500})

	if e.config.OffDelay != DefaultOffDelay {
		t.Errorf("OffDelay = %v, want %v", e.config.OffDelay, DefaultOffDelay)
	}
	if e.config.FadeDurationMS != DefaultFadeDurationMS {
		t.Errorf("FadeDurationMS = %d, want %d", e.config.FadeDurationMS, DefaultFadeDurationMS)
	}
	if e.config.MinOnBrightness != 100 {
		t.Errorf("MinOnBrightness = %d, want clamped to 100", e.config.MinOnBrightness)
	}
	if st := e.Status(); st.State != StateOff || st.On() {
		t.Errorf("initial status = %+v, want off", st)
	}
}

func TestUpdate_ScoreMapsToBrightness(t *testing.T) {
	e, backend := newTestEngine(EngineConfig{})

	d := e.Update(context.Background(), present(0.2), t0)

	if d.Target != 68 || !d.Changed || d.State != StateOn {
		t.Errorf("Decision = %+v, want 68, changed, on", d)
	}
	sent := backend.Sent()
	if len(sent) != 1 || sent[0].Brightness != 68 || sent[0].Source != SourceAuto {
		t.Errorf("sent = %+v, want one auto command at 68", sent)
	}
	if sent[0].DurationMS != DefaultFadeDurationMS {
		t.Errorf("DurationMS = %d, want %d", sent[0].DurationMS, DefaultFadeDurationMS)
	}
}

func TestUpdate_ScoreAtThresholdGivesMinBrightness(t *testing.T) {
	e, _ := newTestEngine(EngineConfig{})

	d := e.Update(context.Background(), present(0.05), t0)
	if d.Target != 20 {
		t.Errorf("Target = %d, want min brightness 20", d.Target)
	}
}

func TestUpdate_NoCommandWhenUnchanged(t *testing.T) {
	e, backend := newTestEngine(EngineConfig{})

	e.Update(context.Background(), present(0.2), t0)
	d := e.Update(context.Background(), present(0.2), t0.Add(100*time.Millisecond))

	if d.Changed || d.Reason != ReasonNoChange {
		t.Errorf("Decision = %+v, want no change", d)
	}
	if n := len(backend.Sent()); n != 1 {
		t.Errorf("sent %d commands, want 1", n)
	}
}

func TestUpdate_LowScoreHoldsBrightness(t *testing.T) {
	e, backend := newTestEngine(EngineConfig{})

	e.Update(context.Background(), present(0.2), t0)
	d := e.Update(context.Background(), present(0.01), t0.Add(time.Second))

	if d.Changed || e.Status().Brightness != 68 {
		t.Errorf("low-score tick changed the light: %+v", d)
	}
	if n := len(backend.Sent()); n != 1 {
		t.Errorf("sent %d commands, want 1", n)
	}
}

func TestUpdate_LowScoreWithLightOff(t *testing.T) {
	e, backend := newTestEngine(EngineConfig{})

	d := e.Update(context.Background(), present(0.01), t0)
	if d.Changed || e.Status().On() {
		t.Errorf("Decision = %+v, want light left off", d)
	}
	if n := len(backend.Sent()); n != 0 {
		t.Errorf("sent %d commands, want 0", n)
	}

	e2, _ := newTestEngine(EngineConfig{MinOnBrightness: 30})
	if d := e2.Update(context.Background(), present(0.01), t0); d.Target != 30 {
		t.Errorf("with min_on_brightness: Target = %d, want 30", d.Target)
	}
}

func TestUpdate_OffAfterDelay(t *testing.T) {
	e, backend := newTestEngine(EngineConfig{OffDelay: 30 * time.Second})

	// One feed sees a person at t=0, afterwards nothing is seen anywhere.
	e.Update(context.Background(), present(0.2), t0)

	for _, at := range []time.Duration{time.Second, 10 * time.Second, 29 * time.Second, 30 * time.Second} {
		if d := e.Update(context.Background(), absent(), t0.Add(at)); d.Changed {
			t.Fatalf("light changed at t=%v: %+v", at, d)
		}
	}
	if !e.Status().On() {
		t.Fatal("light off before off delay elapsed")
	}

	d := e.Update(context.Background(), absent(), t0.Add(30*time.Second+100*time.Millisecond))
	if !d.Changed || d.Target != 0 || d.State != StateOff || d.Reason != ReasonOffDelay {
		t.Errorf("Decision = %+v, want off by delay", d)
	}

	sent := backend.Sent()
	if len(sent) != 2 || sent[1].Brightness != 0 {
		t.Errorf("sent = %+v, want on then off", sent)
	}

	// Stays off without sending more commands.
	if d := e.Update(context.Background(), absent(), t0.Add(time.Minute)); d.Changed {
		t.Errorf("extra command after off: %+v", d)
	}
}

func TestUpdate_PresenceResetsOffTimer(t *testing.T) {
	e, _ := newTestEngine(EngineConfig{OffDelay: 30 * time.Second})

	e.Update(context.Background(), present(0.2), t0)
	e.Update(context.Background(), present(0.2), t0.Add(20*time.Second))

	if d := e.Update(context.Background(), absent(), t0.Add(45*time.Second)); d.Changed {
		t.Errorf("light turned off 25s after last presence: %+v", d)
	}
	if d := e.Update(context.Background(), absent(), t0.Add(51*time.Second)); !d.Changed || d.Target != 0 {
		t.Errorf("Decision = %+v, want off 31s after last presence", d)
	}
}

func TestUpdate_LastPresentNeverMovesBack(t *testing.T) {
	e, _ := newTestEngine(EngineConfig{})

	e.Update(context.Background(), present(0.2), t0.Add(10*time.Second))
	e.Update(context.Background(), present(0.2), t0)

	if got := e.Status().LastPresentAt; !got.Equal(t0.Add(10 * time.Second)) {
		t.Errorf("LastPresentAt = %v, want %v", got, t0.Add(10*time.Second))
	}
}

func TestUpdate_SendFailureUpdatesOptimistically(t *testing.T) {
	e, backend := newTestEngine(EngineConfig{})
	backend.FailWith(errors.New("timeout"))

	d := e.Update(context.Background(), present(0.3), t0)

	if !errors.Is(d.Err, ErrSendFailed) {
		t.Errorf("Decision.Err = %v, want ErrSendFailed", d.Err)
	}
	st := e.Status()
	if st.Brightness != 100 || st.State != StateOn || st.LastError == "" {
		t.Errorf("Status = %+v, want brightness 100, on, error recorded", st)
	}

	// No retry on the next identical tick.
	backend.FailWith(nil)
	if d := e.Update(context.Background(), present(0.3), t0.Add(time.Second)); d.Changed {
		t.Errorf("failed command was retried: %+v", d)
	}
}

func TestTurnOn_AbandonedCommandKeepsKnownLevel(t *testing.T) {
	backend := NewSimulatedBackend(nil)
	e := NewEngine(EngineConfig{Model: defaultModel()},
		NewDispatcher(backend, DispatcherConfig{CooldownMS: 60_000}))

	e.TurnOn(context.Background(), 30, t0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := e.TurnOn(ctx, 80, t0.Add(time.Second))

	if !errors.Is(d.Err, ErrNotSent) {
		t.Errorf("Decision.Err = %v, want ErrNotSent", d.Err)
	}
	if d.Changed || d.Target != 30 {
		t.Errorf("Decision = %+v, want unchanged at 30", d)
	}
	st := e.Status()
	if st.Brightness != 30 || st.State != StateOn {
		t.Errorf("Status = %+v, want brightness 30, on", st)
	}
	if st.LastCommand.Brightness != 30 {
		t.Errorf("LastCommand = %+v, want the delivered 30%% command", st.LastCommand)
	}
	if n := len(backend.Sent()); n != 1 {
		t.Errorf("sent %d commands, want 1", n)
	}
}

func TestTurnOnOff(t *testing.T) {
	e, backend := newTestEngine(EngineConfig{})

	d := e.TurnOn(context.Background(), 0, t0)
	if d.Target != 100 || d.Command.Source != SourceManual {
		t.Errorf("TurnOn(0) = %+v, want max brightness, manual", d)
	}

	e.TurnOn(context.Background(), 40, t0)
	if e.Status().Brightness != 40 {
		t.Errorf("Brightness = %d, want 40", e.Status().Brightness)
	}

	// Manual on holds for the off delay like presence does.
	if d := e.Update(context.Background(), absent(), t0.Add(10*time.Second)); d.Changed {
		t.Errorf("manual brightness overridden early: %+v", d)
	}

	d = e.TurnOff(context.Background())
	if d.Target != 0 || d.State != StateOff {
		t.Errorf("TurnOff() = %+v", d)
	}
	if n := len(backend.Sent()); n != 3 {
		t.Errorf("sent %d commands, want 3", n)
	}
}

func TestOnObjectDetected_Debounce(t *testing.T) {
	e, backend := newTestEngine(EngineConfig{DebounceTime: 2 * time.Second})

	d := e.OnObjectDetected(context.Background(), t0)
	if !d.Changed || d.Target != 100 {
		t.Fatalf("first detection = %+v, want light on at max", d)
	}

	e.TurnOff(context.Background())

	// Within debounce of the previous detection: ignored.
	if d := e.OnObjectDetected(context.Background(), t0.Add(time.Second)); d.Reason != ReasonDebounce {
		t.Errorf("Reason = %q, want debounce", d.Reason)
	}
	// Each detection restarts the debounce window.
	if d := e.OnObjectDetected(context.Background(), t0.Add(2500*time.Millisecond)); d.Reason != ReasonDebounce {
		t.Errorf("Reason = %q, want debounce", d.Reason)
	}
	if d := e.OnObjectDetected(context.Background(), t0.Add(5*time.Second)); !d.Changed {
		t.Errorf("detection after debounce = %+v, want light on", d)
	}

	sent := backend.Sent()
	if len(sent) != 3 || sent[2].Source != SourceLegacy {
		t.Errorf("sent = %+v", sent)
	}
}

func TestReset(t *testing.T) {
	e, backend := newTestEngine(EngineConfig{})
	e.Update(context.Background(), present(0.2), t0)

	e.Reset()

	st := e.Status()
	if st.State != StateOff || st.Brightness != 0 || !st.LastPresentAt.IsZero() {
		t.Errorf("Status after Reset = %+v", st)
	}
	if n := len(backend.Sent()); n != 1 {
		t.Errorf("Reset sent a command")
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateOff:           "off",
		StateOn:            "on",
		StateTransitioning: "transitioning",
		State(42):          "unknown",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}
