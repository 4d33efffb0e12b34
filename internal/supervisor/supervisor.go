package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sarontebebe7/presencelight/internal/detection"
	"github.com/sarontebebe7/presencelight/internal/feed"
	"github.com/sarontebebe7/presencelight/internal/infrastructure/config"
	"github.com/sarontebebe7/presencelight/internal/journal"
	"github.com/sarontebebe7/presencelight/internal/light"
	"github.com/sarontebebe7/presencelight/internal/presence"
)

// Defaults for Config.
const (
	DefaultTickInterval    = 100 * time.Millisecond
	DefaultJoinTimeout     = 5 * time.Second
	DefaultRecentEvents    = 100
	DefaultStatusEvents    = 10
	DefaultMetricsInterval = time.Second
)

// Result is the outcome of a lifecycle call. A repeated call (Start while
// running, Pause while paused) returns Success false and no error.
type Result struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Degraded bool   `json:"degraded,omitempty"`
}

// FeedSpec is a ready-to-connect feed built by a SourceFactory.
type FeedSpec struct {
	Source   feed.VideoSource
	Detector feed.Detector
}

// SourceFactory builds the source and detector for a configured feed.
type SourceFactory func(cfg config.FeedConfig) (FeedSpec, error)

// EventSink records sessions and light commands. journal.SQLiteRepository
// implements it.
type EventSink interface {
	StartSession(ctx context.Context, feeds []string, at time.Time) (string, error)
	EndSession(ctx context.Context, id, reason string, at time.Time) error
	RecordLightEvent(ctx context.Context, ev journal.LightEvent) error
}

// MetricsSink receives telemetry. influxdb.Client implements it.
type MetricsSink interface {
	WritePresence(perFeed map[string]int, total int, score float64, at time.Time)
	WriteLight(brightness int, state, source string, at time.Time)
	WriteFeedStats(feedID string, fps, avgProcessingMS float64, framesProcessed uint64, at time.Time)
}

// Logger is the logging interface used by the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config tunes the supervisor.
type Config struct {
	TickInterval    time.Duration
	JoinTimeout     time.Duration
	RecentEvents    int
	StatusEvents    int
	MetricsInterval time.Duration

	Worker feed.WorkerConfig
	Rules  detection.Rules
}

// ConfigFromConfig builds a supervisor Config from the application config.
func ConfigFromConfig(cfg *config.Config) Config {
	return Config{
		TickInterval: cfg.Engine.TickInterval,
		JoinTimeout:  cfg.Engine.JoinTimeout,
		RecentEvents: cfg.Engine.RecentEvents,
		Worker: feed.WorkerConfig{
			FrameInterval:  cfg.Engine.FrameInterval,
			ReadBackoff:    cfg.Engine.ReadBackoff,
			ReconnectAfter: cfg.Engine.ReconnectAfter,
		},
		Rules: detection.RulesFromConfig(cfg.Detection),
	}
}

// Collaborators are the handles the supervisor works with. Events and
// Metrics are optional.
type Collaborators struct {
	Feeds   []config.FeedConfig
	Factory SourceFactory
	Engine  *light.Engine
	Scorer  presence.Scorer
	Events  EventSink
	Metrics MetricsSink
	Logger  Logger
}

// feedRuntime is one running feed.
type feedRuntime struct {
	cfg    config.FeedConfig
	spec   FeedSpec
	store  *feed.Store
	worker *feed.Worker
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor owns the feed workers and the decision loop.
type Supervisor struct {
	config     Config
	factory    SourceFactory
	engine     *light.Engine
	aggregator *presence.Aggregator
	events     EventSink
	metrics    MetricsSink
	logger     Logger
	now        func() time.Time

	// opMu serialises lifecycle operations.
	opMu sync.Mutex

	mu          sync.RWMutex
	feedCfgs    []config.FeedConfig
	feeds       map[string]*feedRuntime
	running     bool
	startedAt   time.Time
	activeFeed  string
	sessionID   string
	gate        *Gate
	runCtx      context.Context
	runCancel   context.CancelFunc
	loopDone    chan struct{}
	lastSignal  presence.Signal
	lastMetrics time.Time

	recent *eventRing
}

// New creates a stopped supervisor.
func New(cfg Config, c Collaborators) *Supervisor {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	if cfg.RecentEvents <= 0 {
		cfg.RecentEvents = DefaultRecentEvents
	}
	if cfg.StatusEvents <= 0 {
		cfg.StatusEvents = DefaultStatusEvents
	}
	if cfg.MetricsInterval <= 0 {
		cfg.MetricsInterval = DefaultMetricsInterval
	}

	logger := c.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	s := &Supervisor{
		config:     cfg,
		factory:    c.Factory,
		engine:     c.Engine,
		aggregator: presence.NewAggregator(c.Scorer),
		events:     c.Events,
		metrics:    c.Metrics,
		logger:     logger,
		now:        time.Now,
		feedCfgs:   append([]config.FeedConfig(nil), c.Feeds...),
		feeds:      make(map[string]*feedRuntime),
		recent:     newEventRing(cfg.RecentEvents),
	}
	if len(c.Feeds) > 0 {
		s.activeFeed = c.Feeds[0].ID
	}
	return s
}

// Start opens every feed and starts processing. If any feed fails to
// connect or deliver a first frame, every feed opened so far is closed,
// nothing is started and ErrStartFailed is returned.
func (s *Supervisor) Start(ctx context.Context) (Result, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.isRunning() {
		return Result{Message: "engine already running"}, nil
	}

	s.mu.RLock()
	cfgs := append([]config.FeedConfig(nil), s.feedCfgs...)
	s.mu.RUnlock()
	if len(cfgs) == 0 {
		return Result{Message: "no feeds configured"}, ErrNoFeeds
	}

	opened := make([]*feedRuntime, 0, len(cfgs))
	for _, fc := range cfgs {
		rt, err := s.openFeed(ctx, fc, true)
		if err != nil {
			for _, o := range opened {
				s.disconnect(o)
			}
			s.logger.Error("engine start aborted", "feed_id", fc.ID, "error", err)
			s.addEvent(fmt.Sprintf("Start failed: feed %s: %v", fc.ID, err))
			return Result{Message: fmt.Sprintf("feed %s failed to open", fc.ID)},
				fmt.Errorf("%w: feed %s: %w", ErrStartFailed, fc.ID, err)
		}
		opened = append(opened, rt)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	gate := NewGate()
	loopDone := make(chan struct{})
	now := s.now()

	var sessionID string
	if s.events != nil {
		id, err := s.events.StartSession(ctx, feedIDs(opened), now)
		if err != nil {
			s.logger.Warn("journal session not recorded", "error", err)
		}
		sessionID = id
	}

	s.mu.Lock()
	s.sessionID = sessionID
	s.runCtx = runCtx
	s.runCancel = cancel
	s.gate = gate
	s.feeds = make(map[string]*feedRuntime, len(opened))
	for _, rt := range opened {
		s.feeds[rt.cfg.ID] = rt
		s.spawnFeed(rt)
	}
	s.loopDone = loopDone
	s.running = true
	s.startedAt = now
	s.lastSignal = presence.Signal{}
	s.mu.Unlock()

	go s.decisionLoop(runCtx, gate, loopDone)

	s.logger.Info("engine started", "feeds", len(opened))
	s.addEvent(fmt.Sprintf("Engine started with %d feed(s)", len(opened)))
	return Result{Success: true, Message: "engine started"}, nil
}

// openFeed builds and connects one feed. With prime set the first frame
// is read to prove the source works and is discarded.
func (s *Supervisor) openFeed(ctx context.Context, fc config.FeedConfig, prime bool) (*feedRuntime, error) {
	spec, err := s.factory(fc)
	if err != nil {
		return nil, fmt.Errorf("building source: %w", err)
	}
	if err := spec.Source.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	if !prime {
		return s.newFeedRuntime(fc, spec), nil
	}
	if _, err := spec.Source.ReadFrame(ctx); err != nil {
		_ = spec.Source.Disconnect() //nolint:errcheck // already failing
		return nil, fmt.Errorf("reading first frame: %w", err)
	}
	return s.newFeedRuntime(fc, spec), nil
}

func (s *Supervisor) newFeedRuntime(fc config.FeedConfig, spec FeedSpec) *feedRuntime {
	store := feed.NewStore(fc.ID)
	worker := feed.NewWorker(spec.Source, spec.Detector, s.config.Rules, store, s.config.Worker)
	worker.SetLogger(s.logger)
	return &feedRuntime{cfg: fc, spec: spec, store: store, worker: worker}
}

// spawnFeed starts the worker loop. Caller holds mu.
func (s *Supervisor) spawnFeed(rt *feedRuntime) {
	ctx, cancel := context.WithCancel(s.runCtx)
	rt.cancel = cancel
	rt.done = make(chan struct{})
	s.aggregator.Register(rt.store)

	go func(gate *Gate) {
		defer close(rt.done)
		rt.worker.Run(ctx, gate)
	}(s.gate)
}

func (s *Supervisor) disconnect(rt *feedRuntime) {
	if err := rt.spec.Source.Disconnect(); err != nil {
		s.logger.Warn("feed disconnect failed", "feed_id", rt.cfg.ID, "error", err)
	}
}

// join waits for done up to the join timeout.
func (s *Supervisor) join(name string, done <-chan struct{}) bool {
	if done == nil {
		return true
	}
	timer := time.NewTimer(s.config.JoinTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		s.logger.Warn("loop did not stop in time", "loop", name, "timeout", s.config.JoinTimeout.String())
		return false
	}
}

// Stop halts every loop, closes the feeds, switches the light off and
// resets the engine.
func (s *Supervisor) Stop(ctx context.Context) (Result, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if !s.isRunning() {
		return Result{Message: "engine not running"}, nil
	}

	s.mu.Lock()
	s.runCancel()
	s.gate.Close()
	feeds := s.feeds
	loopDone := s.loopDone
	s.mu.Unlock()

	degraded := false
	for id, rt := range feeds {
		if !s.join("feed "+id, rt.done) {
			degraded = true
		}
	}
	if !s.join("decision", loopDone) {
		degraded = true
	}

	for id, rt := range feeds {
		s.disconnect(rt)
		s.aggregator.Unregister(id)
	}

	// Light off last, even if the caller's context is already done.
	offCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.JoinTimeout)
	dec := s.engine.ShutOff(offCtx)
	cancel()
	s.recordDecision(offCtx, dec, presence.Signal{}, s.now())
	s.engine.Reset()

	s.mu.Lock()
	s.running = false
	s.feeds = make(map[string]*feedRuntime)
	sessionID := s.sessionID
	s.sessionID = ""
	s.mu.Unlock()

	if s.events != nil && sessionID != "" {
		if err := s.events.EndSession(context.WithoutCancel(ctx), sessionID, "stopped", s.now()); err != nil {
			s.logger.Warn("journal session not closed", "session_id", sessionID, "error", err)
		}
	}

	msg := "engine stopped"
	if degraded {
		msg = "engine stopped; some loops did not exit in time"
	}
	s.logger.Info("engine stopped", "degraded", degraded)
	s.addEvent("Engine stopped")
	return Result{Success: true, Message: msg, Degraded: degraded}, nil
}

// Pause parks every loop. No frames are read or scored while paused.
func (s *Supervisor) Pause() (Result, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.RLock()
	running, gate := s.running, s.gate
	s.mu.RUnlock()

	if !running {
		return Result{Message: "engine not running"}, nil
	}
	if !gate.Pause() {
		return Result{Message: "engine already paused"}, nil
	}
	s.logger.Info("engine paused")
	s.addEvent("Engine paused")
	return Result{Success: true, Message: "engine paused"}, nil
}

// Resume releases paused loops.
func (s *Supervisor) Resume() (Result, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.RLock()
	running, gate := s.running, s.gate
	s.mu.RUnlock()

	if !running {
		return Result{Message: "engine not running"}, nil
	}
	if !gate.Resume() {
		return Result{Message: "engine not paused"}, nil
	}
	s.logger.Info("engine resumed")
	s.addEvent("Engine resumed")
	return Result{Success: true, Message: "engine resumed"}, nil
}

// SwitchFeed replaces the source of a feed. While running, the feed's
// loop is stopped, the new source is opened and a fresh loop started; if
// the new source fails the old one is reconnected. While paused the new
// source is connected but not read. While stopped only the configuration
// is replaced.
func (s *Supervisor) SwitchFeed(ctx context.Context, feedID string, fc config.FeedConfig) (Result, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	fc.ID = feedID

	s.mu.Lock()
	idx := -1
	for i, c := range s.feedCfgs {
		if c.ID == feedID {
			idx = i
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return Result{Message: "unknown feed"}, fmt.Errorf("%w: %s", ErrFeedNotFound, feedID)
	}
	old := s.feeds[feedID]
	running, gate := s.running, s.gate
	s.mu.Unlock()

	if !running || old == nil {
		s.mu.Lock()
		s.feedCfgs[idx] = fc
		s.mu.Unlock()
		return Result{Success: true, Message: "feed configuration updated"}, nil
	}

	old.cancel()
	degraded := !s.join("feed "+feedID, old.done)
	s.disconnect(old)

	// A paused engine must not consume frames, so the new source is only
	// connected and its first read waits for Resume.
	rt, err := s.openFeed(ctx, fc, gate == nil || !gate.Paused())
	if err != nil {
		s.logger.Error("feed switch failed, restoring previous source", "feed_id", feedID, "error", err)
		if rerr := old.spec.Source.Connect(ctx); rerr != nil {
			s.logger.Error("previous source could not be restored", "feed_id", feedID, "error", rerr)
		}
		s.mu.Lock()
		s.spawnFeed(old)
		s.mu.Unlock()
		s.addEvent(fmt.Sprintf("Switch of feed %s failed: %v", feedID, err))
		return Result{Message: "feed switch failed", Degraded: degraded},
			fmt.Errorf("%w: %s: %w", ErrSwitchFailed, feedID, err)
	}

	s.mu.Lock()
	s.feedCfgs[idx] = fc
	s.feeds[feedID] = rt
	s.spawnFeed(rt)
	s.mu.Unlock()

	s.logger.Info("feed switched", "feed_id", feedID)
	s.addEvent(fmt.Sprintf("Feed %s switched", feedID))
	return Result{Success: true, Message: "feed switched", Degraded: degraded}, nil
}

// SetActiveFeed selects the feed whose frames ActiveFrame returns.
func (s *Supervisor) SetActiveFeed(feedID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.feedCfgs {
		if c.ID == feedID {
			s.activeFeed = feedID
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrFeedNotFound, feedID)
}

// ActiveFrame returns the latest frame of the active feed.
func (s *Supervisor) ActiveFrame() (feed.Frame, bool) {
	s.mu.RLock()
	rt := s.feeds[s.activeFeed]
	s.mu.RUnlock()

	if rt == nil {
		return feed.Frame{}, false
	}
	snap := rt.store.Load()
	if snap == nil || !snap.HasFrame {
		return feed.Frame{}, false
	}
	return snap.Frame, true
}

// ResetStats zeroes every worker's counters.
func (s *Supervisor) ResetStats() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rt := range s.feeds {
		rt.worker.ResetStats()
	}
	s.addEvent("Statistics reset")
}

// TurnOn sets a manual brightness.
func (s *Supervisor) TurnOn(ctx context.Context, brightness int) light.Decision {
	now := s.now()
	dec := s.engine.TurnOn(ctx, brightness, now)
	s.recordDecision(ctx, dec, s.signal(), now)
	return dec
}

// TurnOff switches the light off manually.
func (s *Supervisor) TurnOff(ctx context.Context) light.Decision {
	now := s.now()
	dec := s.engine.TurnOff(ctx)
	s.recordDecision(ctx, dec, s.signal(), now)
	return dec
}

func (s *Supervisor) decisionLoop(ctx context.Context, gate *Gate, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A pause that lands while waiting on the ticker must hold
			// this tick too.
			if !gate.Wait() || ctx.Err() != nil {
				return
			}
			s.tick(ctx, s.now())
		}
	}
}

// tick runs one aggregate-decide step.
func (s *Supervisor) tick(ctx context.Context, now time.Time) {
	sig := s.aggregator.Aggregate()
	sig.At = now

	s.mu.Lock()
	prevCount := s.lastSignal.TotalCount
	s.lastSignal = sig
	writeMetrics := now.Sub(s.lastMetrics) >= s.config.MetricsInterval
	if writeMetrics {
		s.lastMetrics = now
	}
	s.mu.Unlock()

	if sig.TotalCount != prevCount {
		s.addEvent(fmt.Sprintf("People count changed: %d -> %d", prevCount, sig.TotalCount))
	}

	dec := s.engine.Update(ctx, sig, now)
	s.recordDecision(ctx, dec, sig, now)

	if writeMetrics && s.metrics != nil {
		s.metrics.WritePresence(sig.PerFeedCounts, sig.TotalCount, sig.Score, now)
		s.writeFeedStats(now)
	}
}

func (s *Supervisor) writeFeedStats(now time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, rt := range s.feeds {
		st := rt.worker.Stats()
		s.metrics.WriteFeedStats(id, st.FPS, st.AvgProcessingTimeMS, st.FramesProcessed, now)
	}
}

// recordDecision logs, journals and meters a light change.
func (s *Supervisor) recordDecision(ctx context.Context, dec light.Decision, sig presence.Signal, now time.Time) {
	if !dec.Changed {
		return
	}

	if dec.Target > 0 {
		s.addEvent(fmt.Sprintf("Lights ON at %d%% (%s, %d people)", dec.Target, dec.Reason, sig.TotalCount))
	} else {
		s.addEvent(fmt.Sprintf("Lights OFF (%s)", dec.Reason))
	}

	if s.metrics != nil {
		s.metrics.WriteLight(dec.Target, dec.State.String(), dec.Command.Source, now)
	}

	if s.events == nil {
		return
	}
	s.mu.RLock()
	sessionID := s.sessionID
	s.mu.RUnlock()

	ev := journal.LightEvent{
		SessionID:          sessionID,
		OccurredAt:         now,
		Brightness:         dec.Target,
		PreviousBrightness: dec.Previous,
		State:              dec.State.String(),
		Source:             dec.Command.Source,
		PeopleCount:        sig.TotalCount,
		Score:              sig.Score,
		Success:            dec.Err == nil,
	}
	if dec.Err != nil {
		ev.Error = dec.Err.Error()
	}
	if err := s.events.RecordLightEvent(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.Warn("light event not journaled", "error", err)
	}
}

func (s *Supervisor) addEvent(msg string) {
	s.recent.add(Event{Timestamp: s.now(), Message: msg})
}

func (s *Supervisor) isRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Supervisor) signal() presence.Signal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSignal
}

func feedIDs(rts []*feedRuntime) []string {
	ids := make([]string, 0, len(rts))
	for _, rt := range rts {
		ids = append(ids, rt.cfg.ID)
	}
	return ids
}
