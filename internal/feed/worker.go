package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/sarontebebe7/presencelight/internal/detection"
)

// Default worker settings.
const (
	DefaultReadBackoff    = time.Second
	DefaultReconnectAfter = 5
	DefaultTimingWindow   = 30

	fpsWindow = time.Second
)

// WorkerConfig tunes a Worker.
type WorkerConfig struct {
	// FrameInterval runs detection on every Nth frame read. Values below
	// 1 are treated as 1.
	FrameInterval int

	// ReadBackoff is the pause after a failed read.
	ReadBackoff time.Duration

	// ReconnectAfter asks the source to reconnect after this many
	// consecutive read failures. Zero disables reconnects.
	ReconnectAfter int

	// TimingWindow is the number of processing-time samples averaged.
	TimingWindow int
}

// Gate parks a loop while the engine is paused. Wait returns false once
// the gate is closed and the loop must exit.
type Gate interface {
	Wait() bool
}

// Logger is the logging interface used by the worker.
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

// Worker processes frames for a single feed.
type Worker struct {
	id       string
	source   VideoSource
	detector Detector
	rules    detection.Rules
	store    *Store
	config   WorkerConfig
	logger   Logger
	now      func() time.Time

	mu             sync.Mutex
	stats          Stats
	samples        []float64
	nextSample     int
	failures       int
	fpsWindowStart time.Time
	fpsFrames      int

	// Last detection result, republished on frames that skip detection.
	last *Snapshot
}

// NewWorker creates a worker that publishes to store.
func NewWorker(source VideoSource, detector Detector, rules detection.Rules, store *Store, cfg WorkerConfig) *Worker {
	if cfg.FrameInterval < 1 {
		cfg.FrameInterval = 1
	}
	if cfg.ReadBackoff <= 0 {
		cfg.ReadBackoff = DefaultReadBackoff
	}
	if cfg.ReconnectAfter < 0 {
		cfg.ReconnectAfter = 0
	}
	if cfg.TimingWindow <= 0 {
		cfg.TimingWindow = DefaultTimingWindow
	}

	return &Worker{
		id:       store.ID(),
		source:   source,
		detector: detector,
		rules:    rules,
		store:    store,
		config:   cfg,
		logger:   noopLogger{},
		now:      time.Now,
		samples:  make([]float64, 0, cfg.TimingWindow),
	}
}

// SetLogger sets the logger for the worker.
func (w *Worker) SetLogger(logger Logger) {
	if logger != nil {
		w.logger = logger
	}
}

// ID returns the feed ID.
func (w *Worker) ID() string {
	return w.id
}

// Store returns the store the worker publishes to.
func (w *Worker) Store() *Store {
	return w.store
}

// Source returns the worker's video source.
func (w *Worker) Source() VideoSource {
	return w.source
}

// Run processes frames until ctx is cancelled or the gate closes.
func (w *Worker) Run(ctx context.Context, gate Gate) {
	w.logger.Debug("feed loop started", "feed_id", w.id)
	defer w.logger.Debug("feed loop stopped", "feed_id", w.id)

	for {
		if !gate.Wait() || ctx.Err() != nil {
			return
		}

		if err := w.ProcessOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.config.ReadBackoff):
			}
		}
	}
}

// ProcessOnce reads one frame and publishes the result. It returns an
// error only when the read failed; detector errors count as an empty
// result.
func (w *Worker) ProcessOnce(ctx context.Context) error {
	frame, err := w.source.ReadFrame(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.readFailed(ctx, err)
		return fmt.Errorf("%w: feed %s: %v", ErrReadFailed, w.id, err)
	}

	w.mu.Lock()
	w.failures = 0
	w.stats.FramesRead++
	detect := (w.stats.FramesRead-1)%uint64(w.config.FrameInterval) == 0
	w.mu.Unlock()

	if !detect {
		w.republish(frame)
		return nil
	}

	start := w.now()
	all, err := w.detector.Detect(ctx, frame)
	if err != nil {
		w.logger.Warn("detector failed, treating frame as empty",
			"feed_id", w.id,
			"seq", frame.Seq,
			"error", err,
		)
		all = nil
	}
	filtered, triggering := w.rules.Apply(all)
	elapsed := w.now().Sub(start)

	w.mu.Lock()
	defer w.mu.Unlock()

	if err != nil {
		w.stats.DetectErrors++
		w.stats.LastError = fmt.Errorf("%w: %v", ErrDetectFailed, err).Error()
	}
	w.stats.FramesProcessed++
	w.recordTiming(elapsed)
	w.tickFPS()

	snap := &Snapshot{
		FeedID:             w.id,
		Frame:              frame,
		HasFrame:           true,
		AllDetections:      all,
		Triggering:         triggering,
		FilteredDetections: filtered,
		DetectedWidth:      frame.Width,
		DetectedHeight:     frame.Height,
		Stats:              w.stats,
		UpdatedAt:          w.now(),
	}
	w.last = snap
	w.store.Publish(snap)
	return nil
}

// republish refreshes the snapshot with the new frame and stats but keeps
// the last detection result together with the size it was measured on.
func (w *Worker) republish(frame Frame) {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := &Snapshot{
		FeedID:    w.id,
		Frame:     frame,
		HasFrame:  true,
		Stats:     w.stats,
		UpdatedAt: w.now(),
	}
	if w.last != nil && !w.last.Stale {
		snap.AllDetections = w.last.AllDetections
		snap.Triggering = w.last.Triggering
		snap.FilteredDetections = w.last.FilteredDetections
		snap.DetectedWidth = w.last.DetectedWidth
		snap.DetectedHeight = w.last.DetectedHeight
	}
	w.store.Publish(snap)
}

func (w *Worker) readFailed(ctx context.Context, err error) {
	w.mu.Lock()
	w.failures++
	failures := w.failures
	w.stats.ReadErrors++
	w.stats.LastError = err.Error()

	snap := &Snapshot{
		FeedID:    w.id,
		Stats:     w.stats,
		UpdatedAt: w.now(),
		Stale:     true,
	}
	if w.last != nil {
		snap.Frame = w.last.Frame
		snap.HasFrame = w.last.HasFrame
	}
	w.last = snap
	w.store.Publish(snap)
	w.mu.Unlock()

	w.logger.Warn("frame read failed",
		"feed_id", w.id,
		"consecutive_failures", failures,
		"error", err,
	)

	if w.config.ReconnectAfter > 0 && failures%w.config.ReconnectAfter == 0 {
		w.logger.Info("reconnecting feed source", "feed_id", w.id, "after_failures", failures)
		if rerr := w.source.Reconnect(ctx); rerr != nil {
			w.logger.Warn("feed reconnect failed", "feed_id", w.id, "error", rerr)
		}
	}
}

// recordTiming keeps the last TimingWindow samples. Caller holds mu.
func (w *Worker) recordTiming(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	if len(w.samples) < w.config.TimingWindow {
		w.samples = append(w.samples, ms)
	} else {
		w.samples[w.nextSample] = ms
		w.nextSample = (w.nextSample + 1) % w.config.TimingWindow
	}
	w.stats.AvgProcessingTimeMS = stat.Mean(w.samples, nil)
}

// tickFPS counts processed frames over one-second windows. Caller holds mu.
func (w *Worker) tickFPS() {
	now := w.now()
	if w.fpsWindowStart.IsZero() {
		w.fpsWindowStart = now
	}
	w.fpsFrames++

	if elapsed := now.Sub(w.fpsWindowStart); elapsed >= fpsWindow {
		w.stats.FPS = float64(w.fpsFrames) / elapsed.Seconds()
		w.fpsFrames = 0
		w.fpsWindowStart = now
	}
}

// Stats returns a copy of the worker counters.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// ResetStats zeroes the counters and timing window.
func (w *Worker) ResetStats() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stats = Stats{}
	w.samples = w.samples[:0]
	w.nextSample = 0
	w.fpsFrames = 0
	w.fpsWindowStart = time.Time{}
}
