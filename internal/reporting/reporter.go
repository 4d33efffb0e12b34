package reporting

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sarontebebe7/presencelight/internal/supervisor"
)

// DefaultInterval is used when Config.Interval is zero.
const DefaultInterval = 30 * time.Second

// checkTimeout bounds each dependency health check.
const checkTimeout = 5 * time.Second

// Health values carried in the status message.
const (
	HealthStarting = "starting"
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthStopped  = "stopped"
	HealthStopping = "stopping"
)

// Publisher is the interface for publishing status messages.
// This is typically implemented by an MQTT client.
type Publisher interface {
	PublishJSON(topic string, v any, qos byte, retained bool) error
}

// HealthChecker is a dependency whose failure degrades reported health.
// database.DB, mqtt.Client and influxdb.Client implement it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// StatusSource provides the engine status to report.
type StatusSource interface {
	Status() supervisor.Status
}

// Logger is the logging interface used by the reporter.
type Logger interface {
	Error(msg string, args ...any)
}

// Message is the retained status payload.
type Message struct {
	Health    string            `json:"health"`
	Reason    string            `json:"reason,omitempty"`
	Version   string            `json:"version,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    int64             `json:"uptime_seconds"`
	Engine    supervisor.Status `json:"engine"`
}

// Config holds configuration for the reporter.
type Config struct {
	Version  string
	Topic    string
	Interval time.Duration
	QoS      byte
}

// Reporter periodically publishes the engine status as a retained
// message so late subscribers see the current state immediately.
type Reporter struct {
	cfg       Config
	publisher Publisher
	source    StatusSource
	startTime time.Time
	now       func() time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex

	checksMu sync.RWMutex
	checks   map[string]HealthChecker
}

// New creates a reporter. Call Start to begin reporting.
func New(cfg Config, publisher Publisher, source StatusSource) *Reporter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	r := &Reporter{
		cfg:       cfg,
		publisher: publisher,
		source:    source,
		now:       time.Now,
		done:      make(chan struct{}),
		checks:    make(map[string]HealthChecker),
	}
	r.startTime = r.now()
	return r
}

// SetLogger sets the logger for this reporter.
func (r *Reporter) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

// AddCheck registers a dependency checked on every healthy report.
// A failing check reports degraded with the name and error as reason.
func (r *Reporter) AddCheck(name string, checker HealthChecker) {
	if checker == nil {
		return
	}
	r.checksMu.Lock()
	r.checks[name] = checker
	r.checksMu.Unlock()
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (r *Reporter) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" message.
// Safe to call multiple times.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		r.publish(HealthStopping, "", r.source.Status())
	})
}

// PublishStarting publishes a "starting" message before the engine runs.
func (r *Reporter) PublishStarting() error {
	return r.publish(HealthStarting, "engine starting", r.source.Status())
}

// PublishNow publishes the current status immediately.
func (r *Reporter) PublishNow(ctx context.Context) error {
	st := r.source.Status()
	health, reason := healthOf(st)
	if health == HealthHealthy {
		if failed := r.runChecks(ctx); failed != "" {
			health, reason = HealthDegraded, failed
		}
	}
	return r.publish(health, reason, st)
}

// runChecks returns the reason of the first failing check in name order,
// or "" when all pass.
func (r *Reporter) runChecks(ctx context.Context) string {
	r.checksMu.RLock()
	names := make([]string, 0, len(r.checks))
	checks := make(map[string]HealthChecker, len(r.checks))
	for name, c := range r.checks {
		names = append(names, name)
		checks[name] = c
	}
	r.checksMu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := checks[name].HealthCheck(checkCtx)
		cancel()
		if err != nil {
			return name + ": " + err.Error()
		}
	}
	return ""
}

func (r *Reporter) reportLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	if err := r.PublishNow(ctx); err != nil {
		r.logError("failed to publish initial status", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			if err := r.PublishNow(ctx); err != nil {
				r.logError("failed to publish status", err)
			}
		}
	}
}

// healthOf maps an engine status to a health value and reason.
func healthOf(st supervisor.Status) (string, string) {
	if !st.Running {
		return HealthStopped, ""
	}
	if st.Light.LastError != "" {
		return HealthDegraded, "light: " + st.Light.LastError
	}
	for _, id := range st.Feeds {
		fs, ok := st.PerFeed[id]
		if !ok {
			continue
		}
		if fs.Stale || !fs.Connected {
			return HealthDegraded, "feed " + id + " unavailable"
		}
	}
	return HealthHealthy, ""
}

func (r *Reporter) publish(health, reason string, st supervisor.Status) error {
	if r.publisher == nil || r.cfg.Topic == "" {
		return nil
	}

	now := r.now()
	msg := Message{
		Health:    health,
		Reason:    reason,
		Version:   r.cfg.Version,
		Timestamp: now.UTC(),
		Uptime:    int64(now.Sub(r.startTime).Seconds()),
		Engine:    st,
	}
	return r.publisher.PublishJSON(r.cfg.Topic, msg, r.cfg.QoS, true)
}

func (r *Reporter) logError(msg string, err error) {
	r.loggerMu.RLock()
	logger := r.logger
	r.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
