package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sarontebebe7/presencelight/internal/supervisor"
)

// ─── Mock Publisher ─────────────────────────────────────────────────

type mockPublisher struct {
	mu       sync.Mutex
	err      error
	messages []publishedMessage
}

type publishedMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func (m *mockPublisher) PublishJSON(topic string, v any, qos byte, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, publishedMessage{
		topic:    topic,
		payload:  payload,
		qos:      qos,
		retained: retained,
	})
	return nil
}

func (m *mockPublisher) getMessages() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]publishedMessage, len(m.messages))
	copy(result, m.messages)
	return result
}

// ─── Mock Status Source ─────────────────────────────────────────────

type staticSource struct {
	mu sync.Mutex
	st supervisor.Status
}

func (s *staticSource) Status() supervisor.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

// ─── Mock Health Checker ────────────────────────────────────────────

type mockChecker struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (c *mockChecker) HealthCheck(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("health check without deadline")
	}
	return c.err
}

func (c *mockChecker) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// ─── Mock Logger ────────────────────────────────────────────────────

type recordingLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.msgs = append(l.msgs, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.msgs)
}

func runningStatus() supervisor.Status {
	return supervisor.Status{
		Running:     true,
		PeopleCount: 2,
		Feeds:       []string{"cam-a", "cam-b"},
		PerFeed: map[string]supervisor.FeedStatus{
			"cam-a": {PeopleCount: 2, Connected: true},
			"cam-b": {Connected: true},
		},
		Light: supervisor.LightStatus{Brightness: 68, On: true, State: "on", Mode: "simulated"},
	}
}

func decode(t *testing.T, payload []byte) Message {
	t.Helper()
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	return msg
}

func TestNewDefaultInterval(t *testing.T) {
	r := New(Config{Topic: "t"}, &mockPublisher{}, &staticSource{})
	if r.cfg.Interval != DefaultInterval {
		t.Errorf("Interval = %v, want %v", r.cfg.Interval, DefaultInterval)
	}
}

func TestPublishNow(t *testing.T) {
	pub := &mockPublisher{}
	src := &staticSource{st: runningStatus()}
	r := New(Config{Topic: "presencelight/room/core/status", Version: "1.2.0", QoS: 1}, pub, src)

	if err := r.PublishNow(context.Background()); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	msgs := pub.getMessages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.topic != "presencelight/room/core/status" {
		t.Errorf("topic = %q", m.topic)
	}
	if !m.retained {
		t.Error("status should be retained")
	}
	if m.qos != 1 {
		t.Errorf("qos = %d, want 1", m.qos)
	}

	msg := decode(t, m.payload)
	if msg.Health != HealthHealthy {
		t.Errorf("Health = %q, want %q", msg.Health, HealthHealthy)
	}
	if msg.Version != "1.2.0" {
		t.Errorf("Version = %q", msg.Version)
	}
	if msg.Engine.PeopleCount != 2 || msg.Engine.Light.Brightness != 68 {
		t.Errorf("Engine = %+v", msg.Engine)
	}
}

func TestHealthOf(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*supervisor.Status)
		want   string
	}{
		{"healthy", func(*supervisor.Status) {}, HealthHealthy},
		{"stopped", func(s *supervisor.Status) { s.Running = false }, HealthStopped},
		{"light error", func(s *supervisor.Status) { s.Light.LastError = "timeout" }, HealthDegraded},
		{"stale feed", func(s *supervisor.Status) {
			fs := s.PerFeed["cam-b"]
			fs.Stale = true
			s.PerFeed["cam-b"] = fs
		}, HealthDegraded},
		{"disconnected feed", func(s *supervisor.Status) {
			fs := s.PerFeed["cam-a"]
			fs.Connected = false
			s.PerFeed["cam-a"] = fs
		}, HealthDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := runningStatus()
			tt.modify(&st)
			got, reason := healthOf(st)
			if got != tt.want {
				t.Errorf("healthOf() = %q (%q), want %q", got, reason, tt.want)
			}
			if got == HealthDegraded && reason == "" {
				t.Error("degraded health should carry a reason")
			}
		})
	}
}

func TestPublishStarting(t *testing.T) {
	pub := &mockPublisher{}
	r := New(Config{Topic: "t"}, pub, &staticSource{})

	if err := r.PublishStarting(); err != nil {
		t.Fatalf("PublishStarting() error = %v", err)
	}
	msg := decode(t, pub.getMessages()[0].payload)
	if msg.Health != HealthStarting {
		t.Errorf("Health = %q, want %q", msg.Health, HealthStarting)
	}
}

func TestStartStop(t *testing.T) {
	pub := &mockPublisher{}
	r := New(Config{Topic: "t", Interval: 10 * time.Millisecond}, pub, &staticSource{st: runningStatus()})

	r.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	r.Stop()
	r.Stop() // second call must not panic

	msgs := pub.getMessages()
	if len(msgs) < 2 {
		t.Fatalf("published %d messages, want at least 2", len(msgs))
	}
	last := decode(t, msgs[len(msgs)-1].payload)
	if last.Health != HealthStopping {
		t.Errorf("final Health = %q, want %q", last.Health, HealthStopping)
	}

	count := len(msgs)
	time.Sleep(30 * time.Millisecond)
	if got := len(pub.getMessages()); got != count {
		t.Errorf("published %d messages after Stop, want %d", got, count)
	}
}

func TestContextCancelStopsLoop(t *testing.T) {
	pub := &mockPublisher{}
	r := New(Config{Topic: "t", Interval: 10 * time.Millisecond}, pub, &staticSource{})

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("report loop did not exit on context cancel")
	}
}

func TestPublishErrorsAreLogged(t *testing.T) {
	pub := &mockPublisher{err: errors.New("broker gone")}
	logger := &recordingLogger{}
	r := New(Config{Topic: "t", Interval: time.Hour}, pub, &staticSource{})
	r.SetLogger(logger)

	r.Start(context.Background())
	deadline := time.Now().Add(time.Second)
	for logger.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	r.Stop()

	if logger.count() == 0 {
		t.Error("publish failure was not logged")
	}
}

func TestWithNoPublisher(t *testing.T) {
	r := New(Config{Topic: "t"}, nil, &staticSource{})
	if err := r.PublishNow(context.Background()); err != nil {
		t.Errorf("PublishNow() without publisher error = %v", err)
	}
}

func TestPublishNow_FailingCheckDegrades(t *testing.T) {
	pub := &mockPublisher{}
	r := New(Config{Topic: "t"}, pub, &staticSource{st: runningStatus()})
	r.AddCheck("mqtt", &mockChecker{})
	r.AddCheck("database", &mockChecker{err: errors.New("disk I/O error")})
	r.AddCheck("nil", nil)

	if err := r.PublishNow(context.Background()); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}
	msg := decode(t, pub.getMessages()[0].payload)
	if msg.Health != HealthDegraded {
		t.Errorf("Health = %q, want %q", msg.Health, HealthDegraded)
	}
	if msg.Reason != "database: disk I/O error" {
		t.Errorf("Reason = %q, want %q", msg.Reason, "database: disk I/O error")
	}
}

func TestPublishNow_ChecksOnlyWhenHealthy(t *testing.T) {
	tests := []struct {
		name       string
		st         supervisor.Status
		wantHealth string
		wantCalls  int
	}{
		{"healthy runs checks", runningStatus(), HealthHealthy, 1},
		{"stopped skips checks", supervisor.Status{}, HealthStopped, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &mockPublisher{}
			checker := &mockChecker{}
			r := New(Config{Topic: "t"}, pub, &staticSource{st: tt.st})
			r.AddCheck("influxdb", checker)

			if err := r.PublishNow(context.Background()); err != nil {
				t.Fatalf("PublishNow() error = %v", err)
			}
			if got := decode(t, pub.getMessages()[0].payload).Health; got != tt.wantHealth {
				t.Errorf("Health = %q, want %q", got, tt.wantHealth)
			}
			if got := checker.callCount(); got != tt.wantCalls {
				t.Errorf("check calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}
