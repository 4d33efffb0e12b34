package reporting

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sarontebebe7/presencelight/internal/journal"
)

// ─── Mock Journal ───────────────────────────────────────────────────

type mockJournal struct {
	mu       sync.Mutex
	err      error
	ended    []string
	lightEvs []journal.LightEvent
}

func (m *mockJournal) StartSession(_ context.Context, _ []string, _ time.Time) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return "ses-journal", nil
}

func (m *mockJournal) EndSession(_ context.Context, id, _ string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended = append(m.ended, id)
	return m.err
}

func (m *mockJournal) RecordLightEvent(_ context.Context, ev journal.LightEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lightEvs = append(m.lightEvs, ev)
	return m.err
}

func eventTopic(eventType string) string {
	return "presencelight/room/core/event/" + eventType
}

func TestEventPublisher_Session(t *testing.T) {
	pub := &mockPublisher{}
	j := &mockJournal{}
	p := NewEventPublisher(j, pub, eventTopic, 1)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	id, err := p.StartSession(context.Background(), []string{"cam-a"}, at)
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if id != "ses-journal" {
		t.Errorf("session id = %q, want the journal's id", id)
	}
	if err := p.EndSession(context.Background(), id, "stopped", at.Add(time.Minute)); err != nil {
		t.Fatalf("EndSession() error = %v", err)
	}

	msgs := pub.getMessages()
	if len(msgs) != 2 {
		t.Fatalf("published %d events, want 2", len(msgs))
	}
	if msgs[0].topic != eventTopic(EventSessionStarted) || msgs[1].topic != eventTopic(EventSessionEnded) {
		t.Errorf("topics = %q, %q", msgs[0].topic, msgs[1].topic)
	}
	if msgs[0].retained {
		t.Error("events should not be retained")
	}
	if !strings.Contains(string(msgs[1].payload), `"reason":"stopped"`) {
		t.Errorf("session_ended payload = %s", msgs[1].payload)
	}
	if len(j.ended) != 1 || j.ended[0] != id {
		t.Errorf("journal ended = %v", j.ended)
	}
}

func TestEventPublisher_WithoutJournal(t *testing.T) {
	pub := &mockPublisher{}
	p := NewEventPublisher(nil, pub, eventTopic, 0)

	id, err := p.StartSession(context.Background(), nil, time.Now())
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if !strings.HasPrefix(id, "ses-") {
		t.Errorf("generated session id = %q", id)
	}
	if err := p.RecordLightEvent(context.Background(), journal.LightEvent{Brightness: 40}); err != nil {
		t.Errorf("RecordLightEvent() error = %v", err)
	}
	if got := len(pub.getMessages()); got != 2 {
		t.Errorf("published %d events, want 2", got)
	}
}

func TestEventPublisher_JournalFailure(t *testing.T) {
	pub := &mockPublisher{}
	j := &mockJournal{err: errors.New("database is locked")}
	p := NewEventPublisher(j, pub, eventTopic, 0)

	if _, err := p.StartSession(context.Background(), nil, time.Now()); err == nil {
		t.Error("StartSession() should surface the journal error")
	}
	if len(pub.getMessages()) != 0 {
		t.Error("failed session start should not be announced")
	}

	err := p.RecordLightEvent(context.Background(), journal.LightEvent{Brightness: 70, Success: true})
	if !errors.Is(err, j.err) {
		t.Errorf("RecordLightEvent() error = %v, want journal error", err)
	}
	msgs := pub.getMessages()
	if len(msgs) != 1 || msgs[0].topic != eventTopic(EventLightChanged) {
		t.Fatalf("light change not published: %+v", msgs)
	}
}

func TestEventPublisher_PublishFailureIsLogged(t *testing.T) {
	pub := &mockPublisher{err: errors.New("not connected")}
	logger := &recordingLogger{}
	p := NewEventPublisher(&mockJournal{}, pub, eventTopic, 0)
	p.SetLogger(logger)

	if err := p.RecordLightEvent(context.Background(), journal.LightEvent{}); err != nil {
		t.Errorf("RecordLightEvent() error = %v, want nil on broker failure", err)
	}
	if logger.count() != 1 {
		t.Errorf("logged %d errors, want 1", logger.count())
	}
}
