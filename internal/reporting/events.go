package reporting

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sarontebebe7/presencelight/internal/journal"
	"github.com/sarontebebe7/presencelight/internal/supervisor"
)

// Event types published on the core event topics.
const (
	EventSessionStarted = "session_started"
	EventSessionEnded   = "session_ended"
	EventLightChanged   = "light_changed"
)

// SessionEvent is the payload of session_started and session_ended.
type SessionEvent struct {
	SessionID string    `json:"session_id"`
	Feeds     []string  `json:"feeds,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// EventPublisher forwards engine events to a journal and publishes each
// one on topicFor(eventType). The journal is optional; without one,
// session IDs are generated here.
type EventPublisher struct {
	next      supervisor.EventSink
	publisher Publisher
	topicFor  func(eventType string) string
	qos       byte

	logger   Logger
	loggerMu sync.RWMutex
}

// NewEventPublisher wraps next, which may be nil.
func NewEventPublisher(next supervisor.EventSink, publisher Publisher, topicFor func(string) string, qos byte) *EventPublisher {
	return &EventPublisher{
		next:      next,
		publisher: publisher,
		topicFor:  topicFor,
		qos:       qos,
	}
}

// SetLogger sets the logger for publish failures.
func (p *EventPublisher) SetLogger(logger Logger) {
	p.loggerMu.Lock()
	p.logger = logger
	p.loggerMu.Unlock()
}

// StartSession records the session in the journal, then announces it.
func (p *EventPublisher) StartSession(ctx context.Context, feeds []string, at time.Time) (string, error) {
	id := "ses-" + uuid.NewString()[:8]
	if p.next != nil {
		var err error
		if id, err = p.next.StartSession(ctx, feeds, at); err != nil {
			return "", err
		}
	}
	p.emit(EventSessionStarted, SessionEvent{SessionID: id, Feeds: feeds, At: at.UTC()})
	return id, nil
}

// EndSession closes the session in the journal, then announces it.
func (p *EventPublisher) EndSession(ctx context.Context, id, reason string, at time.Time) error {
	if p.next != nil {
		if err := p.next.EndSession(ctx, id, reason, at); err != nil {
			return err
		}
	}
	p.emit(EventSessionEnded, SessionEvent{SessionID: id, Reason: reason, At: at.UTC()})
	return nil
}

// RecordLightEvent journals and publishes a light change. A journal
// failure is returned but the event is still published.
func (p *EventPublisher) RecordLightEvent(ctx context.Context, ev journal.LightEvent) error {
	var err error
	if p.next != nil {
		err = p.next.RecordLightEvent(ctx, ev)
	}
	p.emit(EventLightChanged, ev)
	return err
}

// emit is best effort: a broker outage must not fail journaling.
func (p *EventPublisher) emit(eventType string, v any) {
	if p.publisher == nil || p.topicFor == nil {
		return
	}
	if err := p.publisher.PublishJSON(p.topicFor(eventType), v, p.qos, false); err != nil {
		p.loggerMu.RLock()
		logger := p.logger
		p.loggerMu.RUnlock()
		if logger != nil {
			logger.Error("failed to publish engine event", "type", eventType, "error", err)
		}
	}
}
