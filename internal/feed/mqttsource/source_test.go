package mqttsource

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sarontebebe7/presencelight/internal/detection"
	"github.com/sarontebebe7/presencelight/internal/feed"
	"github.com/sarontebebe7/presencelight/internal/infrastructure/config"
	"github.com/sarontebebe7/presencelight/internal/infrastructure/mqtt"
)

// ─── Mock Subscriber ────────────────────────────────────────────────

type mockSubscriber struct {
	mu           sync.Mutex
	handlers     map[string]mqtt.MessageHandler
	subscribes   int
	unsubscribes int
	subErr       error
}

func newMockSubscriber() *mockSubscriber {
	return &mockSubscriber{handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *mockSubscriber) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subErr != nil {
		return m.subErr
	}
	m.subscribes++
	m.handlers[topic] = handler
	return nil
}

func (m *mockSubscriber) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribes++
	delete(m.handlers, topic)
	return nil
}

func (m *mockSubscriber) deliver(t *testing.T, topic, payload string) error {
	t.Helper()
	m.mu.Lock()
	h, ok := m.handlers[topic]
	m.mu.Unlock()
	if !ok {
		t.Fatalf("no handler subscribed on %s", topic)
	}
	return h(topic, []byte(payload))
}

// ─── Tests ──────────────────────────────────────────────────────────

const doorTopic = "presencelight/lab/feed/cam-door/detections"

func newDoorSource(sub Subscriber) *Source {
	return New(config.FeedConfig{ID: "cam-door", FrameTimeout: 50 * time.Millisecond}, sub, doorTopic, 1)
}

func TestNew_TopicOverride(t *testing.T) {
	s := New(config.FeedConfig{ID: "a", Topic: "custom/topic"}, newMockSubscriber(), doorTopic, 0)
	if s.Topic() != "custom/topic" {
		t.Errorf("Topic() = %q, want custom/topic", s.Topic())
	}
	if s.frameTimeout != DefaultFrameTimeout {
		t.Errorf("frameTimeout = %v, want %v", s.frameTimeout, DefaultFrameTimeout)
	}
}

func TestReadFrame_DecodesPayload(t *testing.T) {
	sub := newMockSubscriber()
	s := newDoorSource(sub)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	err := sub.deliver(t, doorTopic, `{"seq":7,"width":640,"height":480,
		"timestamp":"2026-03-01T09:00:00Z",
		"detections":[{"class":"person","confidence":0.9,"bbox":[110,220,10,20]}]}`)
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}

	frame, err := s.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if frame.Seq != 7 || frame.Area() != 640*480 {
		t.Errorf("frame = %+v", frame)
	}

	dets, err := Detector{}.Detect(context.Background(), frame)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	want := []detection.Detection{{
		ClassName:  "person",
		Confidence: 0.9,
		BBox:       detection.BBox{X1: 10, Y1: 20, X2: 110, Y2: 220},
	}}
	if diff := cmp.Diff(want, dets); diff != "" {
		t.Errorf("detections mismatch (-want +got):\n%s", diff)
	}

	st := s.Stats()
	if st.Width != 640 || st.FramesRead != 1 || !st.Connected {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestReadFrame_LatestWins(t *testing.T) {
	sub := newMockSubscriber()
	s := newDoorSource(sub)
	_ = s.Connect(context.Background())

	_ = sub.deliver(t, doorTopic, `{"seq":1,"width":10,"height":10}`)
	_ = sub.deliver(t, doorTopic, `{"seq":2,"width":10,"height":10}`)

	frame, err := s.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if frame.Seq != 2 {
		t.Errorf("Seq = %d, want 2", frame.Seq)
	}
}

func TestReadFrame_Timeout(t *testing.T) {
	s := newDoorSource(newMockSubscriber())
	_ = s.Connect(context.Background())

	_, err := s.ReadFrame(context.Background())
	if !errors.Is(err, ErrFrameTimeout) {
		t.Errorf("ReadFrame() error = %v, want ErrFrameTimeout", err)
	}
}

func TestReadFrame_Cancelled(t *testing.T) {
	s := New(config.FeedConfig{ID: "cam-door", FrameTimeout: time.Hour}, newMockSubscriber(), doorTopic, 1)
	_ = s.Connect(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.ReadFrame(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("ReadFrame() error = %v, want context.Canceled", err)
	}
}

func TestReadFrame_NotConnected(t *testing.T) {
	s := newDoorSource(newMockSubscriber())
	if _, err := s.ReadFrame(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ReadFrame() error = %v, want ErrNotConnected", err)
	}
}

func TestHandleMessage_InvalidPayload(t *testing.T) {
	sub := newMockSubscriber()
	s := newDoorSource(sub)
	_ = s.Connect(context.Background())

	tests := []string{`not json`, `{"width":-1,"height":10}`}
	for _, payload := range tests {
		if err := sub.deliver(t, doorTopic, payload); !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("deliver(%q) error = %v, want ErrInvalidPayload", payload, err)
		}
	}
}

func TestReconnectAndDisconnect(t *testing.T) {
	sub := newMockSubscriber()
	s := newDoorSource(sub)
	_ = s.Connect(context.Background())

	if err := s.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}
	if sub.subscribes != 2 || sub.unsubscribes != 1 {
		t.Errorf("subscribes=%d unsubscribes=%d, want 2 and 1", sub.subscribes, sub.unsubscribes)
	}

	_ = s.Disconnect()
	_ = s.Disconnect()
	if sub.unsubscribes != 2 {
		t.Errorf("unsubscribes = %d, want 2 (second Disconnect is a no-op)", sub.unsubscribes)
	}
	if s.Stats().Connected {
		t.Error("Stats().Connected = true after Disconnect")
	}
}

func TestConnect_SubscribeError(t *testing.T) {
	sub := newMockSubscriber()
	sub.subErr = mqtt.ErrNotConnected
	s := newDoorSource(sub)

	if err := s.Connect(context.Background()); !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("Connect() error = %v, want mqtt.ErrNotConnected", err)
	}
}

func TestDetector_UnexpectedData(t *testing.T) {
	_, err := Detector{}.Detect(context.Background(), feed.Frame{Data: "jpeg bytes"})
	if !errors.Is(err, ErrUnexpectedFrame) {
		t.Errorf("Detect() error = %v, want ErrUnexpectedFrame", err)
	}

	dets, err := Detector{}.Detect(context.Background(), feed.Frame{})
	if err != nil || dets != nil {
		t.Errorf("Detect(empty) = %v, %v; want nil, nil", dets, err)
	}
}
