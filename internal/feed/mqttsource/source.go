package mqttsource

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sarontebebe7/presencelight/internal/detection"
	"github.com/sarontebebe7/presencelight/internal/feed"
	"github.com/sarontebebe7/presencelight/internal/infrastructure/config"
	"github.com/sarontebebe7/presencelight/internal/infrastructure/mqtt"
)

// DefaultFrameTimeout bounds ReadFrame when no frame arrives.
const DefaultFrameTimeout = 5 * time.Second

// Subscriber is the subset of the MQTT client used by Source.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// framePayload is the JSON published by an out-of-process detector for
// each analysed frame.
type framePayload struct {
	Seq        uint64             `json:"seq"`
	Width      int                `json:"width"`
	Height     int                `json:"height"`
	Timestamp  time.Time          `json:"timestamp"`
	Detections []detectionPayload `json:"detections"`
}

type detectionPayload struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	BBox       [4]int  `json:"bbox"`
}

// Source is a feed.VideoSource fed by detection messages on an MQTT
// topic. Only the newest unread frame is kept.
type Source struct {
	feedID       string
	topic        string
	qos          byte
	sub          Subscriber
	frameTimeout time.Duration
	now          func() time.Time

	frames chan feed.Frame

	mu          sync.Mutex
	connected   bool
	width       int
	height      int
	framesRead  uint64
	connectedAt time.Time
}

// New creates a source for the feed. The feed's Topic wins over
// defaultTopic when set.
func New(cfg config.FeedConfig, sub Subscriber, defaultTopic string, qos byte) *Source {
	topic := cfg.Topic
	if topic == "" {
		topic = defaultTopic
	}
	timeout := cfg.FrameTimeout
	if timeout <= 0 {
		timeout = DefaultFrameTimeout
	}
	return &Source{
		feedID:       cfg.ID,
		topic:        topic,
		qos:          qos,
		sub:          sub,
		frameTimeout: timeout,
		now:          time.Now,
		frames:       make(chan feed.Frame, 1),
	}
}

// Topic returns the subscribed topic.
func (s *Source) Topic() string {
	return s.topic
}

// Connect subscribes to the detection topic.
func (s *Source) Connect(_ context.Context) error {
	if err := s.sub.Subscribe(s.topic, s.qos, s.handleMessage); err != nil {
		return fmt.Errorf("subscribing %s: %w", s.topic, err)
	}

	s.mu.Lock()
	s.connected = true
	s.connectedAt = s.now()
	s.mu.Unlock()
	return nil
}

// ReadFrame returns the next frame, waiting up to the frame timeout.
func (s *Source) ReadFrame(ctx context.Context) (feed.Frame, error) {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if !connected {
		return feed.Frame{}, ErrNotConnected
	}

	timer := time.NewTimer(s.frameTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return feed.Frame{}, ctx.Err()
	case <-timer.C:
		return feed.Frame{}, fmt.Errorf("%w: no frame on %s for %v", ErrFrameTimeout, s.topic, s.frameTimeout)
	case f := <-s.frames:
		s.mu.Lock()
		s.framesRead++
		s.mu.Unlock()
		return f, nil
	}
}

// Reconnect re-subscribes to the topic.
func (s *Source) Reconnect(ctx context.Context) error {
	_ = s.Disconnect()
	return s.Connect(ctx)
}

// Disconnect unsubscribes and drops any pending frame.
func (s *Source) Disconnect() error {
	s.mu.Lock()
	wasConnected := s.connected
	s.connected = false
	s.mu.Unlock()

	select {
	case <-s.frames:
	default:
	}

	if !wasConnected {
		return nil
	}
	return s.sub.Unsubscribe(s.topic)
}

// Stats reports the last seen frame size and the delivered frame rate.
func (s *Source) Stats() feed.SourceStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := feed.SourceStats{
		Width:      s.width,
		Height:     s.height,
		FramesRead: s.framesRead,
		Connected:  s.connected,
	}
	if s.connected {
		if secs := s.now().Sub(s.connectedAt).Seconds(); secs > 0 {
			st.FPS = float64(s.framesRead) / secs
		}
	}
	return st
}

func (s *Source) handleMessage(_ string, payload []byte) error {
	frame, err := decodeFrame(payload, s.now)
	if err != nil {
		return fmt.Errorf("feed %s: %w", s.feedID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.width, s.height = frame.Width, frame.Height

	// Latest wins: drop an unread frame before queueing the new one.
	select {
	case <-s.frames:
	default:
	}
	s.frames <- frame
	return nil
}

func decodeFrame(payload []byte, now func() time.Time) (feed.Frame, error) {
	var p framePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return feed.Frame{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.Width < 0 || p.Height < 0 {
		return feed.Frame{}, fmt.Errorf("%w: negative frame size %dx%d", ErrInvalidPayload, p.Width, p.Height)
	}

	dets := make([]detection.Detection, 0, len(p.Detections))
	for _, d := range p.Detections {
		dets = append(dets, detection.New(d.Class, d.Confidence, detection.BBox{
			X1: d.BBox[0], Y1: d.BBox[1], X2: d.BBox[2], Y2: d.BBox[3],
		}))
	}

	captured := p.Timestamp
	if captured.IsZero() {
		captured = now()
	}
	return feed.Frame{
		Seq:        p.Seq,
		Width:      p.Width,
		Height:     p.Height,
		CapturedAt: captured,
		Data:       dets,
	}, nil
}
