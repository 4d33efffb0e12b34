package light

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
)

// ModeMQTT publishes commands to an MQTT topic.
const ModeMQTT = "mqtt"

// MQTT payload formats.
const (
	PayloadPlain   = "plain"
	PayloadOpenLab = "openlab"
)

// Publisher is the subset of the MQTT client used by MQTTBackend.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// openLabPayload drives an RGBW fixture through the OpenLab bridge.
// All is "RRGGBBWW" hex; only the white channel is used.
type openLabPayload struct {
	All      string `json:"all"`
	Duration int    `json:"duration"`
}

// MQTTBackend publishes brightness commands.
type MQTTBackend struct {
	pub     Publisher
	topic   string
	payload string
	qos     byte

	mu      sync.Mutex
	last    int
	lastErr error
}

// NewMQTTBackend creates an MQTT backend. An empty payload format means
// plain.
func NewMQTTBackend(pub Publisher, topic, payloadFormat string, qos byte) *MQTTBackend {
	if payloadFormat == "" {
		payloadFormat = PayloadPlain
	}
	return &MQTTBackend{pub: pub, topic: topic, payload: payloadFormat, qos: qos}
}

// Send publishes cmd.
func (b *MQTTBackend) Send(_ context.Context, cmd Command) error {
	body, err := b.encode(cmd)
	if err != nil {
		return err
	}

	err = b.pub.Publish(b.topic, body, b.qos, false)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastErr = err
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", b.topic, err)
	}
	b.last = cmd.Brightness
	return nil
}

func (b *MQTTBackend) encode(cmd Command) ([]byte, error) {
	switch b.payload {
	case PayloadOpenLab:
		return json.Marshal(openLabPayload{
			All:      whiteChannel(cmd.Brightness),
			Duration: cmd.DurationMS,
		})
	default:
		return []byte(strconv.Itoa(cmd.Brightness)), nil
	}
}

// whiteChannel encodes a percentage as an RGBW hex string with only the
// white channel set.
func whiteChannel(brightness int) string {
	w := clampBrightness(brightness) * 255 / 100
	return fmt.Sprintf("000000%02x", w)
}

// Status implements Backend.
func (b *MQTTBackend) Status() BackendStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := BackendStatus{
		Mode:       ModeMQTT,
		Connected:  b.pub.IsConnected(),
		Brightness: b.last,
	}
	if b.lastErr != nil {
		st.LastError = b.lastErr.Error()
	}
	return st
}

// Mode implements Backend.
func (b *MQTTBackend) Mode() string { return ModeMQTT }

// Close is a no-op; the MQTT client is owned by the caller.
func (b *MQTTBackend) Close() error { return nil }
