package light

import (
	"fmt"

	"github.com/sarontebebe7/presencelight/internal/infrastructure/config"
)

// BackendDeps carries the collaborators a backend may need.
type BackendDeps struct {
	// Publisher is required for mode mqtt.
	Publisher Publisher

	// DefaultTopic is used when lighting.mqtt.topic is empty.
	DefaultTopic string

	// HTTPClient is used by modes http and hue. Nil means the default
	// client.
	HTTPClient HTTPDoer

	Logger Logger
}

// NewBackend builds the backend selected by cfg.Mode.
func NewBackend(cfg config.LightingConfig, deps BackendDeps) (Backend, error) {
	switch cfg.Mode {
	case ModeSimulated, "":
		return NewSimulatedBackend(deps.Logger), nil

	case ModeMQTT:
		if deps.Publisher == nil {
			return nil, fmt.Errorf("%w: mode mqtt needs an MQTT client", ErrMissingDependency)
		}
		topic := cfg.MQTT.Topic
		if topic == "" {
			topic = deps.DefaultTopic
		}
		return NewMQTTBackend(deps.Publisher, topic, cfg.MQTT.Payload, byte(cfg.MQTT.QoS)), nil

	case ModeHTTP:
		return NewHTTPBackend(deps.HTTPClient, cfg.HTTP.URL, cfg.HTTP.Method, cfg.HTTP.Timeout), nil

	case ModeHue:
		return NewHueBackend(deps.HTTPClient, cfg.Hue.BridgeIP, cfg.Hue.Username, cfg.Hue.LightID, cfg.Hue.Timeout), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, cfg.Mode)
	}
}
