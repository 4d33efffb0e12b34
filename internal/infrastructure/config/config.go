package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the presence light service.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Engine    EngineConfig    `yaml:"engine"`
	Detection DetectionConfig `yaml:"detection"`
	Feeds     []FeedConfig    `yaml:"feeds"`
	Lighting  LightingConfig  `yaml:"lighting"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Reporting ReportingConfig `yaml:"reporting"`
	Sidecar   SidecarConfig   `yaml:"sidecar"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig identifies the room or installation this instance controls.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// EngineConfig controls the processing loops.
type EngineConfig struct {
	// Autostart starts all feed loops immediately after boot.
	Autostart bool `yaml:"autostart"`

	// FrameInterval runs detection on every Nth frame read. 1 means every frame.
	FrameInterval int `yaml:"frame_interval"`

	// TickInterval is the aggregation and decision period.
	// Default: 100ms
	TickInterval time.Duration `yaml:"tick_interval"`

	// JoinTimeout bounds how long Stop waits for each loop to exit.
	// Default: 5s
	JoinTimeout time.Duration `yaml:"join_timeout"`

	// ReadBackoff is the pause after a failed frame read.
	// Default: 1s
	ReadBackoff time.Duration `yaml:"read_backoff"`

	// ReconnectAfter triggers a source reconnect after this many consecutive
	// read failures. 0 disables reconnecting.
	ReconnectAfter int `yaml:"reconnect_after"`

	// RecentEvents is the capacity of the status event ring.
	RecentEvents int `yaml:"recent_events"`
}

// DetectionConfig holds the filter rules applied to raw detections.
type DetectionConfig struct {
	Confidence    float64  `yaml:"confidence"`
	TargetClasses []string `yaml:"target_classes"`
	IgnoreClasses []string `yaml:"ignore_classes"`
	MinSize       int      `yaml:"min_size"`
	MaxSize       int      `yaml:"max_size"`
}

// FeedConfig describes one video feed.
type FeedConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	// Type selects the source implementation: "mqtt".
	Type string `yaml:"type"`

	// Topic overrides the default detection topic for mqtt feeds.
	Topic string `yaml:"topic,omitempty"`

	// FrameTimeout bounds a single frame read.
	// Default: 5s
	FrameTimeout time.Duration `yaml:"frame_timeout"`
}

// LightingConfig holds scoring, timing and output settings for the light.
type LightingConfig struct {
	// Mode selects the output backend: simulated, mqtt, http or hue.
	Mode string `yaml:"mode"`

	ScoreThreshold  float64            `yaml:"score_threshold"`
	ScoreCeiling    float64            `yaml:"score_ceiling"`
	MinBrightness   int                `yaml:"min_brightness"`
	MaxBrightness   int                `yaml:"max_brightness"`
	MinOnBrightness int                `yaml:"min_on_brightness"`
	ClassWeights    map[string]float64 `yaml:"class_weights"`

	// OffDelay is how long the light stays on after presence was last seen.
	// Default: 30s
	OffDelay time.Duration `yaml:"off_delay"`

	// DebounceTime applies only to the legacy per-detection trigger.
	DebounceTime time.Duration `yaml:"debounce_time"`

	FadeDurationMS    int `yaml:"fade_duration_ms"`
	CommandCooldownMS int `yaml:"command_cooldown_ms"`
	SafetyFloorMS     int `yaml:"safety_floor_ms"`

	MQTT LightMQTTConfig `yaml:"mqtt"`
	HTTP LightHTTPConfig `yaml:"http"`
	Hue  HueConfig       `yaml:"hue"`
}

// LightMQTTConfig configures the MQTT light backend.
type LightMQTTConfig struct {
	// Topic overrides the site's default light command topic.
	Topic string `yaml:"topic,omitempty"`

	// Payload is "plain" (brightness as integer text) or "openlab"
	// (RGBW JSON with a fade duration).
	Payload string `yaml:"payload"`
	QoS     int    `yaml:"qos"`
}

// LightHTTPConfig configures the generic HTTP light backend.
type LightHTTPConfig struct {
	URL     string        `yaml:"url"`
	Method  string        `yaml:"method"`
	Timeout time.Duration `yaml:"timeout"`
}

// HueConfig configures the Philips Hue backend.
type HueConfig struct {
	BridgeIP string        `yaml:"bridge_ip"`
	Username string        `yaml:"username"`
	LightID  string        `yaml:"light_id"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// ReportingConfig controls the periodic MQTT status publish.
type ReportingConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// SidecarConfig describes an optional external detector process.
type SidecarConfig struct {
	Enabled            bool          `yaml:"enabled"`
	Binary             string        `yaml:"binary"`
	Args               []string      `yaml:"args"`
	RestartOnFailure   bool          `yaml:"restart_on_failure"`
	RestartDelay       time.Duration `yaml:"restart_delay"`
	MaxRestartAttempts int           `yaml:"max_restart_attempts"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: PRESENCELIGHT_SECTION_KEY
// For example: PRESENCELIGHT_DATABASE_PATH, PRESENCELIGHT_LIGHTING_MODE
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "room-001",
			Name: "Presence Light",
		},
		Engine: EngineConfig{
			Autostart:      true,
			FrameInterval:  1,
			TickInterval:   100 * time.Millisecond,
			JoinTimeout:    5 * time.Second,
			ReadBackoff:    time.Second,
			ReconnectAfter: 5,
			RecentEvents:   100,
		},
		Detection: DetectionConfig{
			Confidence:    0.5,
			TargetClasses: []string{"person"},
			MinSize:       5000,
			MaxSize:       300000,
		},
		Lighting: LightingConfig{
			Mode:           "simulated",
			ScoreThreshold: 0.05,
			ScoreCeiling:   0.3,
			MinBrightness:  20,
			MaxBrightness:  100,
			ClassWeights: map[string]float64{
				"person":  1.0,
				"default": 0.1,
			},
			OffDelay:          30 * time.Second,
			DebounceTime:      2 * time.Second,
			FadeDurationMS:    1000,
			CommandCooldownMS: 100,
			SafetyFloorMS:     250,
			MQTT: LightMQTTConfig{
				Payload: "plain",
				QoS:     1,
			},
			HTTP: LightHTTPConfig{
				Method:  "POST",
				Timeout: 5 * time.Second,
			},
			Hue: HueConfig{
				LightID: "1",
				Timeout: 5 * time.Second,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/presencelight.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "presencelight-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "presencelight",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Reporting: ReportingConfig{
			Interval: 30 * time.Second,
		},
		Sidecar: SidecarConfig{
			RestartOnFailure:   true,
			RestartDelay:       5 * time.Second,
			MaxRestartAttempts: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: PRESENCELIGHT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PRESENCELIGHT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("PRESENCELIGHT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PRESENCELIGHT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PRESENCELIGHT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("PRESENCELIGHT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("PRESENCELIGHT_LIGHTING_MODE"); v != "" {
		cfg.Lighting.Mode = v
	}
	// Hue usernames are bridge API keys.
	if v := os.Getenv("PRESENCELIGHT_HUE_USERNAME"); v != "" {
		cfg.Lighting.Hue.Username = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Engine.FrameInterval < 1 {
		errs = append(errs, "engine.frame_interval must be at least 1")
	}
	if c.Engine.TickInterval <= 0 {
		errs = append(errs, "engine.tick_interval must be positive")
	}
	if c.Engine.JoinTimeout <= 0 {
		errs = append(errs, "engine.join_timeout must be positive")
	}
	if c.Engine.ReconnectAfter < 0 {
		errs = append(errs, "engine.reconnect_after must not be negative")
	}

	if c.Detection.Confidence < 0 || c.Detection.Confidence > 1 {
		errs = append(errs, "detection.confidence must be between 0 and 1")
	}
	if c.Detection.MaxSize > 0 && c.Detection.MinSize > c.Detection.MaxSize {
		errs = append(errs, "detection.min_size must not exceed detection.max_size")
	}

	errs = append(errs, c.validateFeeds()...)
	errs = append(errs, c.validateLighting()...)

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Reporting.Enabled && !c.MQTT.Enabled {
		errs = append(errs, "reporting requires mqtt.enabled")
	}
	if c.Reporting.Enabled && c.Reporting.Interval <= 0 {
		errs = append(errs, "reporting.interval must be positive")
	}

	if c.Sidecar.Enabled && c.Sidecar.Binary == "" {
		errs = append(errs, "sidecar.binary is required when sidecar is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateFeeds() []string {
	var errs []string
	seen := make(map[string]bool, len(c.Feeds))
	for i, f := range c.Feeds {
		if f.ID == "" {
			errs = append(errs, fmt.Sprintf("feeds[%d].id is required", i))
			continue
		}
		if seen[f.ID] {
			errs = append(errs, fmt.Sprintf("feeds[%d].id %q is duplicated", i, f.ID))
		}
		seen[f.ID] = true
		switch f.Type {
		case "mqtt":
			if !c.MQTT.Enabled {
				errs = append(errs, fmt.Sprintf("feed %q requires mqtt.enabled", f.ID))
			}
		default:
			errs = append(errs, fmt.Sprintf("feed %q has unknown type %q", f.ID, f.Type))
		}
	}
	return errs
}

func (c *Config) validateLighting() []string {
	var errs []string
	l := c.Lighting

	switch l.Mode {
	case "simulated", "hue":
	case "mqtt":
		if !c.MQTT.Enabled {
			errs = append(errs, "lighting.mode mqtt requires mqtt.enabled")
		}
		if l.MQTT.Payload != "plain" && l.MQTT.Payload != "openlab" {
			errs = append(errs, "lighting.mqtt.payload must be plain or openlab")
		}
	case "http":
		if l.HTTP.URL == "" {
			errs = append(errs, "lighting.http.url is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("lighting.mode %q is not supported", l.Mode))
	}
	if l.Mode == "hue" && (l.Hue.BridgeIP == "" || l.Hue.Username == "") {
		errs = append(errs, "lighting.hue.bridge_ip and username are required")
	}

	if l.MinBrightness < 0 || l.MinBrightness > 100 || l.MaxBrightness < 0 || l.MaxBrightness > 100 {
		errs = append(errs, "lighting brightness bounds must be between 0 and 100")
	}
	if l.MinBrightness > l.MaxBrightness {
		errs = append(errs, "lighting.min_brightness must not exceed lighting.max_brightness")
	}
	if l.MinOnBrightness < 0 || l.MinOnBrightness > 100 {
		errs = append(errs, "lighting.min_on_brightness must be between 0 and 100")
	}
	if l.ScoreThreshold < 0 {
		errs = append(errs, "lighting.score_threshold must not be negative")
	}
	if l.ScoreCeiling < l.ScoreThreshold {
		errs = append(errs, "lighting.score_ceiling must not be below lighting.score_threshold")
	}
	if l.OffDelay < 0 {
		errs = append(errs, "lighting.off_delay must not be negative")
	}
	if l.SafetyFloorMS < 0 || l.CommandCooldownMS < 0 {
		errs = append(errs, "lighting command timings must not be negative")
	}

	return errs
}

// FeedByID returns the configured feed with the given ID.
func (c *Config) FeedByID(id string) (FeedConfig, bool) {
	for _, f := range c.Feeds {
		if f.ID == id {
			return f, true
		}
	}
	return FeedConfig{}, false
}
