package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
site:
  id: "lab-101"
engine:
  frame_interval: 3
  tick_interval: 200ms
feeds:
  - id: "cam-door"
    type: "mqtt"
  - id: "cam-desk"
    type: "mqtt"
    topic: "lab/desk/detections"
lighting:
  mode: "mqtt"
  off_delay: 45s
  class_weights:
    person: 0.8
  mqtt:
    topic: "openlab/lights/set"
    payload: "openlab"
mqtt:
  enabled: true
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "lab-101" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "lab-101")
	}
	if cfg.Engine.FrameInterval != 3 {
		t.Errorf("Engine.FrameInterval = %d, want 3", cfg.Engine.FrameInterval)
	}
	if cfg.Engine.TickInterval != 200*time.Millisecond {
		t.Errorf("Engine.TickInterval = %v, want 200ms", cfg.Engine.TickInterval)
	}
	if len(cfg.Feeds) != 2 {
		t.Fatalf("len(Feeds) = %d, want 2", len(cfg.Feeds))
	}
	if cfg.Feeds[1].Topic != "lab/desk/detections" {
		t.Errorf("Feeds[1].Topic = %q", cfg.Feeds[1].Topic)
	}
	if cfg.Lighting.OffDelay != 45*time.Second {
		t.Errorf("Lighting.OffDelay = %v, want 45s", cfg.Lighting.OffDelay)
	}
	if cfg.Lighting.ClassWeights["person"] != 0.8 {
		t.Errorf("ClassWeights[person] = %v, want 0.8", cfg.Lighting.ClassWeights["person"])
	}
	// Keys absent from the file keep their defaults.
	if cfg.Lighting.ClassWeights["default"] != 0.1 {
		t.Errorf("ClassWeights[default] = %v, want 0.1", cfg.Lighting.ClassWeights["default"])
	}
	if cfg.Lighting.SafetyFloorMS != 250 {
		t.Errorf("Lighting.SafetyFloorMS = %d, want 250", cfg.Lighting.SafetyFloorMS)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
site:
  id: ""
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for empty site.id, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing site ID",
			mutate:  func(c *Config) { c.Site.ID = "" },
			wantErr: "site.id",
		},
		{
			name:    "zero frame interval",
			mutate:  func(c *Config) { c.Engine.FrameInterval = 0 },
			wantErr: "frame_interval",
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name: "duplicate feed id",
			mutate: func(c *Config) {
				c.MQTT.Enabled = true
				c.Feeds = []FeedConfig{{ID: "a", Type: "mqtt"}, {ID: "a", Type: "mqtt"}}
			},
			wantErr: "duplicated",
		},
		{
			name:    "unknown feed type",
			mutate:  func(c *Config) { c.Feeds = []FeedConfig{{ID: "a", Type: "rtsp"}} },
			wantErr: "unknown type",
		},
		{
			name:    "mqtt feed without broker",
			mutate:  func(c *Config) { c.Feeds = []FeedConfig{{ID: "a", Type: "mqtt"}} },
			wantErr: "requires mqtt.enabled",
		},
		{
			name:    "unsupported lighting mode",
			mutate:  func(c *Config) { c.Lighting.Mode = "dmx" },
			wantErr: "lighting.mode",
		},
		{
			name:    "http mode without url",
			mutate:  func(c *Config) { c.Lighting.Mode = "http" },
			wantErr: "lighting.http.url",
		},
		{
			name:    "hue mode without credentials",
			mutate:  func(c *Config) { c.Lighting.Mode = "hue" },
			wantErr: "lighting.hue",
		},
		{
			name: "bad openlab payload",
			mutate: func(c *Config) {
				c.MQTT.Enabled = true
				c.Lighting.Mode = "mqtt"
				c.Lighting.MQTT.Payload = "xml"
			},
			wantErr: "payload",
		},
		{
			name:    "min above max brightness",
			mutate:  func(c *Config) { c.Lighting.MinBrightness = 90; c.Lighting.MaxBrightness = 50 },
			wantErr: "min_brightness",
		},
		{
			name:    "brightness out of range",
			mutate:  func(c *Config) { c.Lighting.MaxBrightness = 150 },
			wantErr: "between 0 and 100",
		},
		{
			name:    "ceiling below threshold",
			mutate:  func(c *Config) { c.Lighting.ScoreCeiling = 0.01 },
			wantErr: "score_ceiling",
		},
		{
			name:    "reporting without mqtt",
			mutate:  func(c *Config) { c.Reporting.Enabled = true },
			wantErr: "reporting requires",
		},
		{
			name:    "sidecar without binary",
			mutate:  func(c *Config) { c.Sidecar.Enabled = true },
			wantErr: "sidecar.binary",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()

	t.Setenv("PRESENCELIGHT_DATABASE_PATH", "/custom/path.db")
	t.Setenv("PRESENCELIGHT_MQTT_HOST", "mqtt.example.com")
	t.Setenv("PRESENCELIGHT_MQTT_USERNAME", "testuser")
	t.Setenv("PRESENCELIGHT_MQTT_PASSWORD", "testpass")
	t.Setenv("PRESENCELIGHT_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("PRESENCELIGHT_LIGHTING_MODE", "hue")
	t.Setenv("PRESENCELIGHT_HUE_USERNAME", "bridge-key")

	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Lighting.Mode != "hue" {
		t.Errorf("Lighting.Mode = %q, want %q", cfg.Lighting.Mode, "hue")
	}
	if cfg.Lighting.Hue.Username != "bridge-key" {
		t.Errorf("Lighting.Hue.Username = %q, want %q", cfg.Lighting.Hue.Username, "bridge-key")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Lighting.OffDelay != 30*time.Second {
		t.Errorf("default OffDelay = %v, want 30s", cfg.Lighting.OffDelay)
	}
	if cfg.Lighting.MinBrightness != 20 || cfg.Lighting.MaxBrightness != 100 {
		t.Errorf("default brightness bounds = [%d,%d], want [20,100]",
			cfg.Lighting.MinBrightness, cfg.Lighting.MaxBrightness)
	}
	if cfg.Lighting.ScoreThreshold != 0.05 || cfg.Lighting.ScoreCeiling != 0.3 {
		t.Errorf("default score range = [%v,%v], want [0.05,0.3]",
			cfg.Lighting.ScoreThreshold, cfg.Lighting.ScoreCeiling)
	}
	if cfg.Engine.TickInterval != 100*time.Millisecond {
		t.Errorf("default TickInterval = %v, want 100ms", cfg.Engine.TickInterval)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("default MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
}

func TestFeedByID(t *testing.T) {
	cfg := Default()
	cfg.Feeds = []FeedConfig{{ID: "a", Type: "mqtt"}, {ID: "b", Type: "mqtt", Topic: "x"}}

	f, ok := cfg.FeedByID("b")
	if !ok || f.Topic != "x" {
		t.Errorf("FeedByID(b) = %+v, %v", f, ok)
	}
	if _, ok := cfg.FeedByID("missing"); ok {
		t.Error("FeedByID(missing) found a feed")
	}
}
