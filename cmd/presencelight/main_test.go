package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sarontebebe7/presencelight/internal/infrastructure/config"
	"github.com/sarontebebe7/presencelight/internal/infrastructure/logging"
	"github.com/sarontebebe7/presencelight/internal/infrastructure/mqtt"
	"github.com/sarontebebe7/presencelight/internal/light"
	"github.com/sarontebebe7/presencelight/migrations"
)

func writeConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("PRESENCELIGHT_CONFIG", path)
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("PRESENCELIGHT_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_InvalidLightingMode(t *testing.T) {
	writeConfig(t, `
site:
  id: test-room
lighting:
  mode: dmx
`)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with unsupported lighting mode")
	}
}

// TestRun_StandaloneShutdown runs with every external dependency disabled
// and no feeds, then cancels and expects a clean exit.
func TestRun_StandaloneShutdown(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, `
site:
  id: test-room
engine:
  autostart: false
feeds: []
lighting:
  mode: simulated
database:
  enabled: true
  path: `+filepath.Join(dir, "journal.db")+`
  wal_mode: true
  busy_timeout: 5
mqtt:
  enabled: false
influxdb:
  enabled: false
logging:
  level: error
  format: text
  output: stderr
`)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancel")
	}

	if _, err := os.Stat(filepath.Join(dir, "journal.db")); err != nil {
		t.Errorf("journal database not created: %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	writeConfig(t, `
site:
  id: test-room
database:
  enabled: true
  path: `+dbPath+`
  wal_mode: true
  busy_timeout: 5
logging:
  level: error
`)
	ctx := context.Background()
	cfg := config.DatabaseConfig{Enabled: true, Path: dbPath, WALMode: true, BusyTimeout: 5}

	db, err := openJournal(ctx, cfg)
	if err != nil {
		t.Fatalf("openJournal() error = %v", err)
	}
	db.Close()

	if err := migrateDown(ctx); err != nil {
		t.Fatalf("migrateDown() error = %v", err)
	}

	db, err = openDatabase(cfg)
	if err != nil {
		t.Fatalf("openDatabase() error = %v", err)
	}
	defer db.Close()
	applied, pending, err := db.MigrationStatus(ctx, migrations.FS)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 0 || len(pending) != 1 {
		t.Errorf("after rollback applied = %d, pending = %d; want 0, 1", len(applied), len(pending))
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("PRESENCELIGHT_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("PRESENCELIGHT_CONFIG", "/etc/presencelight/config.yaml")
	if got := getConfigPath(); got != "/etc/presencelight/config.yaml" {
		t.Errorf("getConfigPath() = %q", got)
	}
}

func TestBuildEngine(t *testing.T) {
	cfg := config.Default()
	topics := mqtt.NewTopics("test-room")
	log := logging.Discard()

	cfg.Lighting.Mode = "simulated"
	engine, err := buildEngine(cfg, nil, topics, log)
	if err != nil {
		t.Fatalf("buildEngine(simulated) error = %v", err)
	}
	if engine.Mode() != light.ModeSimulated {
		t.Errorf("Mode() = %q, want %q", engine.Mode(), light.ModeSimulated)
	}

	cfg.Lighting.Mode = "mqtt"
	if _, err := buildEngine(cfg, nil, topics, log); !errors.Is(err, light.ErrMissingDependency) {
		t.Errorf("buildEngine(mqtt without client) error = %v, want ErrMissingDependency", err)
	}
}

func TestFeedFactory(t *testing.T) {
	factory := feedFactory(nil, mqtt.NewTopics("test-room"), 1)

	if _, err := factory(config.FeedConfig{ID: "cam", Type: "mqtt"}); err == nil {
		t.Error("mqtt feed without client should fail")
	}
	if _, err := factory(config.FeedConfig{ID: "cam", Type: "rtsp"}); err == nil {
		t.Error("unsupported feed type should fail")
	}
}
