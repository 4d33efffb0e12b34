// Presence Light - multi-feed presence detection driving a dimmable light.
//
// Detections arrive per feed over MQTT from a detector process, are
// filtered and merged into one presence signal, and the light engine
// turns that signal into brightness commands for the configured backend.
//
// Usage:
//
//	presencelight               run the engine
//	presencelight migrate-down  roll back the latest journal migration
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sarontebebe7/presencelight/internal/feed/mqttsource"
	"github.com/sarontebebe7/presencelight/internal/infrastructure/config"
	"github.com/sarontebebe7/presencelight/internal/infrastructure/database"
	"github.com/sarontebebe7/presencelight/internal/infrastructure/influxdb"
	"github.com/sarontebebe7/presencelight/internal/infrastructure/logging"
	"github.com/sarontebebe7/presencelight/internal/infrastructure/mqtt"
	"github.com/sarontebebe7/presencelight/internal/journal"
	"github.com/sarontebebe7/presencelight/internal/light"
	"github.com/sarontebebe7/presencelight/internal/reporting"
	"github.com/sarontebebe7/presencelight/internal/sidecar"
	"github.com/sarontebebe7/presencelight/internal/supervisor"
	"github.com/sarontebebe7/presencelight/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

// shutdownTimeout bounds the final Stop, including the light off command.
const shutdownTimeout = 15 * time.Second

// cmdMigrateDown is the subcommand that rolls back the latest journal migration.
const cmdMigrateDown = "migrate-down"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	if len(os.Args) > 1 && os.Args[1] == cmdMigrateDown {
		err = migrateDown(ctx)
	} else {
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting presencelight",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"site", cfg.Site.ID,
		"feeds", len(cfg.Feeds),
		"light_mode", cfg.Lighting.Mode,
	)

	var (
		events supervisor.EventSink
		checks = make(map[string]reporting.HealthChecker)
	)
	if cfg.Database.Enabled {
		db, dbErr := openJournal(ctx, cfg.Database)
		if dbErr != nil {
			return dbErr
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		events = journal.NewSQLiteRepository(db.DB)
		checks["database"] = db
		log.Info("journal ready", "path", db.Path())
	}

	var mqttClient *mqtt.Client
	topics := mqtt.NewTopics(cfg.Site.ID)
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, cfg.Site.ID)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		checks["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	}

	var metrics supervisor.MetricsSink
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB, cfg.Site.ID)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		metrics = influxClient
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	if cfg.Sidecar.Enabled {
		detector := sidecar.New(sidecar.ConfigFromConfig(cfg.Sidecar))
		detector.SetLogger(log)
		if startErr := detector.Start(ctx); startErr != nil {
			return fmt.Errorf("starting detector sidecar: %w", startErr)
		}
		defer func() {
			log.Info("stopping detector sidecar")
			if stopErr := detector.Stop(); stopErr != nil {
				log.Error("error stopping detector sidecar", "error", stopErr)
			}
		}()
	}

	engine, err := buildEngine(cfg, mqttClient, topics, log)
	if err != nil {
		return err
	}

	if mqttClient != nil {
		eventPub := reporting.NewEventPublisher(events, mqttClient, topics.CoreEvent, mqttClient.QoS())
		eventPub.SetLogger(log)
		events = eventPub
	}

	qos := byte(cfg.MQTT.QoS)
	if mqttClient != nil {
		qos = mqttClient.QoS()
	}
	sup := supervisor.New(supervisor.ConfigFromConfig(cfg), supervisor.Collaborators{
		Feeds:   cfg.Feeds,
		Factory: feedFactory(mqttClient, topics, qos),
		Engine:  engine,
		Scorer:  light.ScoreModelFromConfig(cfg.Lighting),
		Events:  events,
		Metrics: metrics,
		Logger:  log,
	})

	if cfg.Reporting.Enabled && mqttClient != nil {
		reporter := reporting.New(reporting.Config{
			Version:  version,
			Topic:    topics.CoreStatus(),
			Interval: cfg.Reporting.Interval,
			QoS:      qos,
		}, mqttClient, sup)
		reporter.SetLogger(log)
		for name, checker := range checks {
			reporter.AddCheck(name, checker)
		}
		if pubErr := reporter.PublishStarting(); pubErr != nil {
			log.Warn("failed to publish starting status", "error", pubErr)
		}
		reporter.Start(ctx)
		defer reporter.Stop()
	}

	if cfg.Engine.Autostart {
		res, startErr := sup.Start(ctx)
		if startErr != nil {
			return fmt.Errorf("starting engine: %w", startErr)
		}
		log.Info(res.Message)
	} else {
		log.Info("autostart disabled, engine idle")
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	res, err := sup.Stop(stopCtx)
	if err != nil {
		log.Error("error stopping engine", "error", err)
	} else if res.Success {
		log.Info(res.Message, "degraded", res.Degraded)
	}

	log.Info("presencelight stopped")
	return nil
}

// getConfigPath returns PRESENCELIGHT_CONFIG if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv("PRESENCELIGHT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// migrateDown rolls back the latest journal migration and logs what remains.
func migrateDown(ctx context.Context) error {
	log := logging.Default()
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // read-only after rollback

	if err := db.MigrateDown(ctx, migrations.FS); err != nil {
		return fmt.Errorf("rolling back migration: %w", err)
	}
	applied, pending, err := db.MigrationStatus(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	log.Info("journal migration rolled back",
		"path", db.Path(),
		"applied", len(applied),
		"pending", len(pending),
	)
	return nil
}

func openDatabase(cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

func openJournal(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// buildEngine wires the configured backend behind a dispatcher and engine.
// mqttClient may be nil when MQTT is disabled.
func buildEngine(cfg *config.Config, mqttClient *mqtt.Client, topics mqtt.Topics, log *logging.Logger) (*light.Engine, error) {
	deps := light.BackendDeps{
		DefaultTopic: topics.LightCommand(),
		HTTPClient:   &http.Client{},
		Logger:       log,
	}
	if mqttClient != nil {
		deps.Publisher = mqttClient
	}

	backend, err := light.NewBackend(cfg.Lighting, deps)
	if err != nil {
		return nil, fmt.Errorf("creating light backend: %w", err)
	}

	dispatcher := light.NewDispatcher(backend, light.DispatcherConfig{
		SafetyFloorMS: cfg.Lighting.SafetyFloorMS,
		CooldownMS:    cfg.Lighting.CommandCooldownMS,
	})
	dispatcher.SetLogger(log)

	engine := light.NewEngine(light.EngineConfigFromConfig(cfg.Lighting), dispatcher)
	engine.SetLogger(log)
	return engine, nil
}

// feedFactory builds sources for configured feeds. mqttClient may be nil,
// in which case mqtt feeds fail to open.
func feedFactory(mqttClient *mqtt.Client, topics mqtt.Topics, qos byte) supervisor.SourceFactory {
	return func(fc config.FeedConfig) (supervisor.FeedSpec, error) {
		switch fc.Type {
		case "mqtt":
			if mqttClient == nil {
				return supervisor.FeedSpec{}, fmt.Errorf("feed %q: mqtt is disabled", fc.ID)
			}
			return supervisor.FeedSpec{
				Source:   mqttsource.New(fc, mqttClient, topics.FeedDetections(fc.ID), qos),
				Detector: mqttsource.Detector{},
			}, nil
		default:
			return supervisor.FeedSpec{}, fmt.Errorf("feed %q: unsupported type %q", fc.ID, fc.Type)
		}
	}
}
