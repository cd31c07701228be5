// beurerd - Beurer daylight lamp connection daemon
//
// beurerd keeps a persistent BLE link to a Beurer TL100 daylight lamp and
// exposes it over HTTP, WebSocket and MQTT. The engine owns connection
// recovery, command pacing and state interpretation; projections are
// read-only views plus a command intake.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/ptrevors/beurerd/migrations"

	"github.com/ptrevors/beurerd/internal/api"
	"github.com/ptrevors/beurerd/internal/engine"
	"github.com/ptrevors/beurerd/internal/health"
	"github.com/ptrevors/beurerd/internal/infrastructure/config"
	"github.com/ptrevors/beurerd/internal/infrastructure/database"
	"github.com/ptrevors/beurerd/internal/infrastructure/influxdb"
	"github.com/ptrevors/beurerd/internal/infrastructure/logging"
	"github.com/ptrevors/beurerd/internal/infrastructure/mqtt"
	"github.com/ptrevors/beurerd/internal/mqttbridge"
	"github.com/ptrevors/beurerd/internal/observations"
	"github.com/ptrevors/beurerd/internal/transport/bluez"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// Housekeeping intervals.
const (
	observationRetention = 14 * 24 * time.Hour
	pruneInterval        = 24 * time.Hour
	snapshotInterval     = time.Minute
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting beurerd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Observation and command audit store
	store := observations.NewStore(db.DB)
	go pruneLoop(ctx, log, store)

	// InfluxDB connection telemetry (optional). Connected before the
	// engine so the audit path can mirror command metrics from the start.
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	var audit engine.AuditSink = store
	if influxClient != nil {
		audit = &auditTee{next: store, metrics: influxClient, device: topicDevice(cfg)}
	}

	// BlueZ transport
	transport, err := bluez.New(cfg.NormalizedMAC(), log)
	if err != nil {
		return fmt.Errorf("connecting to BlueZ: %w", err)
	}
	defer func() {
		if closeErr := transport.Close(); closeErr != nil {
			log.Error("error closing BlueZ connection", "error", closeErr)
		}
	}()

	// Connection engine
	manager := engine.NewManager(engine.Options{
		MAC:            cfg.NormalizedMAC(),
		DeviceName:     cfg.Device.Name,
		ScanTimeout:    cfg.GetScanTimeout(),
		ConnectTimeout: cfg.GetConnectTimeout(),
	}, log, transport, store, audit)

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	defer func() {
		log.Info("stopping engine")
		if closeErr := manager.Close(); closeErr != nil {
			log.Error("error stopping engine", "error", closeErr)
		}
	}()
	log.Info("engine started", "device", cfg.NormalizedMAC())

	if influxClient != nil {
		device := topicDevice(cfg)
		manager.OnConnChange(func(s engine.ConnectionState) {
			influxClient.WriteConnectionEvent(device, s.String(), "")
		})
		go snapshotLoop(ctx, influxClient, manager, device)
	}

	topics := mqtt.NewTopics(cfg.NormalizedMAC())

	// MQTT projection (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, topics)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		bridge := mqttbridge.New(mqttbridge.Options{
			Topics: topics,
			QoS:    byte(cfg.MQTT.QoS),
		}, log, mqttClient, manager)
		if err := bridge.Start(ctx); err != nil {
			return fmt.Errorf("starting MQTT bridge: %w", err)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			bridge.Stop()
		}()

		reporter := health.NewReporter(health.Options{
			Device:  topicDevice(cfg),
			Version: version,
			Topic:   topics.Health(),
		}, log, mqttClient, manager)
		reporter.Start(ctx)
		defer func() {
			log.Info("stopping health reporter")
			reporter.Stop()
		}()
	} else {
		log.Info("MQTT disabled")
	}

	// HTTP API and WebSocket
	server, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Logger:      log,
		Engine:      manager,
		Diagnostics: store,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	log.Info("beurerd stopped")
	return nil
}

// commandMetricWriter is the telemetry surface the audit tee needs.
type commandMetricWriter interface {
	WriteCommandMetric(device, intent, outcome string, latency time.Duration)
}

// auditTee forwards audit records to the store and mirrors each command's
// outcome and latency to the telemetry writer.
type auditTee struct {
	next    engine.AuditSink
	metrics commandMetricWriter
	device  string
}

func (t *auditTee) RecordCommand(ctx context.Context, rec engine.CommandRecord) error {
	if !rec.CompletedAt.IsZero() {
		t.metrics.WriteCommandMetric(t.device, rec.Intent, rec.Outcome,
			rec.CompletedAt.Sub(rec.SubmittedAt))
	}
	return t.next.RecordCommand(ctx, rec)
}

// pruneLoop trims old diagnostic rows on a daily cadence.
func pruneLoop(ctx context.Context, log *logging.Logger, store *observations.Store) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.Prune(ctx, observationRetention); err != nil {
				log.Warn("pruning observations", "error", err)
			}
		}
	}
}

// snapshotLoop writes periodic engine metric snapshots to InfluxDB.
func snapshotLoop(ctx context.Context, client *influxdb.Client, manager *engine.Manager, device string) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := manager.ConnectionMetrics()
			client.WriteEngineSnapshot(device, map[string]interface{}{
				"uptime_seconds":       snap.UptimeSeconds,
				"connected_seconds":    snap.ConnectedSeconds,
				"connect_attempts":     int64(snap.ConnectAttempts),
				"reconnects":           int64(snap.Reconnects),
				"commands_ok":          int64(snap.CommandsOK),
				"commands_failed":      int64(snap.CommandsFailed),
				"command_success_rate": snap.CommandSuccessRate,
				"frames_dropped":       int64(snap.FramesDropped),
				"watchdog_trips":       int64(snap.WatchdogTrips),
			})
		}
	}
}

// topicDevice returns the flattened device address used in topics and
// metric tags.
func topicDevice(cfg *config.Config) string {
	return mqtt.NewTopics(cfg.NormalizedMAC()).Device()
}

// getConfigPath returns the configuration file path.
// Uses BEURERD_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("BEURERD_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
