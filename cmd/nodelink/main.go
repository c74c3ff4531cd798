// NodeLink Core - device registry and messaging service
//
// This is the main entry point for the NodeLink Core application.
// It keeps the registry of field nodes and their sub-devices, bridges
// their MQTT topics into the registry, and serves the HTTP/WebSocket API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/nodelink-core/migrations"

	"github.com/nerrad567/nodelink-core/internal/api"
	"github.com/nerrad567/nodelink-core/internal/bridge"
	"github.com/nerrad567/nodelink-core/internal/dispatch"
	"github.com/nerrad567/nodelink-core/internal/infrastructure/cache"
	"github.com/nerrad567/nodelink-core/internal/infrastructure/config"
	"github.com/nerrad567/nodelink-core/internal/infrastructure/database"
	"github.com/nerrad567/nodelink-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/nodelink-core/internal/infrastructure/logging"
	"github.com/nerrad567/nodelink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/nodelink-core/internal/node"
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

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting NodeLink Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Storage
	db, err := database.Open(ctx, database.Config{
		Driver:       cfg.Database.Driver,
		Path:         cfg.Database.Path,
		DSN:          cfg.Database.DSN,
		WALMode:      cfg.Database.WALMode,
		BusyTimeout:  cfg.Database.BusyTimeout,
		MaxOpenConns: cfg.Database.MaxOpenConn,
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
	log.Info("database connected", "driver", db.Driver())

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	schema, err := db.SchemaStatus(ctx)
	if err != nil {
		return fmt.Errorf("reading schema status: %w", err)
	}
	log.Info("database migrations complete", "schema_version", schema.Version, "applied", schema.Applied)

	registry := node.NewRegistry(newRepository(db))
	registry.SetLogger(log.Component("registry"))

	// Node cache (optional)
	redisCache, err := cache.Connect(ctx, cfg.Redis)
	switch {
	case errors.Is(err, cache.ErrDisabled):
		log.Info("node cache disabled")
	case err != nil:
		log.Warn("node cache unavailable, continuing without it", "error", err)
	default:
		defer func() {
			if closeErr := redisCache.Close(); closeErr != nil {
				log.Error("error closing node cache", "error", closeErr)
			}
		}()
		registry.SetCache(redisCache)
		log.Info("node cache connected", "addr", cfg.Redis.Addr, "ttl", cfg.GetRedisTTL())
	}

	// Telemetry (optional)
	var (
		telemetry     bridge.Telemetry
		telemetryDeps api.HealthChecker
	)
	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		telemetry = influxClient
		telemetryDeps = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	// MQTT. A broker that is down at start-up is not fatal. The client
	// redials in the background with exponential backoff and subscribes
	// the tracked node topics once it connects; until then commands
	// answer 503.
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		log.Warn("MQTT not connected at start-up, retrying in background",
			"client_id", mqttClient.ClientID(),
			"error", err,
		)
	} else {
		log.Info("MQTT connected", "client_id", mqttClient.ClientID())
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Live event hub shared by the bridge and the API.
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(hubCtx)

	// Registry <-> MQTT bridge
	nodeBridge, err := bridge.New(bridge.Options{
		Registry:    registry,
		Transport:   mqttClient,
		QoS:         byte(cfg.MQTT.QoS), //nolint:gosec // validated 0-2 by config
		Telemetry:   telemetry,
		Broadcaster: hub,
		Logger:      log.Component("bridge"),
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	subscribed, err := nodeBridge.Start(ctx)
	switch {
	case err == nil:
	case errors.Is(err, bridge.ErrSubscriptionDeferred) && !mqttClient.IsConnected():
		log.Warn("node subscriptions deferred until MQTT connects", "subscribed", subscribed)
	default:
		log.Warn("some node topics could not be subscribed", "subscribed", subscribed, "error", err)
	}
	defer func() {
		log.Info("stopping bridge")
		nodeBridge.Stop()
	}()

	dispatcher := dispatch.New(registry, mqttClient, cfg.GetDispatchTimeout())
	dispatcher.SetLogger(log.Component("dispatch"))

	// HTTP API
	apiServer, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log,
		Registry:   registry,
		Dispatcher: dispatcher,
		Bridge:     nodeBridge,
		MQTT:       mqttClient,
		DB:         db,
		Telemetry:  telemetryDeps,
		Hub:        hub,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, bridge, hub, MQTT,
	// InfluxDB, cache, database.

	log.Info("NodeLink Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses NODELINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("NODELINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// newRepository picks the node repository matching the database driver.
func newRepository(db *database.DB) node.Repository {
	if db.Driver() == config.DriverPostgres {
		return node.NewPostgresRepository(db.DB)
	}
	return node.NewSQLiteRepository(db.DB)
}
