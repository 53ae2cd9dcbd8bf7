// mysensorsd - MySensors gateway daemon
//
// mysensorsd connects to one or more MySensors gateways (serial, TCP or
// MQTT), keeps a registry of every node and child sensor they present,
// and exposes the discovered devices as entities over MQTT, a REST API
// and a WebSocket event stream.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-mysensors/internal/api"
	"github.com/nerrad567/gray-logic-mysensors/internal/entity"
	"github.com/nerrad567/gray-logic-mysensors/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mysensors/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-mysensors/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-mysensors/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-mysensors/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/events"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/gateway"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/persistence"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/registry"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/transport"
	"github.com/nerrad567/gray-logic-mysensors/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
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
// It returns nil on a clean shutdown after ctx is cancelled.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting mysensorsd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "gateways", len(cfg.Gateways))

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Snapshot store. The database is only opened for the sqlite backend.
	var db *database.DB
	var store persistence.Store
	switch cfg.Persistence.Backend {
	case config.PersistenceSQLite:
		db, err = database.Open(ctx, cfg.Database)
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

		if migrateErr := db.Migrate(ctx, migrations.FS, "."); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete")
		store = persistence.NewSQLiteStore(db)
	case config.PersistenceJSON:
		store = persistence.NewJSONFileStore(persistenceFiles(cfg.Gateways))
		log.Info("using json snapshot files", "directory", cfg.Persistence.Directory)
	}

	// Connect to MQTT broker (optional, required by mqtt gateways)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
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
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	reg := registry.New()
	reg.SetLogger(log.Component("registry"))

	hub := events.NewHub()
	defer hub.Close()

	// The entity layer subscribes before any session runs so restored and
	// newly discovered devices all reach it.
	entities := entity.NewManager(reg, nil)
	entities.SetLogger(log.Component("entity"))
	discoveries, unsubscribe := hub.Discovery.Subscribe(events.DefaultBuffer * 4)
	defer unsubscribe()

	gateways, err := buildGateways(cfg, reg, hub, store, mqttClient, influxClient, entities, log)
	if err != nil {
		return err
	}
	entities.SetCommander(gateways)

	if cfg.API.Enabled {
		srv, apiErr := startAPI(ctx, cfg, reg, gateways, entities, hub, db, mqttClient, influxClient, log)
		if apiErr != nil {
			return apiErr
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return gateways.Run(gctx)
	})
	g.Go(func() error {
		return entities.Run(gctx, discoveries)
	})

	if mqttClient != nil {
		qos := byte(cfg.MQTT.QoS) //nolint:gosec // validated to 0..2
		publisher := gateway.NewEventPublisher(hub, mqttClient, mqttClient.Topics(), qos, log.Component("publisher"))
		g.Go(func() error {
			return publisher.Run(gctx)
		})

		reporter := gateway.NewHealthReporter(gateway.HealthReporterConfig{
			Version:   version,
			Publisher: mqttClient,
			Topic:     mqttClient.Topics().Health,
			Manager:   gateways,
		})
		reporter.SetLogger(log.Component("health"))
		if pubErr := reporter.PublishStarting(); pubErr != nil {
			log.Warn("publishing starting status", "error", pubErr)
		}
		reporter.Start(gctx)
		defer reporter.Stop()
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	runErr := g.Wait()

	log.Info("shutdown signal received, cleaning up")
	if closeErr := gateways.Close(); closeErr != nil {
		log.Error("error closing gateway sessions", "error", closeErr)
	}
	if runErr != nil {
		return fmt.Errorf("running gateways: %w", runErr)
	}

	log.Info("mysensorsd stopped")
	return nil
}

// buildGateways creates one session per configured gateway and the manager
// that owns them.
func buildGateways(
	cfg *config.Config,
	reg *registry.Registry,
	hub *events.Hub,
	store persistence.Store,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	entities *entity.Manager,
	log *logging.Logger,
) (*gateway.Manager, error) {
	// Typed nil pointers must not reach the interface fields.
	var brokerClient transport.MQTTClient
	if mqttClient != nil {
		brokerClient = mqttClient
	}
	var telemetry gateway.Telemetry
	if influxClient != nil {
		telemetry = influxClient
	}
	qos := byte(cfg.MQTT.QoS) //nolint:gosec // validated to 0..2

	sessions := make([]*gateway.Session, 0, len(cfg.Gateways))
	for _, gc := range cfg.Gateways {
		tr, err := gateway.NewTransport(gc, brokerClient, qos)
		if err != nil {
			return nil, err
		}

		opts := gateway.OptionsFromConfig(gc, tr, cfg.Persistence.SaveInterval)
		opts.Registry = reg
		opts.Events = hub
		opts.Telemetry = telemetry
		opts.Logger = log.ForGateway(gc.ID)
		opts.OnRestore = entities.Restore
		if gc.PersistenceEnabled() {
			opts.Store = store
		}

		s, err := gateway.NewSession(opts)
		if err != nil {
			return nil, fmt.Errorf("creating gateway %s: %w", gc.ID, err)
		}
		sessions = append(sessions, s)
		log.Info("gateway configured",
			"gateway_id", gc.ID,
			"type", gc.Type,
			"address", gc.Address(),
			"persistence", gc.PersistenceEnabled(),
		)
	}

	manager, err := gateway.NewManager(sessions...)
	if err != nil {
		return nil, fmt.Errorf("creating gateway manager: %w", err)
	}
	manager.SetLogger(log.Component("gateway"))
	return manager, nil
}

// startAPI creates and starts the HTTP API server.
func startAPI(
	ctx context.Context,
	cfg *config.Config,
	reg *registry.Registry,
	gateways *gateway.Manager,
	entities *entity.Manager,
	hub *events.Hub,
	db *database.DB,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	log *logging.Logger,
) (*api.Server, error) {
	checks := make(map[string]api.HealthChecker)
	var mqttStatus api.ConnectionStatus
	if db != nil {
		checks["database"] = db
	}
	if mqttClient != nil {
		checks["mqtt"] = mqttClient
		mqttStatus = mqttClient
	}
	if influxClient != nil {
		checks["influxdb"] = influxClient
	}

	srv, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log.Component("api"),
		Registry: reg,
		Gateways: gateways,
		Entities: entities,
		Events:   hub,
		Checks:   checks,
		MQTT:     mqttStatus,
		Version:  version,
	})
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting API server: %w", err)
	}
	log.Info("API server started", "address", srv.Addr().String())
	return srv, nil
}

// persistenceFiles maps each gateway with persistence enabled to its
// snapshot file.
func persistenceFiles(gateways []config.GatewayConfig) map[registry.GatewayID]string {
	paths := make(map[registry.GatewayID]string, len(gateways))
	for _, gc := range gateways {
		if gc.PersistenceEnabled() && gc.PersistenceFile != "" {
			paths[registry.GatewayID(gc.ID)] = gc.PersistenceFile
		}
	}
	return paths
}

// getConfigPath returns the configuration file path.
// Uses MYSENSORS_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MYSENSORS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the infrastructure connections that are enabled.
// Any of db, mqttClient and influxClient may be nil.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
