// odin-control serves a set of adapters over HTTP, WebSocket and MQTT.
//
// Each adapter exposes one parameter tree. Adapters are listed, in load
// order, in the configuration file given with -config or ODIN_CONFIG.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odin-detector/odin-control/internal/adapter"
	"github.com/odin-detector/odin-control/internal/api"
	"github.com/odin-detector/odin-control/internal/audit"
	"github.com/odin-detector/odin-control/internal/bridge"
	"github.com/odin-detector/odin-control/internal/infrastructure/config"
	"github.com/odin-detector/odin-control/internal/infrastructure/database"
	"github.com/odin-detector/odin-control/internal/infrastructure/influxdb"
	"github.com/odin-detector/odin-control/internal/infrastructure/logging"
	"github.com/odin-detector/odin-control/internal/infrastructure/mqtt"
	"github.com/odin-detector/odin-control/internal/scheduler"
	"github.com/odin-detector/odin-control/internal/static"
	"github.com/odin-detector/odin-control/internal/telemetry"
	"github.com/odin-detector/odin-control/migrations"

	_ "github.com/odin-detector/odin-control/internal/adapters/auditlog"
	_ "github.com/odin-detector/odin-control/internal/adapters/dummy"
	_ "github.com/odin-detector/odin-control/internal/adapters/iac"
	_ "github.com/odin-detector/odin-control/internal/adapters/proxy"
	"github.com/odin-detector/odin-control/internal/adapters/sysinfo"
	_ "github.com/odin-detector/odin-control/internal/adapters/sysstatus"
)

// Version information, set at build time:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// shutdownTimeout bounds adapter cleanup at exit.
	shutdownTimeout = 10 * time.Second

	auditPruneInterval = time.Hour
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run starts every component and blocks until ctx is cancelled.
func run(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("odin-control", flag.ContinueOnError)
	configFlag := flags.String("config", "", "path to the YAML configuration file")
	rollback := flags.Bool("migrate-down", false, "roll back the latest database migration and exit")
	if err := flags.Parse(args); err != nil {
		return err
	}

	log := logging.Default()
	log.Info("starting odin-control",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath(*configFlag)
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"adapters", len(cfg.Adapters),
		"level", cfg.Logging.Level,
	)
	sysinfo.Version = version

	if *rollback {
		return migrateDown(ctx, cfg.Database, log)
	}

	var (
		db        *database.DB
		auditRepo audit.Repository
		deps      adapter.Dependencies
	)
	if cfg.Database.Enabled {
		db, err = openDatabase(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database ready", "path", db.Path())

		auditRepo = audit.NewSQLiteRepository(db.DB)
		deps.AuditLog = auditRepo
	} else {
		log.Info("database disabled, writes are not audited")
	}

	reg, _ := adapter.Build(ctx, adapterSpecs(cfg.Adapters), adapter.BuildOptions{
		Logger: log.With("component", "adapters"),
		Scope: func(name string) adapter.Logger {
			return log.With("adapter", name)
		},
		Deps: deps,
	})
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		reg.Cleanup(cleanupCtx)
	}()

	dispatcher := adapter.NewDispatcher(reg, cfg.API.DispatchTimeout)
	dispatcher.SetLogger(log.With("component", "dispatcher"))

	sched := scheduler.New(reg)
	sched.SetLogger(log.With("component", "scheduler"))

	checks := map[string]api.HealthCheck{}
	if db != nil {
		checks["database"] = db.HealthCheck

		recorder := audit.NewRecorder(auditRepo, api.StatusCode)
		recorder.SetLogger(log.With("component", "audit"))
		dispatcher.OnWrite(recorder.Hook)
	}

	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.With("component", "mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		checks["mqtt"] = mqttClient.HealthCheck

		br := bridge.New(mqttClient, dispatcher, api.StatusCode)
		br.SetLogger(log.With("component", "bridge"))
		if startErr := br.Start(ctx); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		defer br.Stop()

		dispatcher.OnWrite(br.PublishWrite)
		sched.OnUpdate(br.PublishUpdate)
	} else {
		log.Info("MQTT disabled")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		checks["influxdb"] = influxClient.HealthCheck

		sched.OnUpdate(telemetry.NewRecorder(influxClient).RecordUpdate)
	} else {
		log.Info("InfluxDB disabled")
	}

	server, err := api.New(api.Deps{
		Config:       cfg.API,
		WS:           cfg.WebSocket,
		Logger:       log.With("component", "api"),
		Dispatcher:   dispatcher,
		HealthChecks: checks,
		Static:       static.Handler(cfg.API.StaticPath),
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	dispatcher.OnWrite(server.Hub().PublishWrite)
	sched.OnUpdate(server.Hub().PublishUpdate)
	sched.SetObserver(server.Metrics())

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	sched.Start(ctx)
	defer sched.Stop()

	g, gctx := errgroup.WithContext(ctx)
	if configPath != "" {
		g.Go(func() error {
			err := config.Watch(gctx, configPath, log.Logger, func(c *config.Config) {
				log.SetLevel(c.Logging.Level)
				log.Info("log level applied", "level", c.Logging.Level)
			})
			if err != nil {
				log.Warn("config hot reload unavailable", "error", err)
			}
			return nil
		})
	}
	if auditRepo != nil && cfg.Database.AuditRetention > 0 {
		g.Go(func() error {
			pruneAudit(gctx, auditRepo, cfg.Database.AuditRetention, log)
			return nil
		})
	}

	log.Info("initialisation complete, waiting for shutdown signal", "adapters", reg.Len())
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("odin-control stopped")
	return nil
}

// getConfigPath prefers the -config flag over ODIN_CONFIG. An empty
// result means the built-in defaults are used.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("ODIN_CONFIG")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.Load(path)
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		//nolint:errcheck // The migration error is the one worth reporting
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// migrateDown rolls back the most recent migration without starting the
// server.
func migrateDown(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) error {
	if !cfg.Enabled {
		return errors.New("migrate-down: database is not enabled")
	}
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // Nothing left to do with the handle

	if err := db.MigrateDown(ctx, migrations.FS); err != nil {
		return fmt.Errorf("rolling back migration: %w", err)
	}
	log.Info("rolled back latest migration", "path", db.Path())
	return nil
}

func adapterSpecs(adapters []config.AdapterConfig) []adapter.Spec {
	specs := make([]adapter.Spec, 0, len(adapters))
	for _, a := range adapters {
		specs = append(specs, adapter.Spec{
			Name:           a.Name,
			Kind:           a.Kind,
			UpdateInterval: a.UpdateInterval,
			Options:        a.Options,
		})
	}
	return specs
}

// pruneAudit deletes audit entries older than retention once at start and
// then every auditPruneInterval until ctx is done.
func pruneAudit(ctx context.Context, repo audit.Repository, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(auditPruneInterval)
	defer ticker.Stop()

	for {
		removed, err := repo.Prune(ctx, time.Now().Add(-retention))
		switch {
		case errors.Is(err, context.Canceled):
			return
		case err != nil:
			log.Warn("audit prune failed", "error", err)
		case removed > 0:
			log.Info("audit entries pruned", "removed", removed, "retention", retention)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
