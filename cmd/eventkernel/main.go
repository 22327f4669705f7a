package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aevon-lab/eventkernel/internal/contract"
	"github.com/aevon-lab/eventkernel/internal/contract/formats/protobuf"
	"github.com/aevon-lab/eventkernel/internal/contract/formats/yaml"
	corecfg "github.com/aevon-lab/eventkernel/internal/core/config"
	"github.com/aevon-lab/eventkernel/internal/core/storage"
	"github.com/aevon-lab/eventkernel/internal/core/storage/memory"
	"github.com/aevon-lab/eventkernel/internal/core/storage/postgres"
	"github.com/aevon-lab/eventkernel/internal/core/storage/redisfeed"
	"github.com/aevon-lab/eventkernel/internal/core/storage/sqlite"
	"github.com/aevon-lab/eventkernel/internal/migrations"
	"github.com/aevon-lab/eventkernel/internal/projection"
	"github.com/aevon-lab/eventkernel/internal/projection/readmodel"
	"github.com/aevon-lab/eventkernel/internal/registry"
	"github.com/aevon-lab/eventkernel/internal/server"
	"github.com/aevon-lab/eventkernel/internal/streams"
	"github.com/redis/go-redis/v9"
)

// eventBackend is what every storage backend offers to the startup routine.
type eventBackend interface {
	storage.EventStore
	storage.EventStreamer
	server.HealthChecker
	Close() error
}

func main() {
	configPath := flag.String("config", "eventkernel.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Logging.SlogLevel()})))
	slog.Info("Loaded config", "database", cfg.Database.Type, "redis", cfg.Redis.Enabled, "contracts", cfg.Contracts.Path)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// 2. Initialize Storage
	backend, err := openBackend(cfg.Database)
	if err != nil {
		slog.Error("Failed to initialize event store", "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	var store storage.EventStore = backend
	var activityStore readmodel.ActivityStore = readmodel.NewMemoryActivityStore()

	// 2.1. Live feed (Redis pub/sub)
	if cfg.Redis.Enabled {
		rc := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			slog.Error("Failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
			os.Exit(1)
		}
		store = redisfeed.New(backend, rc, cfg.Redis.Channel)
		activityStore = readmodel.NewRedisActivityStore(rc, "")
		slog.Info("Redis live feed enabled", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
	}

	// 3. Load payload contracts and register event types
	formats := contract.NewFormatRegistry()
	formats.RegisterFormat(contract.FormatProtobuf, protobuf.NewCompiler(), protobuf.NewValidator())
	formats.RegisterFormat(contract.FormatYaml, yaml.NewCompiler(), yaml.NewValidator())

	reg := registry.New(contract.NewValidator(formats))
	if cfg.Contracts.Path != "" {
		catalog, err := contract.LoadCatalog(cfg.Contracts.Path)
		if err != nil {
			slog.Error("Failed to load contracts", "path", cfg.Contracts.Path, "error", err)
			os.Exit(1)
		}
		if err := reg.RegisterCatalog(catalog, nil); err != nil {
			slog.Error("Failed to register event types", "error", err)
			os.Exit(1)
		}
	}

	// 4. Initialize Projections
	eventTypes := reg.EventTypes()
	if len(eventTypes) == 0 {
		slog.Warn("No event types registered, activity read model will stay empty")
	}
	activity := readmodel.NewActivity(activityStore, eventTypes)

	orchestrator := projection.NewOrchestrator(store, projection.OrchestratorOptions{
		Mode:               projection.DispatchMode(cfg.Projections.DispatchMode),
		DispatchRetryCount: cfg.Projections.DispatchRetryCount,
		DispatchRetryDelay: cfg.Projections.DispatchRetryDelay,
		RebuildOnStart:     cfg.Projections.RebuildOnStart,
	})
	orchestrator.RegisterProjection(projection.New(activity, backend, projection.Options{
		MaxRetries:       cfg.Projections.MaxRetries,
		RetryDelay:       cfg.Projections.RetryDelay,
		RebuildBatchSize: cfg.Projections.RebuildBatchSize,
		Upcaster:         reg,
	}))

	switch {
	case cfg.Projections.RealtimeSync:
		if err := orchestrator.StartRealtimeSync(ctx); err != nil {
			slog.Error("Failed to start realtime sync", "error", err)
			os.Exit(1)
		}
		defer orchestrator.StopRealtimeSync()
	case cfg.Projections.RebuildOnStart:
		summary := orchestrator.RebuildAll(ctx)
		slog.Info("Projections rebuilt", "rebuilt", summary.Rebuilt, "failed", summary.Failed)
	}

	// 5. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), backend, cfg.Server.Mode)
	srv.Register(
		streams.NewService(store, reg, cfg.Contracts.Required, cfg.Server.MaxBodySizeMB),
		projection.NewAdminHandler(orchestrator),
		activity,
	)

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func openBackend(cfg corecfg.DatabaseConfig) (eventBackend, error) {
	switch cfg.Type {
	case "postgres":
		if err := migratePostgres(cfg); err != nil {
			return nil, err
		}
		return postgres.NewAdapter(cfg.DSN, cfg.MaxOpenConns, cfg.MaxIdleConns)
	case "sqlite":
		return sqlite.Open(cfg.DSN)
	case "memory":
		slog.Warn("Using in-memory event store, events are lost on shutdown")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}
}

// migratePostgres runs migrations on a short-lived connection so the adapter's
// schema check sees the final schema.
func migratePostgres(cfg corecfg.DatabaseConfig) error {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return fmt.Errorf("failed to open postgres database: %w", err)
	}
	defer db.Close()

	if err := migrations.RunMigrations(db, cfg.AutoMigrate); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	return nil
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
