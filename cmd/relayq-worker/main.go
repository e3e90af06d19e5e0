// Command relayq-worker runs a worker process: a cooperative dispatch loop
// pulling task ids off the Queue and invoking registered job callables
// against the shared Task Store (spec §4.5, §5).
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/relayq/relayq/config"
	"github.com/relayq/relayq/internal/bootstrap"
	"github.com/relayq/relayq/internal/registry"
	"github.com/relayq/relayq/jobs"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.InitLogger(config.ObservabilityConfig{})

	if err := run(ctx, logger); err != nil {
		logger.Error("worker exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = bootstrap.InitLogger(cfg.Observability)

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger.Info("starting relayq-worker", "worker_id", workerID, "queue_backend", cfg.Queue.Backend, "backlog", cfg.Worker.Backlog)

	if err := bootstrap.ValidateServiceConfig(&cfg); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	var db *sql.DB
	if !cfg.IsDev {
		db, err = bootstrap.ConnectDB(bootstrap.DatabaseConfig{DBConfig: cfg.Postgres, Logger: logger})
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()
	}

	deps := &bootstrap.ServiceDeps{Config: &cfg, DB: db, Logger: logger, Registry: registry.New()}
	if cfg.Queue.Backend == config.QueueBackendRedis {
		rc, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{RedisConfig: cfg.Redis, Logger: logger})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rc.Close()
		deps.RedisClient = rc
	}

	if err := jobs.RegisterAll(deps.Registry); err != nil {
		return fmt.Errorf("register jobs: %w", err)
	}
	deps.Registry.Freeze()

	services, err := bootstrap.NewServices(deps)
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}

	dispatcher, err := bootstrap.NewWorkerDispatcher(deps, services, workerID)
	if err != nil {
		return fmt.Errorf("build dispatcher: %w", err)
	}

	return bootstrap.RunWorkerWithShutdown(&bootstrap.WorkerOrchestrationConfig{
		Dispatcher: dispatcher,
		Logger:     logger,
	})
}
