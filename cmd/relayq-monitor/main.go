// Command relayq-monitor runs the monitor process: it hosts the Job
// Registry, Task Store, Queue, Scheduler, and reaper, and exposes the
// Command Surface (spec §4.1-§4.3, §4.6, §4.7).
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/relayq/relayq/config"
	"github.com/relayq/relayq/internal/bootstrap"
	"github.com/relayq/relayq/internal/observability/metrics"
	"github.com/relayq/relayq/internal/registry"
	"github.com/relayq/relayq/jobs"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.InitLogger(config.ObservabilityConfig{})

	if err := run(ctx, logger); err != nil {
		logger.Error("monitor exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = bootstrap.InitLogger(cfg.Observability)

	logger.Info("starting relayq-monitor",
		"queue_backend", cfg.Queue.Backend,
		"tick_interval", cfg.Scheduler.TickInterval,
		"reaper_interval", cfg.Scheduler.ReaperInterval,
	)

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

		if cfg.Postgres.RunMigrationsOnStart {
			if err := bootstrap.RunMigrations(ctx, db, logger); err != nil {
				return err
			}
		}
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

	if addr := cfg.Observability.MetricsAddr; addr != "" {
		if m, ok := services.Recorder.(*metrics.Metrics); ok {
			go serveMetrics(addr, m, logger)
		} else if multi, ok := services.Recorder.(metrics.MultiRecorder); ok {
			for _, r := range multi {
				if m, ok := r.(*metrics.Metrics); ok {
					go serveMetrics(addr, m, logger)
					break
				}
			}
		}
	}

	return bootstrap.RunMonitorWithShutdown(&bootstrap.MonitorOrchestrationConfig{
		Config:   &cfg,
		Services: services,
		Logger:   logger,
	})
}

func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	logger.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}
