package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relayq/relayq/config"
	"github.com/relayq/relayq/internal/command"
	"github.com/relayq/relayq/internal/data"
	"github.com/relayq/relayq/internal/migrate"
	"github.com/relayq/relayq/internal/observability/metrics"
	"github.com/relayq/relayq/internal/observability/statsd"
	"github.com/relayq/relayq/internal/queue"
	"github.com/relayq/relayq/internal/reaper"
	"github.com/relayq/relayq/internal/registry"
	"github.com/relayq/relayq/internal/scheduler"
	"github.com/relayq/relayq/internal/store"
	"github.com/relayq/relayq/internal/worker"
)

// ServiceDeps groups the infrastructure a ServiceContainer is built from.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
	Registry    *registry.Registry
	Clock       data.TimeProvider
}

// ServiceContainer holds the monitor-process components: the Task Store,
// Queue, Scheduler, reaper, and the Command Surface built over them.
type ServiceContainer struct {
	Store     store.Store
	Queue     queue.Queue
	Scheduler *scheduler.Scheduler
	Reaper    *reaper.Reaper
	Monitor   *command.Monitor
	Recorder  metrics.Recorder
}

// NewServices wires a ServiceContainer from deps, selecting the Postgres or
// in-memory Task Store and the Redis or in-process Queue per
// config.QueueConfig/config.DBConfig (spec §4.2, §4.4).
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service deps require an AppConfig")
	}
	cfg := deps.Config

	clock := deps.Clock
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}

	var st store.Store
	if deps.DB != nil {
		st = store.NewPostgresStore(deps.DB, store.Hooks{})
	} else {
		st = store.NewMemoryStore(store.Hooks{}, clock)
	}

	var q queue.Queue
	switch {
	case cfg.Queue.Backend == config.QueueBackendRedis && deps.RedisClient != nil:
		q = queue.NewRedisQueue(deps.RedisClient, cfg.Queue.Key, cfg.Queue.Capacity)
	default:
		q = queue.NewInProcessQueue(cfg.Queue.Capacity)
	}

	recorder := buildRecorder(cfg, deps.Logger)

	sched := scheduler.New(deps.Registry, st, q, clock, cfg.Worker.DefaultTimeout).WithRecorder(recorder)
	monitor := command.New(deps.Registry, st, sched, clock)
	reap := reaper.New(st, clock).WithRecorder(recorder)

	return ServiceContainer{Store: st, Queue: q, Scheduler: sched, Reaper: reap, Monitor: monitor, Recorder: recorder}, nil
}

// buildRecorder builds the metrics.Recorder the monitor and worker
// processes report task lifecycle measurements to: Prometheus always,
// StatsD additionally when configured (spec's ambient observability stack).
func buildRecorder(cfg *config.AppConfig, logger *slog.Logger) metrics.Recorder {
	promRecorder := metrics.New()
	if cfg.Observability.StatsDAddr == "" {
		return promRecorder
	}

	sink, err := statsd.NewClient(statsd.Config{Enabled: true, Address: cfg.Observability.StatsDAddr, Logger: logger, Prefix: "relayq"})
	if err != nil {
		if logger != nil {
			logger.Warn("statsd client unavailable, falling back to prometheus only", "error", err)
		}
		return promRecorder
	}
	return metrics.MultiRecorder{promRecorder, metrics.NewStatsDRecorder(sink)}
}

// RunMigrations applies embedded SQL migrations against db.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if err := migrate.Run(ctx, db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	if logger != nil {
		logger.InfoContext(ctx, "database migrations completed")
	}
	return nil
}

// NewWorkerDispatcher builds the worker process's Dispatcher from deps and
// a ServiceContainer's Store/Queue.
func NewWorkerDispatcher(deps *ServiceDeps, svc ServiceContainer, workerID string) (*worker.Dispatcher, error) {
	clock := deps.Clock
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}
	return worker.New(deps.Registry, svc.Store, svc.Queue, clock, worker.Config{
		WorkerID:       workerID,
		Backlog:        deps.Config.Worker.Backlog,
		DefaultTimeout: deps.Config.Worker.DefaultTimeout,
		RetryBaseDelay: deps.Config.Worker.RetryBaseDelay,
		RetryMaxDelay:  deps.Config.Worker.RetryMaxDelay,
		Recorder:       svc.Recorder,
	})
}

const shutdownWaitTimeout = 15 * time.Second

// MonitorOrchestrationConfig contains the dependencies RunMonitorWithShutdown needs.
type MonitorOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// RunMonitorWithShutdown runs the monitor process's event loop (scheduler
// Tick on TickInterval, reaper Sweep on ReaperInterval) until a shutdown
// signal arrives or either loop fails (spec §4.3, §4.6).
func RunMonitorWithShutdown(cfg *MonitorOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("monitor orchestration config is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 2)
	tickDone := launchLoop(ctx, errCh, "scheduler tick", func(ctx context.Context) error {
		return runTicker(ctx, cfg.Config.Scheduler.TickInterval, func(now time.Time) error {
			return cfg.Services.Scheduler.Tick(ctx, now)
		})
	})
	reapDone := launchLoop(ctx, errCh, "reaper sweep", func(ctx context.Context) error {
		return cfg.Services.Reaper.Run(ctx, cfg.Config.Scheduler.ReaperInterval)
	})

	return waitForShutdown(cancel, errCh, logger, []<-chan struct{}{tickDone, reapDone})
}

// WorkerOrchestrationConfig contains the dependencies RunWorkerWithShutdown needs.
type WorkerOrchestrationConfig struct {
	Dispatcher *worker.Dispatcher
	Logger     *slog.Logger
}

// RunWorkerWithShutdown runs a worker process's dispatch loop until a
// shutdown signal arrives or the loop fails (spec §4.5).
func RunWorkerWithShutdown(cfg *WorkerOrchestrationConfig) error {
	if cfg == nil || cfg.Dispatcher == nil {
		return errors.New("worker orchestration config requires a dispatcher")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	done := launchLoop(ctx, errCh, "worker dispatch loop", cfg.Dispatcher.Run)

	return waitForShutdown(cancel, errCh, logger, []<-chan struct{}{done})
}

func launchLoop(ctx context.Context, errCh chan<- error, name string, run func(context.Context) error) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			select {
			case errCh <- fmt.Errorf("%s: %w", name, err):
			default:
			}
		}
	}()
	return done
}

func runTicker(ctx context.Context, interval time.Duration, tick func(time.Time) error) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := tick(now); err != nil {
				slog.Default().Error("scheduler tick failed", "error", err)
			}
		}
	}
}

func waitForShutdown(cancel context.CancelFunc, errCh <-chan error, logger *slog.Logger, dones []<-chan struct{}) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var result error
	select {
	case <-quit:
		logger.Info("shutting down...")
	case err := <-errCh:
		logger.Error("service error", "error", err)
		result = err
	}

	cancel()
	for _, done := range dones {
		waitForDone(done, logger)
	}
	return result
}

func waitForDone(done <-chan struct{}, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for background loop to stop")
	}
}
