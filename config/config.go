// Package config loads relayq's runtime configuration from the environment.
package config

import (
	"os"
	"strings"
)

// AppConfig is the root configuration struct, composed from domain-specific
// sub-structs loaded via github.com/caarlos0/env.
//
//   - database.go: Task Store (Postgres) and Queue (Redis) connection settings
//   - queue.go: task_queue_factory equivalent (backend selection, capacity)
//   - scheduler.go: calendar tick cadence, batch size
//   - worker.go: per-worker backlog, concurrency, default timeout
//   - observability.go: logging and metrics sinks
type AppConfig struct {
	// IsDev skips the Postgres connection, so the in-memory Task Store is used.
	IsDev bool `env:"DEV" envDefault:"false"`

	Postgres      DBConfig            `envPrefix:"DB_"`
	Redis         RedisConfig         `envPrefix:"REDIS_"`
	Queue         QueueConfig         `envPrefix:"QUEUE_"`
	Scheduler     SchedulerConfig     `envPrefix:"SCHEDULER_"`
	Worker        WorkerConfig        `envPrefix:"WORKER_"`
	Observability ObservabilityConfig `envPrefix:"OBSERVABILITY_"`
}

// Sanitize applies guardrails to configuration values loaded from the environment.
// Call once after loading, before wiring dependencies.
func (c *AppConfig) Sanitize() {
	c.Queue.Sanitize()
	c.Scheduler.Sanitize()
	c.Worker.Sanitize()
	c.Observability.Sanitize()
	c.detectDevMode()
}

// detectDevMode falls back to NODE_ENV for parity with JS tooling conventions
// some deployment scripts in this org still rely on.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}
