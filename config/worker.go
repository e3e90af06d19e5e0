package config

import "time"

// WorkerConfig configures the per-worker dispatch loop (spec §4.5).
type WorkerConfig struct {
	// Backlog caps in-flight tasks per worker. Default 1 for pure CPU-bound jobs.
	Backlog int `env:"BACKLOG" envDefault:"1"`
	// Concurrency is parsed and clamped but not read by the dispatcher; a
	// worker process runs one dispatch loop whose in-flight tasks are bounded
	// by Backlog.
	Concurrency int `env:"CONCURRENCY" envDefault:"1"`
	// DefaultTimeout is the ceiling applied to a task when its job descriptor
	// does not specify one (spec §6 default, 3600s).
	DefaultTimeout time.Duration `env:"DEFAULT_TIMEOUT" envDefault:"1h"`
	// RetryBaseDelay is the base backoff before re-enqueuing a RETRY task.
	RetryBaseDelay time.Duration `env:"RETRY_BASE_DELAY" envDefault:"250ms"`
	// RetryMaxDelay caps the exponential backoff applied between retries.
	RetryMaxDelay time.Duration `env:"RETRY_MAX_DELAY" envDefault:"30s"`
}

// Sanitize clamps WorkerConfig to safe values.
func (c *WorkerConfig) Sanitize() {
	if c.Backlog <= 0 {
		c.Backlog = 1
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = time.Hour
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 250 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
}
