package config

import "time"

// SchedulerConfig configures the periodic-job calendar (spec §4.3).
type SchedulerConfig struct {
	// TickInterval is how often the monitor's event loop calls Scheduler.Tick.
	TickInterval time.Duration `env:"TICK_INTERVAL" envDefault:"1s"`
	// BatchSize is parsed and clamped but not read by the scheduler; Tick
	// materializes every due calendar entry.
	BatchSize int `env:"BATCH_SIZE" envDefault:"25"`
	// ReaperInterval is how often the worker-crash reaper sweeps STARTED tasks.
	ReaperInterval time.Duration `env:"REAPER_INTERVAL" envDefault:"10s"`
}

// Sanitize clamps SchedulerConfig to safe values.
func (c *SchedulerConfig) Sanitize() {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 25
	}
	if c.ReaperInterval <= 0 {
		c.ReaperInterval = 10 * time.Second
	}
}
