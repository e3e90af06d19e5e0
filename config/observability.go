package config

// ObservabilityConfig configures logging and metrics sinks.
type ObservabilityConfig struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	// LogFile, when set, routes structured logs through a rotating file sink
	// instead of stdout. Empty means stdout only.
	LogFile    string `env:"LOG_FILE"         envDefault:""`
	LogMaxSize int    `env:"LOG_MAX_SIZE_MB"  envDefault:"100"`
	LogMaxAge  int    `env:"LOG_MAX_AGE_DAYS" envDefault:"28"`
	LogMaxBack int    `env:"LOG_MAX_BACKUPS"  envDefault:"5"`

	// MetricsAddr, when set, serves Prometheus metrics at :addr/metrics.
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
	// StatsDAddr, when set, additionally emits metrics over the StatsD line protocol.
	StatsDAddr string `env:"STATSD_ADDR" envDefault:""`
}

// Sanitize clamps ObservabilityConfig to safe values.
func (c *ObservabilityConfig) Sanitize() {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		c.LogLevel = "info"
	}
	if c.LogMaxSize <= 0 {
		c.LogMaxSize = 100
	}
	if c.LogMaxAge <= 0 {
		c.LogMaxAge = 28
	}
	if c.LogMaxBack <= 0 {
		c.LogMaxBack = 5
	}
}
