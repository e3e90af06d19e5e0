// Package bootstrap wires config, infrastructure connections, and the
// monitor/worker process graphs together for the cmd/ entrypoints.
package bootstrap

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/relayq/relayq/config"
)

// InitLogger builds the process-wide structured logger from cfg's
// Observability settings: JSON to stdout, or a rotating file sink (via
// lumberjack) when LogFile is set.
func InitLogger(cfg config.ObservabilityConfig) *slog.Logger {
	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSize,
			MaxAge:     cfg.LogMaxAge,
			MaxBackups: cfg.LogMaxBack,
		}
	}

	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadConfig loads AppConfig from environment variables.
func LoadConfig() (config.AppConfig, error) {
	var cfg config.AppConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.Sanitize()
	return cfg, nil
}

// ValidateServiceConfig checks that the configuration is complete enough to
// start a process. Individual entrypoints decide which fields they require.
func ValidateServiceConfig(cfg *config.AppConfig) error {
	if cfg == nil {
		return errors.New("service config is required")
	}
	if cfg.Queue.Backend == config.QueueBackendRedis && cfg.Redis.URI == "" {
		return errors.New("queue backend \"redis\" requires REDIS_URI")
	}
	return nil
}
