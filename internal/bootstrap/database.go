package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/redis/go-redis/v9"

	"github.com/relayq/relayq/config"
)

// DatabaseConfig groups the connection settings ConnectDB/ConnectRedis need.
type DatabaseConfig struct {
	DBConfig    config.DBConfig
	RedisConfig config.RedisConfig
	Logger      *slog.Logger
}

// ConnectDB opens and verifies the Postgres connection backing the
// Postgres-flavored Task Store (spec §4.2).
func ConnectDB(cfg DatabaseConfig) (*sql.DB, error) {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.DBConfig.User, cfg.DBConfig.Password),
		Host:   net.JoinHostPort(cfg.DBConfig.Host, strconv.Itoa(cfg.DBConfig.Port)),
		Path:   "/" + cfg.DBConfig.Name,
	}
	q := u.Query()
	q.Set("sslmode", cfg.DBConfig.SSLMode)
	u.RawQuery = q.Encode()

	db, err := sql.Open("pgx", u.String())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if pingErr := db.PingContext(ctx); pingErr != nil {
		if closeErr := db.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close database connection: %w", closeErr))
		}
		return nil, fmt.Errorf("ping database: %w", pingErr)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("database connected", "host", cfg.DBConfig.Host, "port", cfg.DBConfig.Port, "database", cfg.DBConfig.Name)
	}

	return db, nil
}

// ConnectRedis establishes the Redis connection backing the Redis-flavored
// Queue (spec §4.4), choosing a direct, sentinel, or cluster client.
//
//nolint:ireturn // returning redis.UniversalClient lets callers pick single, sentinel, or cluster at runtime.
func ConnectRedis(cfg DatabaseConfig) (redis.UniversalClient, error) {
	var client redis.UniversalClient

	switch {
	case cfg.RedisConfig.UseCluster:
		if len(cfg.RedisConfig.ClusterNodes) == 0 {
			return nil, errors.New("redis cluster configuration requires at least one node")
		}
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    cfg.RedisConfig.ClusterNodes,
			Password: cfg.RedisConfig.Password,
		})
	case cfg.RedisConfig.UseSentinel:
		if len(cfg.RedisConfig.SentinelNodes) == 0 {
			return nil, errors.New("redis sentinel configuration requires at least one sentinel node")
		}
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:       cfg.RedisConfig.SentinelMasterName,
			SentinelAddrs:    cfg.RedisConfig.SentinelNodes,
			Password:         cfg.RedisConfig.Password,
			SentinelPassword: cfg.RedisConfig.SentinelPassword,
		})
	default:
		if cfg.RedisConfig.URI == "" {
			return nil, errors.New("redis direct configuration requires a URI")
		}
		if opt, err := redis.ParseURL(cfg.RedisConfig.URI); err == nil {
			client = redis.NewClient(opt)
		} else {
			client = redis.NewClient(&redis.Options{Addr: cfg.RedisConfig.URI, Password: cfg.RedisConfig.Password})
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if pingErr := client.Ping(ctx).Err(); pingErr != nil {
		if closeErr := client.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close redis client: %w", closeErr))
		}
		return nil, fmt.Errorf("ping redis: %w", pingErr)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("redis connected")
	}

	return client, nil
}
