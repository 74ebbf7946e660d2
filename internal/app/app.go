// Package app assembles the connector from configuration. Both the HTTP
// server and the dsrctl CLI start here.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailgun-dsr-connector/internal/archive"
	"github.com/ignite/mailgun-dsr-connector/internal/config"
	"github.com/ignite/mailgun-dsr-connector/internal/contextstore"
	"github.com/ignite/mailgun-dsr-connector/internal/mailgun"
	"github.com/ignite/mailgun-dsr-connector/internal/pkg/distlock"
	"github.com/ignite/mailgun-dsr-connector/internal/pkg/logger"
	"github.com/ignite/mailgun-dsr-connector/internal/repository/postgres"
	"github.com/ignite/mailgun-dsr-connector/internal/service/dsr"
)

// App holds the wired components. Redis and DB are nil when disabled.
type App struct {
	Config   *config.Config
	Mailgun  *mailgun.Client
	Service  *dsr.Service
	Redis    *redis.Client
	DB       *sql.DB
	Contexts *contextstore.RedisStore
	Locks    *distlock.Factory
	Audit    *postgres.AuditRepo
}

// ConfigureLogging applies the logging section to the package logger.
func ConfigureLogging(cfg config.LoggingConfig) error {
	level, err := logger.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	logger.SetRedactPII(cfg.Redact())
	return nil
}

// New validates cfg and connects every enabled backend. On error, anything
// already opened is closed.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := ConfigureLogging(cfg.Logging); err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Mailgun = mailgun.NewClient(cfg.Mailgun)
	a.Service = dsr.NewService(a.Mailgun, dsr.OptionsFromConfig(cfg.Mailgun))

	if cfg.Redis.Enabled {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.Redis.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		a.Contexts = contextstore.NewRedisStore(a.Redis, cfg.Redis.ContextTTL())
		logger.Info("app: redis context store enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.ContextTTL())
	}

	if cfg.Audit.Enabled {
		db, err := postgres.Open(ctx, cfg.Audit.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.DB = db
		a.Audit = postgres.NewAuditRepo(a.DB)
		a.Service.SetRecorder(a.Audit)
		logger.Info("app: postgres audit enabled")
	}

	if a.Redis != nil || a.DB != nil {
		a.Locks = distlock.NewFactory(a.Redis, a.DB, cfg.Redis.LockTTL())
	}

	if cfg.Archive.Enabled {
		arch, err := archive.NewS3Archive(ctx, cfg.Archive.S3Bucket, cfg.Archive.S3Region, cfg.Archive.Prefix)
		if err != nil {
			return nil, err
		}
		a.Service.SetArchiver(arch)
		logger.Info("app: s3 access archive enabled", "bucket", cfg.Archive.S3Bucket, "prefix", cfg.Archive.Prefix)
	}

	return a, nil
}

// Close releases backend connections.
func (a *App) Close() {
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
