// Package db is the postgres backend for the shared key-value store. Strings,
// sorted sets and lists live in three tables managed through gorm.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"horse.fit/leadscan/internal/config"
)

// PoolOptions tunes the connection pool behind the KV tables.
type PoolOptions struct {
	DSN      string
	MinConns int
	MaxConns int
	// LogLevel and Environment pick the SQL log verbosity.
	LogLevel        string
	Environment     string
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	Logger          zerolog.Logger
}

// OptionsFromConfig maps process config onto pool options.
func OptionsFromConfig(cfg *config.Config, log zerolog.Logger) PoolOptions {
	return PoolOptions{
		DSN:         cfg.DatabaseURL,
		MinConns:    int(cfg.DBMinConns),
		MaxConns:    int(cfg.DBMaxConns),
		LogLevel:    cfg.LogLevel,
		Environment: cfg.Environment,
		Logger:      log,
	}
}

type Pool struct {
	gdb   *gorm.DB
	sqlDB *sql.DB
}

// NewPool opens the database, applies pool limits, pings and migrates the KV
// tables.
func NewPool(ctx context.Context, opts PoolOptions) (*Pool, error) {
	if strings.TrimSpace(opts.DSN) == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = 8
	}
	if opts.ConnMaxIdleTime <= 0 {
		opts.ConnMaxIdleTime = 5 * time.Minute
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = 30 * time.Minute
	}

	gdb, err := gorm.Open(postgres.Open(opts.DSN), &gorm.Config{
		Logger: newGormLogger(opts.Logger, resolveGormLogLevel(opts.LogLevel, opts.Environment)),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get gorm sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(opts.MaxConns)
	sqlDB.SetMaxIdleConns(max(1, min(opts.MinConns, opts.MaxConns)))
	sqlDB.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	pool := &Pool{gdb: gdb, sqlDB: sqlDB}
	if err := pool.autoMigrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("auto-migrate kv tables: %w", err)
	}
	return pool, nil
}

func (p *Pool) Ping(ctx context.Context) error {
	if p == nil || p.sqlDB == nil {
		return fmt.Errorf("database pool is not initialized")
	}
	return p.sqlDB.PingContext(ctx)
}

func (p *Pool) Close() error {
	if p == nil || p.sqlDB == nil {
		return nil
	}
	return p.sqlDB.Close()
}

func (p *Pool) GORM() *gorm.DB {
	if p == nil {
		return nil
	}
	return p.gdb
}

func resolveGormLogLevel(appLogLevel, environment string) logger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(appLogLevel)) {
	case "trace", "debug":
		return logger.Info
	case "warn", "warning", "info", "":
		return logger.Warn
	case "error":
		return logger.Error
	case "silent", "disabled":
		return logger.Silent
	default:
		if strings.EqualFold(strings.TrimSpace(environment), "local") {
			return logger.Warn
		}
		return logger.Error
	}
}
