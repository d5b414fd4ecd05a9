// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"github.com/holomush/portal/internal/auth/postgres"
	"github.com/holomush/portal/internal/config"
	"github.com/holomush/portal/internal/observability"
	"github.com/holomush/portal/internal/store"
	"github.com/holomush/portal/internal/web"
)

// Database is the subset of *pgxpool.Pool the commands use.
type Database interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Status() ([]store.MigrationStatus, error)
	Close() error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// WebServer wraps the methods used from web.Server.
type WebServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// SessionPruner removes expired sessions.
type SessionPruner interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Deps contains injectable dependencies for the commands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// Connect opens the database.
	// Default: store.Connect with store.DefaultConnectOptions
	Connect func(ctx context.Context, databaseURL string) (Database, error)

	// NewMigrator creates a schema migrator.
	// Default: store.NewMigrator
	NewMigrator func(databaseURL string) (Migrator, error)

	// NewRedisClient creates the redis client for the redis session store.
	// Default: redis.NewClient
	NewRedisClient func(cfg config.RedisConfig) redis.UniversalClient

	// NewSessionPruner builds the pruner used by "sessions prune".
	// Default: postgres.NewSessionRepository
	NewSessionPruner func(db Database) SessionPruner

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, checks ...observability.Check) ObservabilityServer

	// WebServerFactory creates the web server.
	// Default: web.NewServer
	WebServerFactory func(addr string, handler http.Handler) WebServer

	// Getenv reads environment variables.
	// Default: os.Getenv
	Getenv func(string) string

	// Now returns the current time.
	// Default: time.Now
	Now func() time.Time
}

func (d *Deps) withDefaults() *Deps {
	out := Deps{}
	if d != nil {
		out = *d
	}
	if out.Connect == nil {
		out.Connect = func(ctx context.Context, databaseURL string) (Database, error) {
			pool, err := store.Connect(ctx, databaseURL, store.DefaultConnectOptions)
			if err != nil {
				return nil, err
			}
			return pool, nil
		}
	}
	if out.NewMigrator == nil {
		out.NewMigrator = func(databaseURL string) (Migrator, error) {
			m, err := store.NewMigrator(databaseURL)
			if err != nil {
				return nil, err
			}
			return m, nil
		}
	}
	if out.NewRedisClient == nil {
		out.NewRedisClient = func(cfg config.RedisConfig) redis.UniversalClient {
			return redis.NewClient(&redis.Options{
				Addr:     cfg.Addr,
				Password: cfg.Password,
				DB:       cfg.DB,
			})
		}
	}
	if out.NewSessionPruner == nil {
		out.NewSessionPruner = func(db Database) SessionPruner {
			return postgres.NewSessionRepository(db)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, checks ...observability.Check) ObservabilityServer {
			return observability.NewServer(addr, checks...)
		}
	}
	if out.WebServerFactory == nil {
		out.WebServerFactory = func(addr string, handler http.Handler) WebServer {
			return web.NewServer(addr, handler)
		}
	}
	if out.Getenv == nil {
		out.Getenv = os.Getenv
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return &out
}
