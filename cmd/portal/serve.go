// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/holomush/portal/internal/auth"
	"github.com/holomush/portal/internal/auth/postgres"
	authredis "github.com/holomush/portal/internal/auth/redis"
	"github.com/holomush/portal/internal/config"
	"github.com/holomush/portal/internal/observability"
	"github.com/holomush/portal/internal/web"
)

const (
	shutdownTimeout  = 10 * time.Second
	redisPingTimeout = 2 * time.Second
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web server",
		Long: `Start the portal web server and, unless disabled, the metrics and
health server. Pending migrations are applied first when auto-migrate is on.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, deps.Getenv)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, deps, cmd.OutOrStdout())
		},
	}

	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runServe runs the portal until ctx is done or a server fails.
func runServe(ctx context.Context, cfg *config.Config, deps *Deps, out io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := setupLogging(cfg)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	logger.Info("starting portal",
		"version", version,
		"http_addr", cfg.HTTP.Addr,
		"session_store", cfg.Session.Store)

	if cfg.Database.AutoMigrate {
		if err := migrateUp(deps, cfg.Database.URL); err != nil {
			return err
		}
	}

	db, err := deps.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return oops.With("operation", "connect to database").Wrap(err)
	}
	defer db.Close()

	checks := []observability.Check{{Name: "database", Ping: db.Ping}}

	var sessions auth.SessionStore
	switch cfg.Session.Store {
	case config.StoreRedis:
		client := deps.NewRedisClient(cfg.Redis)
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				logger.Debug("error closing redis client", "error", closeErr)
			}
		}()
		if err := pingRedis(ctx, client); err != nil {
			return err
		}
		checks = append(checks, observability.Check{
			Name:  "redis",
			Ping: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
		sessions = authredis.NewSessionStore(client, cfg.Redis.Prefix)
	default:
		sessions = postgres.NewSessionRepository(db)
	}

	hasher, err := auth.NewBcryptHasher(cfg.Auth.BcryptCost)
	if err != nil {
		return err
	}

	svc, err := auth.NewService(postgres.NewAccountRepository(db), sessions, hasher,
		auth.WithLogger(logger),
		auth.WithSessionTTL(cfg.Session.TTL),
		auth.WithRememberTTL(cfg.Session.RememberTTL),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var obsServer ObservabilityServer
	var metrics *observability.Metrics
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, checks...)
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.Metrics.Addr).Wrap(err)
		}
		defer stopServer(logger, "observability", obsServer)
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
		metrics = obsServer.Metrics()
	}

	handler, err := web.NewHandler(svc, web.Options{
		CookieName:   cfg.Session.CookieName,
		CookieSecure: cfg.Session.CookieSecure,
		Fallback:     cfg.HTTP.GuardFallback,
		Logger:       logger,
		Metrics:      metrics,
	})
	if err != nil {
		return err
	}

	webServer := deps.WebServerFactory(cfg.HTTP.Addr, handler)
	webErrCh, err := webServer.Start()
	if err != nil {
		return oops.Code("WEB_START_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}
	defer stopServer(logger, "web", webServer)
	go monitorServerErrors(ctx, cancel, webErrCh, "web")

	//nolint:errcheck // best-effort console banner
	fmt.Fprintf(out, "Portal listening on %s\n", webServer.Addr())
	logger.Info("portal ready", "http_addr", webServer.Addr())

	<-ctx.Done()
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	logger.Info("shutting down")
	return nil
}

func migrateUp(deps *Deps, databaseURL string) error {
	m, err := deps.NewMigrator(databaseURL)
	if err != nil {
		return oops.With("operation", "auto-migrate").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			slog.Debug("error closing migrator", "error", closeErr)
		}
	}()
	if err := m.Up(); err != nil {
		return oops.With("operation", "auto-migrate").Wrap(err)
	}
	slog.Info("migrations applied")
	return nil
}

func pingRedis(ctx context.Context, client redis.UniversalClient) error {
	ctx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return oops.Code("REDIS_CONNECT_FAILED").With("operation", "ping redis").Wrap(err)
	}
	return nil
}

type stoppable interface {
	Stop(ctx context.Context) error
}

func stopServer(logger *slog.Logger, name string, s stoppable) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		logger.Warn("error stopping server", "server", name, "error", err)
	}
}

// monitorServerErrors cancels ctx with the first error a server reports.
// It exits when an error arrives, the channel closes, or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelCauseFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok || err == nil {
			return
		}
		slog.Error("server error, triggering shutdown", "server", serverName, "error", err)
		cancel(oops.Code("SERVER_FAILED").With("server", serverName).Wrap(err))
	case <-ctx.Done():
	}
}
