// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/signon/internal/observability"
	"github.com/holomush/signon/internal/telnet"
	"github.com/holomush/signon/pkg/errutil"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return newServeCmd(nil)
}

func newServeCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the telnet sign-on service",
		Long: `Connect to PostgreSQL, apply pending migrations (unless
database.auto_migrate is false), and serve the sign-on screen over telnet
until SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, deps)
		},
	}
}

// runServeWithDeps starts the service with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *Deps) error {
	deps = deps.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}

	logger.Info("starting sign-on service",
		"telnet_addr", cfg.Telnet.Addr,
		"metrics_addr", cfg.Metrics.Addr,
		"log_format", cfg.Log.Format,
	)

	if cfg.Database.AutoMigrate {
		if err := runAutoMigration(cfg.Database.URL, deps.MigratorFactory, logger); err != nil {
			return err
		}
	} else {
		logger.Info("automatic migration disabled")
	}

	backend, err := deps.BackendFactory(ctx, cfg, logger)
	if err != nil {
		return oops.With("operation", "connect auth backend").Wrap(err)
	}
	defer backend.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ready atomic.Bool
	var metrics *observability.Metrics
	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, ready.Load, logger)
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability", logger)
		metrics = obsServer.Metrics()
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	telnetServer, err := deps.TelnetServerFactory(cfg.Telnet.Addr, backend, telnet.Config{
		Routes:                 cfg.SignonRoutes(),
		ClearPasswordOnFailure: cfg.Form.ClearPasswordOnFailure,
		Metrics:                metrics,
		Logger:                 logger,
	})
	if err != nil {
		stopObservability(obsServer, logger)
		return oops.With("operation", "create telnet server").Wrap(err)
	}

	telnetErr := make(chan error, 1)
	go func() {
		telnetErr <- telnetServer.Run(ctx)
	}()

	if cfg.Auth.PurgeInterval > 0 {
		go purgeExpiredSessions(ctx, backend, cfg.Auth.PurgeInterval, logger)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ready.Store(true)
	cmd.Println("Sign-on service started")

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-telnetErr:
		runErr = oops.With("operation", "serve telnet").Wrap(err)
		telnetErr = nil
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	ready.Store(false)
	cancel()

	if telnetErr != nil {
		select {
		case err := <-telnetErr:
			if err != nil {
				errutil.LogWarn(logger, "telnet server stopped with error", err)
			}
		case <-time.After(shutdownTimeout):
			logger.Warn("telnet server did not stop in time")
		}
	}
	stopObservability(obsServer, logger)

	logger.Info("shutdown complete")
	return runErr
}

// runAutoMigration applies pending migrations. A failure to close the
// migrator is logged but does not fail startup.
func runAutoMigration(databaseURL string, factory func(string) (Migrator, error), logger *slog.Logger) error {
	migrator, err := factory(databaseURL)
	if err != nil {
		return oops.Code("MIGRATION_INIT_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("error closing migrator",
				"error", closeErr.Error(),
				"note", "database connection may leak",
			)
		}
	}()

	logger.Info("applying database migrations")
	if err := migrator.Up(); err != nil {
		return oops.Code("AUTO_MIGRATION_FAILED").With("operation", "apply migrations").Wrap(err)
	}
	return nil
}

// purgeExpiredSessions deletes expired sessions every interval until ctx
// is cancelled.
func purgeExpiredSessions(ctx context.Context, backend Backend, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := backend.PurgeExpiredSessions(ctx)
			if err != nil {
				if ctx.Err() == nil {
					errutil.LogWarn(logger, "session purge failed", err)
				}
				continue
			}
			if n > 0 {
				logger.Info("purged expired sessions", "count", n)
			}
		}
	}
}

// monitorServerErrors cancels ctx when the server reports an error.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err.Error(),
			)
			cancel()
		}
	case <-ctx.Done():
	}
}

func stopObservability(obsServer ObservabilityServer, logger *slog.Logger) {
	if obsServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := obsServer.Stop(ctx); err != nil {
		logger.Warn("error stopping observability server", "error", err.Error())
	}
}
