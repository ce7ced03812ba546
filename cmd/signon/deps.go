// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/holomush/signon/internal/auth"
	authpg "github.com/holomush/signon/internal/auth/postgres"
	"github.com/holomush/signon/internal/config"
	"github.com/holomush/signon/internal/observability"
	"github.com/holomush/signon/internal/store"
	"github.com/holomush/signon/internal/telnet"
)

// Deps contains injectable dependencies for the CLI commands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// BackendFactory connects the auth backend.
	// Default: PostgreSQL via store.Connect
	BackendFactory func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Backend, error)

	// MigratorFactory creates a schema migrator for a database URL.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServerWithLogger
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// TelnetServerFactory creates the telnet server.
	// Default: telnet.NewServer
	TelnetServerFactory func(addr string, svc telnet.AuthService, cfg telnet.Config) (TelnetServer, error)
}

func (d *Deps) withDefaults() *Deps {
	out := Deps{}
	if d != nil {
		out = *d
	}
	if out.BackendFactory == nil {
		out.BackendFactory = newPostgresBackend
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(databaseURL string) (Migrator, error) {
			return store.NewMigrator(databaseURL)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServerWithLogger(addr, ready, logger)
		}
	}
	if out.TelnetServerFactory == nil {
		out.TelnetServerFactory = func(addr string, svc telnet.AuthService, cfg telnet.Config) (TelnetServer, error) {
			return telnet.NewServer(addr, svc, cfg)
		}
	}
	return &out
}

// Backend is the auth service together with the resources it holds.
type Backend interface {
	telnet.AuthService
	CreateUser(ctx context.Context, id, name string, role auth.Role, password string) (*auth.User, error)
	StoreUser(ctx context.Context, id, name string, role auth.Role, passwordHash string) (*auth.User, error)
	PurgeExpiredSessions(ctx context.Context) (int64, error)
	Close()
}

// AutoMigrator is the part of Migrator that serve uses.
type AutoMigrator interface {
	Up() error
	Close() error
}

// Migrator interface wraps the methods used from store.Migrator.
type Migrator interface {
	AutoMigrator
	Down() error
	Steps(n int) error
	Force(version int) error
	Status() (store.MigrationStatus, error)
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// TelnetServer interface wraps the methods used from telnet.Server.
type TelnetServer interface {
	Run(ctx context.Context) error
	Addr() string
}

// postgresBackend is an auth.Service backed by a connection pool.
type postgresBackend struct {
	*auth.Service
	pool *pgxpool.Pool
}

func newPostgresBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Backend, error) {
	pool, err := store.Connect(ctx, cfg.Database.URL, store.ConnectOptions{
		Attempts: cfg.Database.ConnectAttempts,
		Backoff:  cfg.Database.ConnectBackoff,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	svc, err := auth.NewAuthServiceWithLogger(
		authpg.NewUserRepository(pool),
		authpg.NewSessionRepository(pool),
		auth.NewArgon2idHasher(),
		logger,
		auth.WithSessionTTL(cfg.Auth.SessionTTL),
	)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &postgresBackend{Service: svc, pool: pool}, nil
}

func (b *postgresBackend) Close() {
	b.pool.Close()
}
