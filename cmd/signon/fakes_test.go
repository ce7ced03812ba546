// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/holomush/signon/internal/auth"
	"github.com/holomush/signon/internal/config"
	"github.com/holomush/signon/internal/observability"
	"github.com/holomush/signon/internal/store"
	"github.com/holomush/signon/internal/telnet"
)

type createdUser struct {
	id, name string
	role     auth.Role
	secret   string
	hashed   bool
}

// fakeBackend is an in-memory Backend.
type fakeBackend struct {
	mu       sync.Mutex
	existing map[string]bool
	created  []createdUser
	purgeErr error
	purges   atomic.Int64
	closed   atomic.Bool
}

func newFakeBackend(existing ...string) *fakeBackend {
	b := &fakeBackend{existing: make(map[string]bool)}
	for _, id := range existing {
		b.existing[id] = true
	}
	return b
}

func (b *fakeBackend) Login(_ context.Context, _, _, _, _ string) (*auth.LoginResult, error) {
	return nil, oops.Code("AUTH_INVALID_CREDENTIALS").Errorf("invalid user ID or password")
}

func (b *fakeBackend) Logout(_ context.Context, _ ulid.ULID) error {
	return nil
}

func (b *fakeBackend) ValidateSession(_ context.Context, _ string) (*auth.Session, error) {
	return nil, oops.Code("SESSION_INVALID").Errorf("invalid session token")
}

func (b *fakeBackend) CreateUser(_ context.Context, id, name string, role auth.Role, password string) (*auth.User, error) {
	return b.add(createdUser{id: strings.ToUpper(id), name: name, role: role, secret: password})
}

func (b *fakeBackend) StoreUser(_ context.Context, id, name string, role auth.Role, passwordHash string) (*auth.User, error) {
	return b.add(createdUser{id: strings.ToUpper(id), name: name, role: role, secret: passwordHash, hashed: true})
}

func (b *fakeBackend) add(u createdUser) (*auth.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.existing[u.id] {
		return nil, oops.Code("AUTH_USER_EXISTS").With("user_id", u.id).Errorf("user already exists")
	}
	b.existing[u.id] = true
	b.created = append(b.created, u)
	return &auth.User{ID: u.id, Name: u.name, Role: u.role}, nil
}

func (b *fakeBackend) PurgeExpiredSessions(_ context.Context) (int64, error) {
	b.purges.Add(1)
	if b.purgeErr != nil {
		return 0, b.purgeErr
	}
	return 1, nil
}

func (b *fakeBackend) Close() {
	b.closed.Store(true)
}

func (b *fakeBackend) createdUsers() []createdUser {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]createdUser(nil), b.created...)
}

// mockMigrator implements Migrator for testing.
type mockMigrator struct {
	upCalled    bool
	upError     error
	downCalled  bool
	steps       []int
	forced      []int
	status      store.MigrationStatus
	closeCalled bool
	closeError  error
}

func (m *mockMigrator) Up() error {
	m.upCalled = true
	return m.upError
}

func (m *mockMigrator) Down() error {
	m.downCalled = true
	return nil
}

func (m *mockMigrator) Steps(n int) error {
	m.steps = append(m.steps, n)
	return nil
}

func (m *mockMigrator) Force(version int) error {
	m.forced = append(m.forced, version)
	return nil
}

func (m *mockMigrator) Status() (store.MigrationStatus, error) {
	return m.status, nil
}

func (m *mockMigrator) Close() error {
	m.closeCalled = true
	return m.closeError
}

type mockObservabilityServer struct {
	metrics  *observability.Metrics
	started  bool
	stopped  bool
	startErr error
}

func (s *mockObservabilityServer) Start() (<-chan error, error) {
	s.started = true
	return make(chan error), s.startErr
}

func (s *mockObservabilityServer) Stop(_ context.Context) error {
	s.stopped = true
	return nil
}

func (s *mockObservabilityServer) Addr() string {
	return "127.0.0.1:9101"
}

func (s *mockObservabilityServer) Metrics() *observability.Metrics {
	return s.metrics
}

// mockTelnetServer blocks in Run until ctx is cancelled, or fails at once
// when runErr is set.
type mockTelnetServer struct {
	addr    string
	cfg     telnet.Config
	started chan struct{}
	runErr  error
}

func (s *mockTelnetServer) Run(ctx context.Context) error {
	close(s.started)
	if s.runErr != nil {
		return s.runErr
	}
	<-ctx.Done()
	return nil
}

func (s *mockTelnetServer) Addr() string {
	return s.addr
}

// harness wires fakes into Deps and records what the commands asked for.
type harness struct {
	backend       *fakeBackend
	migrator      *mockMigrator
	obs           *mockObservabilityServer
	telnet        *mockTelnetServer
	backendErr    error
	migratorCalls int
	backendCfg    *config.Config
}

func newHarness() *harness {
	return &harness{
		backend:  newFakeBackend(),
		migrator: &mockMigrator{},
		obs:      &mockObservabilityServer{metrics: observability.NewMetrics(prometheus.NewRegistry())},
		telnet:   &mockTelnetServer{started: make(chan struct{})},
	}
}

func (h *harness) deps() *Deps {
	return &Deps{
		BackendFactory: func(_ context.Context, cfg *config.Config, _ *slog.Logger) (Backend, error) {
			h.backendCfg = cfg
			if h.backendErr != nil {
				return nil, h.backendErr
			}
			return h.backend, nil
		},
		MigratorFactory: func(_ string) (Migrator, error) {
			h.migratorCalls++
			return h.migrator, nil
		},
		ObservabilityServerFactory: func(_ string, _ observability.ReadinessChecker, _ *slog.Logger) ObservabilityServer {
			return h.obs
		},
		TelnetServerFactory: func(addr string, _ telnet.AuthService, cfg telnet.Config) (TelnetServer, error) {
			h.telnet.addr = addr
			h.telnet.cfg = cfg
			return h.telnet, nil
		},
	}
}

// isolate points configuration discovery at an empty directory and
// restores the default logger afterwards.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	configFile = ""
	old := slog.Default()
	t.Cleanup(func() { slog.SetDefault(old) })
}

// execute runs the root command with args and returns stdout.
func execute(ctx context.Context, deps *Deps, args ...string) (string, error) {
	cmd := newRootCmd(deps)
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

// safeBuffer is a bytes.Buffer safe for a logger writing from another
// goroutine.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
