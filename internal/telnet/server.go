// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package telnet serves the sign-on screen over telnet.
package telnet

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/signon/internal/signon"
)

// ConnectionType is the metrics label for telnet connections.
const ConnectionType = "telnet"

// Server is a telnet server.
type Server struct {
	addr     string
	svc      AuthService
	cfg      Config
	logger   *slog.Logger
	listener net.Listener
	mu       sync.RWMutex
	conns    sync.WaitGroup
}

// NewServer creates a new telnet server. The routes in cfg are checked
// here so a bad route table fails at startup rather than per connection.
func NewServer(addr string, svc AuthService, cfg Config) (*Server, error) {
	if svc == nil {
		return nil, oops.Errorf("auth service is required")
	}
	noop := signon.NavigatorFunc(func(string, bool) {})
	if _, err := signon.NewRedirectGuard(noop, cfg.Routes); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		addr:   addr,
		svc:    svc,
		cfg:    cfg,
		logger: cfg.Logger,
	}, nil
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run starts the server and blocks until ctx is cancelled and every
// connection has finished.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return oops.Code("TELNET_LISTEN_FAILED").With("addr", s.addr).Wrap(err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("telnet server started", "addr", listener.Addr().String())

	stop := context.AfterFunc(ctx, func() {
		if err := listener.Close(); err != nil {
			s.logger.Debug("error closing listener", "error", err)
		}
	})
	defer stop()
	defer s.conns.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return oops.Code("TELNET_ACCEPT_FAILED").Wrap(err)
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.cfg.Metrics.RecordConnection(ConnectionType)
		handler, err := NewConnectionHandler(conn, s.svc, s.cfg)
		if err != nil {
			s.logger.Error("failed to create connection handler",
				"remote_addr", conn.RemoteAddr().String(),
				"error", err,
			)
			if closeErr := conn.Close(); closeErr != nil {
				s.logger.Debug("error closing connection", "error", closeErr)
			}
			continue
		}

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			handler.Handle(ctx)
		}()
	}
}
