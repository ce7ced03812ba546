// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package telnet

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/signon/internal/auth"
	"github.com/holomush/signon/internal/signon"
)

// ClientName is recorded as the client of every session opened over telnet.
const ClientName = "telnet"

// logoutTimeout bounds a best-effort backend logout.
const logoutTimeout = 5 * time.Second

// AuthService defines the authentication operations needed by telnet handlers.
type AuthService interface {
	// Login authenticates a user and creates a session.
	Login(ctx context.Context, userID, password, client, remoteAddr string) (*auth.LoginResult, error)

	// Logout invalidates a session.
	Logout(ctx context.Context, sessionID ulid.ULID) error

	// ValidateSession checks that the session behind token is still live.
	ValidateSession(ctx context.Context, token string) (*auth.Session, error)
}

// openSession is a backend session opened by this connection.
type openSession struct {
	id    ulid.ULID
	token string
}

// Authenticator adapts an AuthService to signon.Authenticator for one
// connection. It remembers the backend sessions it opened so they can be
// closed when the connection signs out or goes away.
type Authenticator struct {
	svc        AuthService
	remoteAddr string
	logger     *slog.Logger

	mu     sync.Mutex
	issued map[string]openSession
}

// NewAuthenticator creates an Authenticator with a no-op logger.
func NewAuthenticator(svc AuthService, remoteAddr string) (*Authenticator, error) {
	return NewAuthenticatorWithLogger(svc, remoteAddr, slog.New(slog.DiscardHandler))
}

// NewAuthenticatorWithLogger creates an Authenticator with the provided logger.
func NewAuthenticatorWithLogger(svc AuthService, remoteAddr string, logger *slog.Logger) (*Authenticator, error) {
	if svc == nil {
		return nil, oops.Errorf("auth service is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	return &Authenticator{
		svc:        svc,
		remoteAddr: remoteAddr,
		logger:     logger,
		issued:     make(map[string]openSession),
	}, nil
}

// Authenticate implements signon.Authenticator. Backend errors are returned
// unchanged so the sign-on store can classify them by code.
func (a *Authenticator) Authenticate(ctx context.Context, creds signon.Credentials) (*signon.User, error) {
	result, err := a.svc.Login(ctx, creds.UserID, creds.Password, ClientName, a.remoteAddr)
	if err != nil {
		return nil, err
	}
	if result == nil || result.User == nil || result.Session == nil {
		return nil, nil
	}

	sessionID := result.Session.ID.String()
	a.mu.Lock()
	a.issued[sessionID] = openSession{id: result.Session.ID, token: result.Token}
	a.mu.Unlock()

	return &signon.User{
		ID:        result.User.ID,
		Name:      result.User.Name,
		Role:      signon.Role(result.User.Role),
		SessionID: sessionID,
	}, nil
}

// Revoke logs out every backend session this Authenticator opened except
// keep. Failures are logged and otherwise ignored. It returns the number of
// sessions it attempted to close.
func (a *Authenticator) Revoke(ctx context.Context, keep string) int {
	a.mu.Lock()
	var revoke []ulid.ULID
	for key, s := range a.issued {
		if key == keep {
			continue
		}
		revoke = append(revoke, s.id)
		delete(a.issued, key)
	}
	a.mu.Unlock()

	if len(revoke) == 0 {
		return 0
	}

	// The connection context may already be cancelled when this runs.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoutTimeout)
	defer cancel()

	for _, id := range revoke {
		if err := a.svc.Logout(ctx, id); err != nil {
			a.logger.WarnContext(ctx, "best-effort logout failed",
				"event", "logout_failed",
				"operation", "logout",
				"session_id", id.String(),
				"error", err.Error(),
			)
		}
	}
	return len(revoke)
}

// Validate checks with the backend that sessionID, opened by this
// Authenticator, has not expired or been deleted. A session this
// connection does not hold is reported as SESSION_INVALID.
func (a *Authenticator) Validate(ctx context.Context, sessionID string) error {
	a.mu.Lock()
	s, ok := a.issued[sessionID]
	a.mu.Unlock()
	if !ok {
		return oops.Code("SESSION_INVALID").
			With("session_id", sessionID).
			Errorf("session is not open on this connection")
	}
	_, err := a.svc.ValidateSession(ctx, s.token)
	return err
}

// Outstanding returns the number of backend sessions still open.
func (a *Authenticator) Outstanding() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.issued)
}
