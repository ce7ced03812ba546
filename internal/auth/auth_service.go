// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/signon/pkg/errutil"
)

var tracer = otel.Tracer("signon/auth")

// Service provides authentication operations.
type Service struct {
	users      UserRepository
	sessions   SessionRepository
	hasher     PasswordHasher
	logger     *slog.Logger
	sessionTTL time.Duration
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithSessionTTL sets how long new sessions remain valid. Non-positive
// values keep the default.
func WithSessionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	User    *User
	Session *Session
	// Token is the plaintext session token. Only its hash is stored.
	Token string
}

// NewAuthService creates a new Service with a no-op logger.
func NewAuthService(users UserRepository, sessions SessionRepository, hasher PasswordHasher, opts ...ServiceOption) (*Service, error) {
	return NewAuthServiceWithLogger(users, sessions, hasher, slog.New(slog.DiscardHandler), opts...)
}

// NewAuthServiceWithLogger creates a new Service with the provided logger.
func NewAuthServiceWithLogger(users UserRepository, sessions SessionRepository, hasher PasswordHasher, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if users == nil {
		return nil, oops.Errorf("users repository is required")
	}
	if sessions == nil {
		return nil, oops.Errorf("sessions repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	s := &Service{
		users:      users,
		sessions:   sessions,
		hasher:     hasher,
		logger:     logger,
		sessionTTL: SessionTokenExpiry,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// dummyPasswordHash is used when a user doesn't exist to prevent timing attacks.
// We still run password verification to make response time consistent.
// This is NOT a real credential - it's a fake hash that will never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Login authenticates a user and creates a session. client and remoteAddr
// describe the connection and are stored with the session.
//
// Failures carry one of the codes AUTH_INVALID_INPUT, AUTH_USER_NOT_FOUND,
// AUTH_INVALID_CREDENTIALS, AUTH_ACCOUNT_LOCKED or AUTH_BACKEND_UNAVAILABLE.
// Password verification always runs, even for unknown users.
func (s *Service) Login(ctx context.Context, userID, password, client, remoteAddr string) (*LoginResult, error) {
	ctx, span := tracer.Start(ctx, "auth.login",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("session.client", client),
		),
	)
	defer span.End()

	result, err := s.login(ctx, userID, password, client, remoteAddr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if code := errutil.Code(err); code != "" {
			span.SetAttributes(attribute.String("error.code", code))
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("session.id", result.Session.ID.String()))
	return result, nil
}

func (s *Service) login(ctx context.Context, userID, password, client, remoteAddr string) (*LoginResult, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	user, lookupErr := s.users.GetByID(ctx, userID)

	var targetHash string
	var userExists bool

	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, backendUnavailable("get user by id", lookupErr)
		}
		targetHash = dummyPasswordHash
	} else {
		targetHash = user.PasswordHash
		userExists = true
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if !userExists {
		return nil, oops.Code("AUTH_USER_NOT_FOUND").
			With("user_id", userID).
			Errorf("user not found")
	}
	if verifyErr != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("user_id", userID).
			Wrap(verifyErr)
	}

	if !valid {
		user.RecordFailure()
		if err := s.users.Update(ctx, user); err != nil {
			s.logBestEffort(ctx, "record_failure", user.ID, err)
		}
		if user.IsLocked() {
			return nil, accountLocked(user)
		}
		return nil, oops.Code("AUTH_INVALID_CREDENTIALS").
			With("user_id", userID).
			Errorf("invalid user ID or password")
	}

	// Lockout is checked after verification to keep timing uniform.
	if user.IsLocked() {
		return nil, accountLocked(user)
	}

	user.RecordSuccess()
	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		if newHash, hashErr := s.hasher.Hash(password); hashErr == nil {
			user.PasswordHash = newHash
		}
	}
	if err := s.users.Update(ctx, user); err != nil {
		s.logBestEffort(ctx, "record_success", user.ID, err)
	}

	token, tokenHash, err := GenerateSessionToken()
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "generate session token").
			Wrap(err)
	}

	session, err := NewSession(user.ID, tokenHash, client, remoteAddr, time.Now().Add(s.sessionTTL))
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "create session").
			Wrap(err)
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, backendUnavailable("persist session", err)
	}

	return &LoginResult{User: user, Session: session, Token: token}, nil
}

// Logout invalidates a session.
func (s *Service) Logout(ctx context.Context, sessionID ulid.ULID) error {
	err := s.sessions.Delete(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("SESSION_NOT_FOUND").
				With("session_id", sessionID.String()).
				Errorf("session not found")
		}
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("operation", "delete session").
			With("session_id", sessionID.String()).
			Wrap(err)
	}
	return nil
}

// ValidateSession validates a session token and returns the session if valid.
// Also updates the LastSeenAt timestamp.
func (s *Service) ValidateSession(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, oops.Code("SESSION_TOKEN_EMPTY").Errorf("session token cannot be empty")
	}

	session, err := s.sessions.GetByTokenHash(ctx, HashSessionToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("SESSION_INVALID").Errorf("invalid session token")
		}
		return nil, oops.Code("SESSION_VALIDATE_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}

	if session.IsExpired() {
		return nil, oops.Code("SESSION_EXPIRED").Errorf("session has expired")
	}

	if err := s.sessions.UpdateLastSeen(ctx, session.ID, time.Now()); err != nil {
		s.logger.WarnContext(ctx, "best-effort session update failed",
			"event", "session_update_failed",
			"operation", "update_last_seen",
			"session_id", session.ID.String(),
			"error", err.Error(),
		)
	}

	return session, nil
}

// CreateUser hashes password and stores a new user. The ID and password
// are upper-cased the same way sign-on input is.
func (s *Service) CreateUser(ctx context.Context, id, name string, role Role, password string) (*User, error) {
	id = strings.ToUpper(id)
	password = strings.ToUpper(password)
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("AUTH_CREATE_USER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	return s.StoreUser(ctx, id, name, role, hash)
}

// StoreUser stores a user whose password is already hashed.
func (s *Service) StoreUser(ctx context.Context, id, name string, role Role, passwordHash string) (*User, error) {
	user, err := NewUser(strings.ToUpper(id), name, role, passwordHash)
	if err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "user created", "user_id", user.ID, "role", string(user.Role))
	return user, nil
}

// PurgeExpiredSessions deletes expired sessions and returns how many were
// removed.
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	n, err := s.sessions.DeleteExpired(ctx)
	if err != nil {
		return 0, oops.Code("SESSION_PURGE_FAILED").Wrap(err)
	}
	return n, nil
}

func (s *Service) logBestEffort(ctx context.Context, operation, userID string, err error) {
	s.logger.WarnContext(ctx, "best-effort user update failed",
		"event", "user_update_failed",
		"operation", operation,
		"user_id", userID,
		"error", err.Error(),
	)
}

func accountLocked(user *User) error {
	return oops.Code("AUTH_ACCOUNT_LOCKED").
		With("user_id", user.ID).
		With("locked_until", user.LockedUntil).
		With("remaining", LockoutRemaining(user.LockedUntil).String()).
		Errorf("account is temporarily locked")
}

func backendUnavailable(operation string, err error) error {
	return oops.Code("AUTH_BACKEND_UNAVAILABLE").
		With("operation", operation).
		With("cause", err.Error()).
		Wrap(ErrBackendUnavailable)
}
