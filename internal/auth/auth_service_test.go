// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"

	"github.com/holomush/signon/internal/auth"
	"github.com/holomush/signon/internal/auth/mocks"
	"github.com/holomush/signon/pkg/errutil"
)

const testHash = "$argon2id$v=19$m=65536,t=1,p=4$salt$hash"

type serviceFixture struct {
	users    *mocks.MockUserRepository
	sessions *mocks.MockSessionRepository
	hasher   *mocks.MockPasswordHasher
	svc      *auth.Service
}

func newServiceFixture(t *testing.T, opts ...auth.ServiceOption) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		users:    mocks.NewMockUserRepository(t),
		sessions: mocks.NewMockSessionRepository(t),
		hasher:   mocks.NewMockPasswordHasher(t),
	}
	svc, err := auth.NewAuthService(f.users, f.sessions, f.hasher, opts...)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func testUser(failures int, lockedUntil *time.Time) *auth.User {
	return &auth.User{
		ID:             "ADMIN001",
		Name:           "Administrator",
		Role:           auth.RoleAdmin,
		PasswordHash:   testHash,
		FailedAttempts: failures,
		LockedUntil:    lockedUntil,
	}
}

func TestNewAuthService_NilDependencies(t *testing.T) {
	tests := []struct {
		name        string
		users       auth.UserRepository
		sessions    auth.SessionRepository
		hasher      auth.PasswordHasher
		expectError string
	}{
		{
			name:        "nil users repository",
			users:       nil,
			sessions:    mocks.NewMockSessionRepository(t),
			hasher:      mocks.NewMockPasswordHasher(t),
			expectError: "users repository is required",
		},
		{
			name:        "nil sessions repository",
			users:       mocks.NewMockUserRepository(t),
			sessions:    nil,
			hasher:      mocks.NewMockPasswordHasher(t),
			expectError: "sessions repository is required",
		},
		{
			name:        "nil password hasher",
			users:       mocks.NewMockUserRepository(t),
			sessions:    mocks.NewMockSessionRepository(t),
			hasher:      nil,
			expectError: "password hasher is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := auth.NewAuthService(tt.users, tt.sessions, tt.hasher)
			require.Error(t, err)
			assert.Nil(t, svc)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestNewAuthServiceWithLogger_NilLogger(t *testing.T) {
	svc, err := auth.NewAuthServiceWithLogger(
		mocks.NewMockUserRepository(t),
		mocks.NewMockSessionRepository(t),
		mocks.NewMockPasswordHasher(t),
		nil,
	)
	require.Error(t, err)
	assert.Nil(t, svc)
	assert.Contains(t, err.Error(), "logger")
}

func TestAuthService_Login(t *testing.T) {
	ctx := context.Background()
	// Repositories see the context of the login span, not ctx.
	spanCtx := mock.Anything

	t.Run("successful login creates session", func(t *testing.T) {
		f := newServiceFixture(t)
		user := testUser(0, nil)

		f.users.On("GetByID", spanCtx, "ADMIN001").Return(user, nil)
		f.hasher.On("Verify", "PASSWORD", testHash).Return(true, nil)
		f.hasher.On("NeedsUpgrade", testHash).Return(false)
		f.users.On("Update", spanCtx, mock.AnythingOfType("*auth.User")).Return(nil)
		f.sessions.On("Create", spanCtx, mock.AnythingOfType("*auth.Session")).Return(nil)

		result, err := f.svc.Login(ctx, "ADMIN001", "PASSWORD", "telnet", "192.168.1.1:4000")
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Equal(t, "ADMIN001", result.User.ID)
		assert.Equal(t, auth.RoleAdmin, result.User.Role)
		assert.Equal(t, "ADMIN001", result.Session.UserID)
		assert.Equal(t, "telnet", result.Session.Client)
		assert.Len(t, result.Token, 64)
		assert.Equal(t, auth.HashSessionToken(result.Token), result.Session.TokenHash)
	})

	t.Run("session TTL option sets expiry", func(t *testing.T) {
		f := newServiceFixture(t, auth.WithSessionTTL(time.Hour))
		user := testUser(0, nil)

		f.users.On("GetByID", spanCtx, "ADMIN001").Return(user, nil)
		f.hasher.On("Verify", "PASSWORD", testHash).Return(true, nil)
		f.hasher.On("NeedsUpgrade", testHash).Return(false)
		f.users.On("Update", spanCtx, mock.Anything).Return(nil)
		f.sessions.On("Create", spanCtx, mock.Anything).Return(nil)

		result, err := f.svc.Login(ctx, "ADMIN001", "PASSWORD", "telnet", "")
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(time.Hour), result.Session.ExpiresAt, time.Minute)
	})

	t.Run("malformed input never reaches the repository", func(t *testing.T) {
		f := newServiceFixture(t)

		for _, tc := range []struct{ id, pw string }{
			{"", "PASSWORD"},
			{"admin001", "PASSWORD"},
			{"ADMIN0012", "PASSWORD"},
			{"ADMIN001", ""},
			{"ADMIN001", "PASSWORD1"},
		} {
			_, err := f.svc.Login(ctx, tc.id, tc.pw, "telnet", "")
			errutil.AssertErrorCode(t, err, "AUTH_INVALID_INPUT")
		}
	})

	t.Run("unknown user still verifies against dummy hash", func(t *testing.T) {
		f := newServiceFixture(t)

		f.users.On("GetByID", spanCtx, "NOBODY").Return(nil, auth.ErrNotFound)
		f.hasher.On("Verify", "PASSWORD", mock.MatchedBy(func(h string) bool {
			return strings.HasPrefix(h, "$argon2id$")
		})).Return(false, nil)

		result, err := f.svc.Login(ctx, "NOBODY", "PASSWORD", "telnet", "")
		assert.Nil(t, result)
		errutil.AssertErrorCode(t, err, "AUTH_USER_NOT_FOUND")
	})

	t.Run("repository failure is backend unavailable", func(t *testing.T) {
		f := newServiceFixture(t)

		f.users.On("GetByID", spanCtx, "ADMIN001").Return(nil, errors.New("connection refused"))

		_, err := f.svc.Login(ctx, "ADMIN001", "PASSWORD", "telnet", "")
		errutil.AssertErrorCode(t, err, "AUTH_BACKEND_UNAVAILABLE")
		errutil.AssertErrorContext(t, err, "operation", "get user by id")
		assert.ErrorIs(t, err, auth.ErrBackendUnavailable)
		assert.Contains(t, err.Error(), "backend unavailable")
	})

	t.Run("wrong password records failure", func(t *testing.T) {
		f := newServiceFixture(t)
		user := testUser(2, nil)

		f.users.On("GetByID", spanCtx, "ADMIN001").Return(user, nil)
		f.hasher.On("Verify", "WRONG", testHash).Return(false, nil)
		f.users.On("Update", spanCtx, mock.MatchedBy(func(u *auth.User) bool {
			return u.FailedAttempts == 3 && u.LockedUntil == nil
		})).Return(nil)

		_, err := f.svc.Login(ctx, "ADMIN001", "WRONG", "telnet", "")
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_CREDENTIALS")
	})

	t.Run("failure at threshold locks the account", func(t *testing.T) {
		f := newServiceFixture(t)
		user := testUser(auth.LockoutThreshold-1, nil)

		f.users.On("GetByID", spanCtx, "ADMIN001").Return(user, nil)
		f.hasher.On("Verify", "WRONG", testHash).Return(false, nil)
		f.users.On("Update", spanCtx, mock.MatchedBy(func(u *auth.User) bool {
			return u.FailedAttempts == auth.LockoutThreshold && u.LockedUntil != nil
		})).Return(nil)

		_, err := f.svc.Login(ctx, "ADMIN001", "WRONG", "telnet", "")
		errutil.AssertErrorCode(t, err, "AUTH_ACCOUNT_LOCKED")
	})

	t.Run("locked user is rejected after password verification", func(t *testing.T) {
		f := newServiceFixture(t)
		lockedUntil := time.Now().Add(15 * time.Minute)
		user := testUser(7, &lockedUntil)

		f.users.On("GetByID", spanCtx, "ADMIN001").Return(user, nil)
		f.hasher.On("Verify", "PASSWORD", testHash).Return(true, nil)

		result, err := f.svc.Login(ctx, "ADMIN001", "PASSWORD", "telnet", "")
		assert.Nil(t, result)
		errutil.AssertErrorCode(t, err, "AUTH_ACCOUNT_LOCKED")
	})

	t.Run("success resets failures", func(t *testing.T) {
		f := newServiceFixture(t)
		expired := time.Now().Add(-time.Minute)
		user := testUser(7, &expired)

		f.users.On("GetByID", spanCtx, "ADMIN001").Return(user, nil)
		f.hasher.On("Verify", "PASSWORD", testHash).Return(true, nil)
		f.hasher.On("NeedsUpgrade", testHash).Return(false)
		f.users.On("Update", spanCtx, mock.MatchedBy(func(u *auth.User) bool {
			return u.FailedAttempts == 0 && u.LockedUntil == nil
		})).Return(nil)
		f.sessions.On("Create", spanCtx, mock.Anything).Return(nil)

		_, err := f.svc.Login(ctx, "ADMIN001", "PASSWORD", "telnet", "")
		require.NoError(t, err)
	})

	t.Run("legacy hash is upgraded", func(t *testing.T) {
		f := newServiceFixture(t)
		user := testUser(0, nil)
		user.PasswordHash = "$2a$10$legacy"

		f.users.On("GetByID", spanCtx, "ADMIN001").Return(user, nil)
		f.hasher.On("Verify", "PASSWORD", "$2a$10$legacy").Return(true, nil)
		f.hasher.On("NeedsUpgrade", "$2a$10$legacy").Return(true)
		f.hasher.On("Hash", "PASSWORD").Return(testHash, nil)
		f.users.On("Update", spanCtx, mock.MatchedBy(func(u *auth.User) bool {
			return u.PasswordHash == testHash
		})).Return(nil)
		f.sessions.On("Create", spanCtx, mock.Anything).Return(nil)

		_, err := f.svc.Login(ctx, "ADMIN001", "PASSWORD", "telnet", "")
		require.NoError(t, err)
	})

	t.Run("corrupt stored hash fails login", func(t *testing.T) {
		f := newServiceFixture(t)
		user := testUser(0, nil)

		f.users.On("GetByID", spanCtx, "ADMIN001").Return(user, nil)
		f.hasher.On("Verify", "PASSWORD", testHash).Return(false, errors.New("invalid hash format"))

		_, err := f.svc.Login(ctx, "ADMIN001", "PASSWORD", "telnet", "")
		errutil.AssertErrorCode(t, err, "AUTH_LOGIN_FAILED")
	})

	t.Run("session persistence failure is backend unavailable", func(t *testing.T) {
		f := newServiceFixture(t)
		user := testUser(0, nil)

		f.users.On("GetByID", spanCtx, "ADMIN001").Return(user, nil)
		f.hasher.On("Verify", "PASSWORD", testHash).Return(true, nil)
		f.hasher.On("NeedsUpgrade", testHash).Return(false)
		f.users.On("Update", spanCtx, mock.Anything).Return(nil)
		f.sessions.On("Create", spanCtx, mock.Anything).Return(errors.New("disk full"))

		_, err := f.svc.Login(ctx, "ADMIN001", "PASSWORD", "telnet", "")
		errutil.AssertErrorCode(t, err, "AUTH_BACKEND_UNAVAILABLE")
		errutil.AssertErrorContext(t, err, "operation", "persist session")
	})
}

func TestAuthService_Login_RecordsSpan(t *testing.T) {
	ctx := context.Background()

	t.Run("failure", func(t *testing.T) {
		f := newServiceFixture(t)
		f.users.On("GetByID", mock.Anything, "GHOST001").Return(nil, auth.ErrNotFound)
		f.hasher.On("Verify", "PASSWORD", mock.Anything).Return(false, nil)

		_, err := f.svc.Login(ctx, "GHOST001", "PASSWORD", "telnet", "")
		require.Error(t, err)

		span, ok := spans.Find("auth.login", "user.id", "GHOST001")
		require.True(t, ok, "login span not recorded")
		assert.Equal(t, "signon/auth", span.Scope())
		code, _ := span.Status()
		assert.Equal(t, codes.Error, code)
		errCode, _ := span.Attr("error.code")
		assert.Equal(t, "AUTH_USER_NOT_FOUND", errCode.AsString())
		client, _ := span.Attr("session.client")
		assert.Equal(t, "telnet", client.AsString())
	})

	t.Run("success", func(t *testing.T) {
		f := newServiceFixture(t)
		user := testUser(0, nil)
		user.ID = "SPANS001"
		f.users.On("GetByID", mock.Anything, "SPANS001").Return(user, nil)
		f.hasher.On("Verify", "PASSWORD", testHash).Return(true, nil)
		f.hasher.On("NeedsUpgrade", testHash).Return(false)
		f.users.On("Update", mock.Anything, mock.Anything).Return(nil)
		f.sessions.On("Create", mock.Anything, mock.Anything).Return(nil)

		result, err := f.svc.Login(ctx, "SPANS001", "PASSWORD", "telnet", "")
		require.NoError(t, err)

		span, ok := spans.Find("auth.login", "user.id", "SPANS001")
		require.True(t, ok, "login span not recorded")
		id, _ := span.Attr("session.id")
		assert.Equal(t, result.Session.ID.String(), id.AsString())
		code, _ := span.Status()
		assert.Equal(t, codes.Unset, code)
	})
}

func TestAuthService_Logout(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes session", func(t *testing.T) {
		f := newServiceFixture(t)
		id := ulid.Make()
		f.sessions.On("Delete", ctx, id).Return(nil)

		require.NoError(t, f.svc.Logout(ctx, id))
	})

	t.Run("missing session", func(t *testing.T) {
		f := newServiceFixture(t)
		id := ulid.Make()
		f.sessions.On("Delete", ctx, id).Return(auth.ErrNotFound)

		errutil.AssertErrorCode(t, f.svc.Logout(ctx, id), "SESSION_NOT_FOUND")
	})

	t.Run("repository error", func(t *testing.T) {
		f := newServiceFixture(t)
		id := ulid.Make()
		f.sessions.On("Delete", ctx, id).Return(errors.New("timeout"))

		errutil.AssertErrorCode(t, f.svc.Logout(ctx, id), "AUTH_LOGOUT_FAILED")
	})
}

func TestAuthService_ValidateSession(t *testing.T) {
	ctx := context.Background()

	t.Run("valid token", func(t *testing.T) {
		f := newServiceFixture(t)
		token, hash, err := auth.GenerateSessionToken()
		require.NoError(t, err)
		session, err := auth.NewSession("ADMIN001", hash, "telnet", "", time.Now().Add(time.Hour))
		require.NoError(t, err)

		f.sessions.On("GetByTokenHash", ctx, hash).Return(session, nil)
		f.sessions.On("UpdateLastSeen", ctx, session.ID, mock.AnythingOfType("time.Time")).Return(nil)

		got, err := f.svc.ValidateSession(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, session.ID, got.ID)
	})

	t.Run("empty token", func(t *testing.T) {
		f := newServiceFixture(t)
		_, err := f.svc.ValidateSession(ctx, "")
		errutil.AssertErrorCode(t, err, "SESSION_TOKEN_EMPTY")
	})

	t.Run("unknown token", func(t *testing.T) {
		f := newServiceFixture(t)
		f.sessions.On("GetByTokenHash", ctx, auth.HashSessionToken("nope")).Return(nil, auth.ErrNotFound)

		_, err := f.svc.ValidateSession(ctx, "nope")
		errutil.AssertErrorCode(t, err, "SESSION_INVALID")
	})

	t.Run("expired session", func(t *testing.T) {
		f := newServiceFixture(t)
		token, hash, err := auth.GenerateSessionToken()
		require.NoError(t, err)
		session := &auth.Session{ID: ulid.Make(), UserID: "ADMIN001", TokenHash: hash, ExpiresAt: time.Now().Add(-time.Minute)}
		f.sessions.On("GetByTokenHash", ctx, hash).Return(session, nil)

		_, err = f.svc.ValidateSession(ctx, token)
		errutil.AssertErrorCode(t, err, "SESSION_EXPIRED")
	})
}

func TestAuthService_CreateUser(t *testing.T) {
	ctx := context.Background()

	t.Run("hashes upper-cased password", func(t *testing.T) {
		f := newServiceFixture(t)
		f.hasher.On("Hash", "PASSWORD").Return(testHash, nil)
		f.users.On("Create", ctx, mock.MatchedBy(func(u *auth.User) bool {
			return u.ID == "USER001" && u.PasswordHash == testHash && u.Role == auth.RoleUser
		})).Return(nil)

		user, err := f.svc.CreateUser(ctx, "user001", "Regular User", auth.RoleUser, "password")
		require.NoError(t, err)
		assert.Equal(t, "USER001", user.ID)
	})

	t.Run("rejects long password before hashing", func(t *testing.T) {
		f := newServiceFixture(t)
		_, err := f.svc.CreateUser(ctx, "USER001", "", auth.RoleUser, "password1")
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_INPUT")
	})

	t.Run("propagates duplicate error", func(t *testing.T) {
		f := newServiceFixture(t)
		f.users.On("Create", ctx, mock.Anything).Return(errors.New("duplicate"))

		_, err := f.svc.StoreUser(ctx, "USER001", "", auth.RoleUser, testHash)
		require.Error(t, err)
	})
}

func TestAuthService_PurgeExpiredSessions(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	f.sessions.On("DeleteExpired", ctx).Return(int64(3), nil).Once()
	f.sessions.On("DeleteExpired", ctx).Return(int64(0), errors.New("boom")).Once()

	n, err := f.svc.PurgeExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = f.svc.PurgeExpiredSessions(ctx)
	errutil.AssertErrorCode(t, err, "SESSION_PURGE_FAILED")
}
