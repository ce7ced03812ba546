// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package telnet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/signon/internal/signon"
	"github.com/holomush/signon/pkg/errutil"
)

func TestNewAuthenticator_RequiresService(t *testing.T) {
	_, err := NewAuthenticator(nil, "127.0.0.1:1")
	assert.Error(t, err)

	_, err = NewAuthenticatorWithLogger(newFakeAuth(), "127.0.0.1:1", nil)
	assert.Error(t, err)
}

func TestAuthenticator_Authenticate(t *testing.T) {
	svc := newFakeAuth()
	a, err := NewAuthenticator(svc, "127.0.0.1:1")
	require.NoError(t, err)

	user, err := a.Authenticate(context.Background(), signon.Credentials{UserID: "ADMIN001", Password: "PASSWORD"})
	require.NoError(t, err)

	issued := svc.issuedSessions()
	require.Len(t, issued, 1)
	assert.Equal(t, "ADMIN001", user.ID)
	assert.Equal(t, "Ada Admin", user.Name)
	assert.Equal(t, signon.RoleAdmin, user.Role)
	assert.Equal(t, issued[0].String(), user.SessionID)
	assert.Equal(t, []string{ClientName}, svc.clients)
	assert.Equal(t, 1, a.Outstanding())
}

func TestAuthenticator_Authenticate_PassesBackendErrorThrough(t *testing.T) {
	a, err := NewAuthenticator(newFakeAuth(), "127.0.0.1:1")
	require.NoError(t, err)

	_, err = a.Authenticate(context.Background(), signon.Credentials{UserID: "ADMIN001", Password: "WRONG"})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "AUTH_INVALID_CREDENTIALS")
	assert.Equal(t, signon.ClassInvalidCredentials, signon.Classify(err))
	assert.Zero(t, a.Outstanding())
}

func TestAuthenticator_Revoke_KeepsNamedSession(t *testing.T) {
	svc := newFakeAuth()
	a, err := NewAuthenticator(svc, "127.0.0.1:1")
	require.NoError(t, err)

	creds := signon.Credentials{UserID: "USER0001", Password: "PASSWORD"}
	first, err := a.Authenticate(context.Background(), creds)
	require.NoError(t, err)
	second, err := a.Authenticate(context.Background(), creds)
	require.NoError(t, err)

	assert.Equal(t, 1, a.Revoke(context.Background(), second.SessionID))
	loggedOut := svc.loggedOutSessions()
	require.Len(t, loggedOut, 1)
	assert.Equal(t, first.SessionID, loggedOut[0].String())
	assert.Equal(t, 1, a.Outstanding())

	assert.Equal(t, 1, a.Revoke(context.Background(), ""))
	assert.Zero(t, a.Outstanding())
	assert.Zero(t, a.Revoke(context.Background(), ""))
}

func TestAuthenticator_Validate(t *testing.T) {
	svc := newFakeAuth()
	a, err := NewAuthenticator(svc, "127.0.0.1:1")
	require.NoError(t, err)

	user, err := a.Authenticate(context.Background(), signon.Credentials{UserID: "USER0001", Password: "PASSWORD"})
	require.NoError(t, err)

	require.NoError(t, a.Validate(context.Background(), user.SessionID))
	assert.Equal(t, []string{"token-" + user.SessionID}, svc.validatedTokens())

	t.Run("unknown session", func(t *testing.T) {
		err := a.Validate(context.Background(), "01ARZ3NDEKTSV4RRFFQ69G5FAV")
		errutil.AssertErrorCode(t, err, "SESSION_INVALID")
		errutil.AssertErrorContext(t, err, "session_id", "01ARZ3NDEKTSV4RRFFQ69G5FAV")
	})

	t.Run("backend error passes through", func(t *testing.T) {
		svc.failValidation(oops.Code("SESSION_EXPIRED").Errorf("session expired"))
		t.Cleanup(func() { svc.failValidation(nil) })
		errutil.AssertErrorCode(t, a.Validate(context.Background(), user.SessionID), "SESSION_EXPIRED")
	})

	t.Run("revoked session", func(t *testing.T) {
		a.Revoke(context.Background(), "")
		errutil.AssertErrorCode(t, a.Validate(context.Background(), user.SessionID), "SESSION_INVALID")
	})
}

func TestAuthenticator_Revoke_RunsAfterCancel(t *testing.T) {
	svc := newFakeAuth()
	a, err := NewAuthenticator(svc, "127.0.0.1:1")
	require.NoError(t, err)
	_, err = a.Authenticate(context.Background(), signon.Credentials{UserID: "USER0001", Password: "PASSWORD"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, 1, a.Revoke(ctx, ""))
	assert.Len(t, svc.loggedOutSessions(), 1)
}

func TestAuthenticator_Revoke_LogsFailure(t *testing.T) {
	svc := newFakeAuth()
	svc.logoutErr = errors.New("connection reset")

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	a, err := NewAuthenticatorWithLogger(svc, "127.0.0.1:1", logger)
	require.NoError(t, err)

	user, err := a.Authenticate(context.Background(), signon.Credentials{UserID: "USER0001", Password: "PASSWORD"})
	require.NoError(t, err)
	a.Revoke(context.Background(), "")

	var entry struct {
		Level     string `json:"level"`
		Msg       string `json:"msg"`
		Event     string `json:"event"`
		Operation string `json:"operation"`
		SessionID string `json:"session_id"`
		Error     string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "should have logged JSON entry")
	assert.Equal(t, "WARN", entry.Level)
	assert.Equal(t, "best-effort logout failed", entry.Msg)
	assert.Equal(t, "logout_failed", entry.Event)
	assert.Equal(t, "logout", entry.Operation)
	assert.Equal(t, user.SessionID, entry.SessionID)
	assert.Contains(t, entry.Error, "connection reset")
	assert.Zero(t, a.Outstanding())
}
