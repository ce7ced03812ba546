// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package telnet

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/signon/internal/auth"
)

type fakeAccount struct {
	name     string
	role     auth.Role
	password string
}

// fakeAuth is an in-memory AuthService. When gate is set, Login waits for
// it to be closed before answering.
type fakeAuth struct {
	mu        sync.Mutex
	accounts  map[string]fakeAccount
	gate      chan struct{}
	loginErr  error
	logoutErr error
	issued    []ulid.ULID
	loggedOut []ulid.ULID
	clients   []string

	// validateErr, when set, is returned by every ValidateSession call.
	validateErr error
	validated   []string
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{
		accounts: map[string]fakeAccount{
			"ADMIN001": {name: "Ada Admin", role: auth.RoleAdmin, password: "PASSWORD"},
			"USER0001": {name: "Uma User", role: auth.RoleUser, password: "PASSWORD"},
			"GUEST001": {name: "Gus Guest", role: auth.Role("guest"), password: "PASSWORD"},
		},
	}
}

func (f *fakeAuth) Login(ctx context.Context, userID, password, client, _ string) (*auth.LoginResult, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients = append(f.clients, client)
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	acct, ok := f.accounts[userID]
	if !ok {
		return nil, oops.Code("AUTH_USER_NOT_FOUND").Errorf("user not found")
	}
	if acct.password != password {
		return nil, oops.Code("AUTH_INVALID_CREDENTIALS").Errorf("invalid user ID or password")
	}

	session := &auth.Session{ID: ulid.Make(), UserID: userID, Client: client}
	f.issued = append(f.issued, session.ID)
	return &auth.LoginResult{
		User:    &auth.User{ID: userID, Name: acct.name, Role: acct.role},
		Session: session,
		Token:   "token-" + session.ID.String(),
	}, nil
}

func (f *fakeAuth) Logout(_ context.Context, sessionID ulid.ULID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = append(f.loggedOut, sessionID)
	return f.logoutErr
}

func (f *fakeAuth) ValidateSession(_ context.Context, token string) (*auth.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validated = append(f.validated, token)
	if f.validateErr != nil {
		return nil, f.validateErr
	}
	id, err := ulid.Parse(strings.TrimPrefix(token, "token-"))
	if err != nil || slices.Contains(f.loggedOut, id) {
		return nil, oops.Code("SESSION_INVALID").Errorf("invalid session token")
	}
	return &auth.Session{ID: id}, nil
}

func (f *fakeAuth) failValidation(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validateErr = err
}

func (f *fakeAuth) validatedTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.validated)
}

func (f *fakeAuth) hold() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	return f.gate
}

func (f *fakeAuth) issuedSessions() []ulid.ULID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.issued)
}

func (f *fakeAuth) loggedOutSessions() []ulid.ULID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.loggedOut)
}
