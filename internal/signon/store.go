// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package signon

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("signon/store")

// Store error codes.
const (
	CodeLoginInFlight        = "SIGNON_LOGIN_IN_FLIGHT"
	CodeAlreadyAuthenticated = "SIGNON_ALREADY_AUTHENTICATED"
	CodeLoginSuperseded      = "SIGNON_LOGIN_SUPERSEDED"
	CodeNoUser               = "SIGNON_NO_USER"
)

// Role is the access level of an authenticated user.
type Role string

// Roles with a default destination.
const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// User is the record an Authenticator returns on success.
type User struct {
	ID        string
	Name      string
	Role      Role
	SessionID string
}

// State is a consistent snapshot of the session. Authenticated is true
// exactly when User is non-nil.
type State struct {
	Authenticated bool
	User          *User
	Loading       bool
	LastError     Classification
}

// Authenticator performs a single authentication attempt.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (*User, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, creds Credentials) (*User, error)

// Authenticate calls f.
func (f AuthenticatorFunc) Authenticate(ctx context.Context, creds Credentials) (*User, error) {
	return f(ctx, creds)
}

// Store owns the session state. All transitions go through Login,
// ClearError and Logout; observers registered with Subscribe see every
// transition in order.
type Store struct {
	mu         sync.Mutex
	auth       Authenticator
	logger     *slog.Logger
	state      State
	generation uint64

	observers []observer
	nextObsID uint64
	pending   []State
	draining  bool
}

type observer struct {
	id uint64
	fn func(State)
}

// NewStore creates a Store with a no-op logger.
func NewStore(auth Authenticator) (*Store, error) {
	return NewStoreWithLogger(auth, slog.New(slog.DiscardHandler))
}

// NewStoreWithLogger creates a Store with the provided logger.
func NewStoreWithLogger(auth Authenticator, logger *slog.Logger) (*Store, error) {
	if auth == nil {
		return nil, oops.Errorf("authenticator is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	return &Store{
		auth:   auth,
		logger: logger,
	}, nil
}

// State returns the current session snapshot.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers fn to be called with the new state after every
// transition. Observers are called without the store lock held, one
// transition at a time and in the order transitions were applied. The
// returned function removes the observer.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextObsID
	s.nextObsID++
	s.observers = append(s.observers, observer{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.observers = slices.DeleteFunc(s.observers, func(o observer) bool { return o.id == id })
	}
}

// Login sends creds to the Authenticator. Only one login may be in flight;
// a second call while loading returns a SIGNON_LOGIN_IN_FLIGHT error
// without contacting the Authenticator. If the session is signed out or a
// newer login starts before this one resolves, the result is discarded and
// a SIGNON_LOGIN_SUPERSEDED error is returned.
func (s *Store) Login(ctx context.Context, creds Credentials) (*User, error) {
	s.mu.Lock()
	if s.state.Loading {
		s.mu.Unlock()
		return nil, oops.Code(CodeLoginInFlight).Errorf("a sign-on request is already in flight")
	}
	if s.state.Authenticated {
		s.mu.Unlock()
		return nil, oops.Code(CodeAlreadyAuthenticated).Errorf("session is already authenticated")
	}
	s.generation++
	gen := s.generation
	s.state.Loading = true
	s.state.LastError = ""
	s.commitLocked()

	ctx, span := tracer.Start(ctx, "signon.login",
		trace.WithAttributes(attribute.String("user.id", creds.UserID)))
	defer span.End()

	s.logger.Debug("sign-on request started", "credentials", creds)
	user, err := s.auth.Authenticate(ctx, creds)
	if err == nil && user == nil {
		err = oops.Code(CodeNoUser).Errorf("authenticator returned no user")
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		span.SetAttributes(attribute.Bool("signon.superseded", true))
		s.logger.Debug("discarding superseded sign-on result",
			"user_id", creds.UserID,
			"succeeded", err == nil,
		)
		return nil, oops.Code(CodeLoginSuperseded).
			With("user_id", creds.UserID).
			Errorf("sign-on result arrived after the session changed")
	}

	s.state.Loading = false
	if err != nil {
		class := Classify(err)
		s.state.Authenticated = false
		s.state.User = nil
		s.state.LastError = class
		s.commitLocked()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("signon.classification", string(class)))
		s.logger.Info("sign-on rejected",
			"user_id", creds.UserID,
			"classification", string(class),
		)
		return nil, err
	}

	stored := *user
	s.state.Authenticated = true
	s.state.User = &stored
	s.state.LastError = ""
	s.commitLocked()
	span.SetAttributes(attribute.String("signon.role", string(stored.Role)))
	s.logger.Info("sign-on succeeded",
		"user_id", stored.ID,
		"role", string(stored.Role),
	)

	result := stored
	return &result, nil
}

// ClearError removes LastError without touching authentication state.
func (s *Store) ClearError() {
	s.mu.Lock()
	if s.state.LastError == "" {
		s.mu.Unlock()
		return
	}
	s.state.LastError = ""
	s.commitLocked()
}

// Logout resets the session to its initial signed-out state. A login still
// in flight is abandoned and its result will be discarded.
func (s *Store) Logout() {
	s.mu.Lock()
	s.generation++
	s.state = State{}
	s.commitLocked()
}

// commitLocked queues the current state for observers and releases mu.
// Whichever goroutine finds the queue idle drains it, so observers may
// themselves call back into the Store.
func (s *Store) commitLocked() {
	s.pending = append(s.pending, s.snapshotLocked())
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.pending) > 0 {
		batch := s.pending
		s.pending = nil
		observers := slices.Clone(s.observers)
		s.mu.Unlock()

		for _, st := range batch {
			for _, o := range observers {
				o.fn(st)
			}
		}

		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}

func (s *Store) snapshotLocked() State {
	snap := s.state
	if s.state.User != nil {
		u := *s.state.User
		snap.User = &u
	}
	return snap
}
