// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package signon

import (
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Guard error codes.
const (
	CodeRoleUnrouted  = "SIGNON_ROLE_UNROUTED"
	CodeRoutesInvalid = "SIGNON_ROUTES_INVALID"
)

// Navigator performs page navigation. When replace is true the new page
// replaces the current history entry instead of being pushed.
type Navigator interface {
	Navigate(path string, replace bool)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(path string, replace bool)

// Navigate calls f.
func (f NavigatorFunc) Navigate(path string, replace bool) {
	f(path, replace)
}

// Location is the current navigation context. From is the page the user
// asked for before being sent to sign on, if any.
type Location struct {
	Path string
	From string
}

// Routes configures redirect targets.
type Routes struct {
	// Login is the sign-on page; it is never used as a redirect target.
	Login string
	// Homes maps each role to its default destination.
	Homes map[Role]string
	// AllowedReturn restricts which prior destinations are honored. Patterns
	// use glob syntax with '/' as separator. Empty allows any absolute path.
	AllowedReturn []string
}

// DefaultRoutes returns the standard route table.
func DefaultRoutes() Routes {
	return Routes{
		Login: "/login",
		Homes: map[Role]string{
			RoleAdmin: "/menu/admin",
			RoleUser:  "/menu/main",
		},
	}
}

// GuardState is the redirect guard's position in its state machine.
type GuardState int

// Guard states.
const (
	GuardIdle GuardState = iota
	GuardRedirected
)

// String returns the state name.
func (s GuardState) String() string {
	switch s {
	case GuardIdle:
		return "idle"
	case GuardRedirected:
		return "redirected"
	default:
		return "unknown"
	}
}

// Redirect describes a navigation the guard performed.
type Redirect struct {
	Navigated bool
	Target    string
	// FromPrior is true when Target came from Location.From rather than
	// the role default.
	FromPrior bool
}

// RedirectGuard moves an authenticated session to its destination exactly
// once, and re-arms when the session signs out.
type RedirectGuard struct {
	mu      sync.Mutex
	nav     Navigator
	login   string
	homes   map[Role]string
	allowed []glob.Glob
	state   GuardState
	logger  *slog.Logger
}

// NewRedirectGuard creates a RedirectGuard with a no-op logger.
func NewRedirectGuard(nav Navigator, routes Routes) (*RedirectGuard, error) {
	return NewRedirectGuardWithLogger(nav, routes, slog.New(slog.DiscardHandler))
}

// NewRedirectGuardWithLogger creates a RedirectGuard with the provided logger.
func NewRedirectGuardWithLogger(nav Navigator, routes Routes, logger *slog.Logger) (*RedirectGuard, error) {
	if nav == nil {
		return nil, oops.Errorf("navigator is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	if !strings.HasPrefix(routes.Login, "/") {
		return nil, oops.Code(CodeRoutesInvalid).
			With("login", routes.Login).
			Errorf("login route must be an absolute path")
	}

	homes := make(map[Role]string, len(routes.Homes))
	for role, home := range routes.Homes {
		if !strings.HasPrefix(home, "/") {
			return nil, oops.Code(CodeRoutesInvalid).
				With("role", string(role)).
				With("path", home).
				Errorf("default route for role %q must be an absolute path", role)
		}
		homes[role] = home
	}

	allowed := make([]glob.Glob, 0, len(routes.AllowedReturn))
	for _, pattern := range routes.AllowedReturn {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, oops.Code(CodeRoutesInvalid).
				With("pattern", pattern).
				Wrap(err)
		}
		allowed = append(allowed, g)
	}

	return &RedirectGuard{
		nav:     nav,
		login:   path.Clean(routes.Login),
		homes:   homes,
		allowed: allowed,
		logger:  logger,
	}, nil
}

// State returns the guard's current state.
func (g *RedirectGuard) State() GuardState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Observe feeds one store observation to the guard. When the session is
// authenticated with a user and the guard is idle, it navigates once with
// replace set and moves to GuardRedirected. When the session is not
// authenticated the guard returns to GuardIdle. A user whose role has no
// default route and who has no usable prior destination is not navigated
// and a SIGNON_ROLE_UNROUTED error is returned.
func (g *RedirectGuard) Observe(st State, loc Location) (Redirect, error) {
	g.mu.Lock()

	if !st.Authenticated {
		if g.state == GuardRedirected {
			g.logger.Debug("redirect guard re-armed")
		}
		g.state = GuardIdle
		g.mu.Unlock()
		return Redirect{}, nil
	}

	if st.User == nil || g.state == GuardRedirected {
		g.mu.Unlock()
		return Redirect{}, nil
	}

	target, fromPrior, err := g.targetLocked(*st.User, loc)
	if err != nil {
		g.mu.Unlock()
		return Redirect{}, err
	}
	g.state = GuardRedirected
	g.mu.Unlock()

	g.logger.Info("redirecting authenticated session",
		"user_id", st.User.ID,
		"target", target,
		"from_prior", fromPrior,
	)
	g.nav.Navigate(target, true)

	return Redirect{Navigated: true, Target: target, FromPrior: fromPrior}, nil
}

// Watch subscribes the guard to store. location is called on each
// observation for the current navigation context. report, if non-nil,
// receives the result of every observation that navigated or failed.
func (g *RedirectGuard) Watch(store *Store, location func() Location, report func(Redirect, error)) (unsubscribe func()) {
	return store.Subscribe(func(st State) {
		r, err := g.Observe(st, location())
		if err != nil {
			g.logger.Error("redirect failed",
				"event", "redirect_failed",
				"error", err.Error(),
			)
		}
		if report != nil && (r.Navigated || err != nil) {
			report(r, err)
		}
	})
}

// Target computes the destination for user without navigating.
func (g *RedirectGuard) Target(user User, loc Location) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	target, _, err := g.targetLocked(user, loc)
	return target, err
}

func (g *RedirectGuard) targetLocked(user User, loc Location) (string, bool, error) {
	if prior, ok := g.priorDestination(loc.From); ok {
		return prior, true, nil
	}
	home, ok := g.homes[user.Role]
	if !ok {
		return "", false, oops.Code(CodeRoleUnrouted).
			With("role", string(user.Role)).
			With("user_id", user.ID).
			Errorf("no default route for role %q", user.Role)
	}
	return home, false, nil
}

func (g *RedirectGuard) priorDestination(from string) (string, bool) {
	if !strings.HasPrefix(from, "/") {
		return "", false
	}
	cleaned := path.Clean(from)
	if cleaned == g.login {
		return "", false
	}
	if len(g.allowed) == 0 {
		return cleaned, true
	}
	for _, pattern := range g.allowed {
		if pattern.Match(cleaned) {
			return cleaned, true
		}
	}
	g.logger.Debug("prior destination not allowed", "from", cleaned)
	return "", false
}
