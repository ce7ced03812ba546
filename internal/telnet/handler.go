// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package telnet

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/signon/internal/observability"
	"github.com/holomush/signon/internal/signon"
	"github.com/holomush/signon/pkg/errutil"
)

var tracer = otel.Tracer("signon/telnet")

// Messages shown when a signed-on page command finds the backend session
// unusable.
const (
	SessionExpiredMessage    = "Your session has expired. Please sign on again."
	SessionUnverifiedMessage = "Unable to verify your session. Please try again."
)

// Config configures the sign-on screen of each connection.
type Config struct {
	Routes                 signon.Routes
	ClearPasswordOnFailure bool
	// Metrics may be nil.
	Metrics *observability.Metrics
	// Logger defaults to a no-op logger.
	Logger *slog.Logger
}

// ConnectionHandler runs the sign-on screen for a single telnet connection.
type ConnectionHandler struct {
	conn    net.Conn
	reader  *bufio.Reader
	connID  ulid.ULID
	logger  *slog.Logger
	metrics *observability.Metrics
	routes  signon.Routes

	auth  *Authenticator
	store *signon.Store
	form  *signon.Form
	guard *signon.RedirectGuard
	nav   *Navigator

	writeMu sync.Mutex

	mu    sync.Mutex
	prior string

	// Owned by the Handle loop.
	inFlight       bool
	confirmingExit bool
	quitting       bool
	results        chan signon.Outcome
	wg             sync.WaitGroup

	// Owned by the store observer, which the store never runs concurrently.
	wasLoading bool
}

// NewConnectionHandler creates a handler that authenticates through svc.
func NewConnectionHandler(conn net.Conn, svc AuthService, cfg Config) (*ConnectionHandler, error) {
	if conn == nil {
		return nil, oops.Errorf("connection is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	h := &ConnectionHandler{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		connID:  ulid.Make(),
		metrics: cfg.Metrics,
		routes:  cfg.Routes,
		results: make(chan signon.Outcome, 1),
	}
	h.logger = logger.With("conn_id", h.connID.String())

	var remoteAddr string
	if addr := conn.RemoteAddr(); addr != nil {
		remoteAddr = addr.String()
	}

	var err error
	if h.auth, err = NewAuthenticatorWithLogger(svc, remoteAddr, h.logger); err != nil {
		return nil, err
	}
	if h.store, err = signon.NewStoreWithLogger(h.auth, h.logger); err != nil {
		return nil, err
	}
	opts := []signon.FormOption{signon.WithFormLogger(h.logger)}
	if cfg.ClearPasswordOnFailure {
		opts = append(opts, signon.WithClearPasswordOnFailure())
	}
	if h.form, err = signon.NewForm(h.store, opts...); err != nil {
		return nil, err
	}
	h.nav = NewNavigator(cfg.Routes.Login, h.enterPage)
	if h.guard, err = signon.NewRedirectGuardWithLogger(h.nav, cfg.Routes, h.logger); err != nil {
		return nil, err
	}
	h.routes.Login = path.Clean(h.routes.Login)
	return h, nil
}

// Handle processes the connection until it is closed, the user exits, or
// ctx is cancelled. Any backend session still open is logged out.
func (h *ConnectionHandler) Handle(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	// The render observer must run before the guard so the transition is
	// shown ahead of the page it leads to.
	unsubscribe := h.store.Subscribe(h.onState)
	unwatch := h.guard.Watch(h.store, h.location, h.reportRedirect)

	defer func() {
		cancel()
		if err := h.conn.Close(); err != nil {
			h.logger.Debug("error closing connection", "error", err)
		}
		h.wg.Wait()
		unwatch()
		unsubscribe()
		h.auth.Revoke(ctx, "")
	}()

	h.sendLines(bannerLines())
	h.sendLines(formLines(h.form.View()))

	lineCh := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		for {
			line, err := h.reader.ReadString('\n')
			if err != nil {
				errCh <- err
				return
			}
			select {
			case lineCh <- strings.TrimSpace(line):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-errCh:
			if !errors.Is(err, io.EOF) {
				h.logger.Debug("connection read error", "error", err)
			}
			return

		case line := <-lineCh:
			h.processLine(ctx, line)
			if h.quitting {
				return
			}

		case outcome := <-h.results:
			h.inFlight = false
			h.finishSubmit(ctx, outcome)
		}
	}
}

func parseCommand(line string) (cmd, arg string) {
	cmd, arg, _ = strings.Cut(strings.TrimSpace(line), " ")
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}

func (h *ConnectionHandler) processLine(ctx context.Context, line string) {
	cmd, arg := parseCommand(line)
	name := cmd
	if h.confirmingExit {
		name = "exit-confirm"
	}
	ctx, span := tracer.Start(ctx, "telnet.command",
		trace.WithAttributes(
			attribute.String("command.name", name),
			attribute.Bool("session.authenticated", h.store.State().Authenticated),
		),
	)
	defer span.End()

	if h.confirmingExit {
		h.confirmExit(line)
		return
	}

	switch cmd {
	case "", "submit":
		h.handleSubmit(ctx)
	case "userid":
		if h.handleInput(signon.FieldUserID, arg) {
			h.send("User ID set.")
		}
	case "password":
		if h.handleInput(signon.FieldPassword, arg) {
			h.send("Password set.")
		}
	case "connect":
		h.handleConnect(ctx, arg)
	case "dismiss":
		h.form.DismissNotice()
		h.sendLines(formLines(h.form.View()))
	case "goto":
		h.handleGoto(ctx, arg)
	case "back":
		h.handleBack(ctx)
	case "logout":
		h.handleLogout(ctx)
	case "f3", "quit", "exit":
		h.confirmingExit = true
		h.send(ExitPrompt)
	case "help":
		h.sendLines(helpLines)
	default:
		span.SetAttributes(attribute.Bool("command.unknown", true))
		h.send("Unknown command: " + cmd + ". Type help for a list of commands.")
	}
}

func (h *ConnectionHandler) confirmExit(answer string) {
	h.confirmingExit = false
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		h.send("Goodbye!")
		h.quitting = true
	default:
		h.send("Exit cancelled.")
	}
}

func (h *ConnectionHandler) handleInput(field signon.Field, value string) bool {
	if h.store.State().Authenticated {
		h.send("You are already signed on.")
		return false
	}
	if !h.form.Input(field, value) {
		h.send(fmt.Sprintf("%s can be at most %d characters; input ignored.", fieldLabel(field), signon.MaxFieldLength))
		return false
	}
	return true
}

func (h *ConnectionHandler) handleConnect(ctx context.Context, arg string) {
	userID, password, ok := strings.Cut(arg, " ")
	if !ok {
		h.send("Usage: connect <user id> <password>")
		return
	}
	if !h.handleInput(signon.FieldUserID, userID) {
		return
	}
	if !h.handleInput(signon.FieldPassword, strings.TrimSpace(password)) {
		return
	}
	h.handleSubmit(ctx)
}

// handleSubmit starts the auth call on its own goroutine so the
// connection keeps processing commands while it runs.
func (h *ConnectionHandler) handleSubmit(ctx context.Context) {
	st := h.store.State()
	if st.Authenticated {
		h.sendLines(formLines(h.form.View()))
		return
	}
	if h.inFlight || st.Loading {
		h.send("A sign-on request is already in progress.")
		return
	}

	h.inFlight = true
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.results <- h.form.Submit(ctx)
	}()
}

func (h *ConnectionHandler) finishSubmit(ctx context.Context, outcome signon.Outcome) {
	h.logger.Debug("sign-on submit finished", "outcome", outcome.String())

	switch outcome {
	case signon.OutcomeInvalid, signon.OutcomeRejected:
		h.sendLines(formLines(h.form.View()))
	case signon.OutcomeSuppressed:
		h.send("A sign-on request is already in progress.")
	case signon.OutcomeDiscarded:
		var keep string
		if st := h.store.State(); st.User != nil {
			keep = st.User.SessionID
		}
		h.auth.Revoke(ctx, keep)
		h.send("The sign-on result arrived after the session changed and was discarded.")
	case signon.OutcomeAuthenticated:
		// The redirect has already drawn the destination page.
	}
}

func (h *ConnectionHandler) handleGoto(ctx context.Context, page string) {
	if !strings.HasPrefix(page, "/") {
		h.send("Usage: goto </path>")
		return
	}
	if !h.store.State().Authenticated {
		h.setPrior(page)
		h.send("Sign on to continue to " + page + ".")
		return
	}
	if !h.sessionLive(ctx) {
		return
	}
	h.nav.Navigate(page, false)
}

func (h *ConnectionHandler) handleBack(ctx context.Context) {
	if !h.store.State().Authenticated {
		h.send("Nothing to go back to.")
		return
	}
	if !h.sessionLive(ctx) {
		return
	}
	if _, ok := h.nav.Back(); !ok {
		h.send("Nothing to go back to.")
	}
}

func (h *ConnectionHandler) handleLogout(ctx context.Context) {
	st := h.store.State()
	if !st.Authenticated && !st.Loading {
		h.send("You are not signed on.")
		return
	}

	h.signOut(ctx)
	h.send("You have been signed out.")
	h.nav.Reset(h.routes.Login)
}

// sessionLive checks the backend session before a signed-on page is
// shown. An expired or deleted session signs the connection out; any other
// failure leaves it signed on but refuses the command.
func (h *ConnectionHandler) sessionLive(ctx context.Context) bool {
	st := h.store.State()
	if st.User == nil {
		return true
	}
	err := h.auth.Validate(ctx, st.User.SessionID)
	switch {
	case err == nil:
		return true
	case errutil.HasCode(err, "SESSION_EXPIRED"), errutil.HasCode(err, "SESSION_INVALID"):
		h.logger.Info("backend session ended, signing out",
			"user_id", st.User.ID,
			"code", errutil.Code(err),
		)
		h.signOut(ctx)
		h.send(SessionExpiredMessage)
		h.nav.Reset(h.routes.Login)
	default:
		errutil.LogWarn(h.logger, "session check failed", err)
		h.send(SessionUnverifiedMessage)
	}
	return false
}

// signOut ends the sign-on session and every backend session this
// connection opened.
func (h *ConnectionHandler) signOut(ctx context.Context) {
	h.store.Logout()
	h.auth.Revoke(ctx, "")
	h.setPrior("")
	h.form.Reset()
}

// onState observes every store transition.
func (h *ConnectionHandler) onState(st signon.State) {
	switch {
	case st.Loading && !h.wasLoading:
		h.send(signon.SubmitLabelBusy)
	case !st.Loading && h.wasLoading:
		switch {
		case st.Authenticated:
			h.metrics.RecordLoginAttempt(observability.LoginSuccess)
			h.send(signon.TransitionalTitle)
		case st.LastError != "":
			h.metrics.RecordLoginAttempt(string(st.LastError))
		}
	}
	h.wasLoading = st.Loading
}

func (h *ConnectionHandler) reportRedirect(r signon.Redirect, err error) {
	if err != nil {
		h.send("No destination is configured for your role. Type logout to sign out.")
		return
	}
	h.metrics.RecordRedirect(r.FromPrior)
	h.setPrior("")
}

func (h *ConnectionHandler) location() signon.Location {
	h.mu.Lock()
	defer h.mu.Unlock()
	return signon.Location{Path: h.nav.Current(), From: h.prior}
}

func (h *ConnectionHandler) setPrior(page string) {
	h.mu.Lock()
	h.prior = page
	h.mu.Unlock()
}

// enterPage draws page after the navigator moves to it.
func (h *ConnectionHandler) enterPage(page string) {
	if page == h.routes.Login {
		h.sendLines(bannerLines())
		h.sendLines(formLines(h.form.View()))
		return
	}
	h.sendLines(pageLines(page, h.store.State().User, h.routes.Homes))
}

func (h *ConnectionHandler) send(msg string) {
	h.sendLines([]string{msg})
}

func (h *ConnectionHandler) sendLines(lines []string) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	for _, line := range lines {
		if _, err := fmt.Fprintln(h.conn, line); err != nil {
			h.logger.Debug("failed to send message to client", "error", err)
			return
		}
	}
}
