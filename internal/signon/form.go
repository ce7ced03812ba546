// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package signon

import (
	"context"
	"log/slog"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/signon/pkg/errutil"
)

// Transitional screen text shown instead of the form while authenticated.
const (
	TransitionalTitle   = "Redirecting..."
	TransitionalMessage = "You are already authenticated. Redirecting to your dashboard."
)

// Submit button labels.
const (
	SubmitLabel     = "Sign in (ENTER)"
	SubmitLabelBusy = "Signing in..."
)

// Outcome is the result of a Submit call.
type Outcome int

// Submit outcomes.
const (
	// OutcomeInvalid means validation failed and no auth call was made.
	OutcomeInvalid Outcome = iota + 1
	// OutcomeSuppressed means a request was already in flight or the
	// session is already authenticated.
	OutcomeSuppressed
	// OutcomeAuthenticated means the auth call succeeded.
	OutcomeAuthenticated
	// OutcomeRejected means the auth call failed; the store holds the
	// classification.
	OutcomeRejected
	// OutcomeDiscarded means the session changed while the call was in
	// flight and its result was dropped.
	OutcomeDiscarded
)

var outcomeNames = map[Outcome]string{
	OutcomeInvalid:       "invalid",
	OutcomeSuppressed:    "suppressed",
	OutcomeAuthenticated: "authenticated",
	OutcomeRejected:      "rejected",
	OutcomeDiscarded:     "discarded",
}

// String returns the outcome name.
func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return "unknown"
}

// View is everything needed to draw the sign-on page.
type View struct {
	// ShowForm is false while the session is authenticated; Title and
	// Message then hold the transitional text.
	ShowForm bool
	Title    string
	Message  string

	UserID      string
	Password    string
	FieldErrors FieldErrors
	// Summary is set when field errors exist and no Notice is shown.
	Summary string
	// Notice is the mapped backend error, dismissible by the user.
	Notice string

	Loading       bool
	SubmitEnabled bool
	SubmitLabel   string
}

// FormOption configures a Form.
type FormOption func(*Form)

// WithClearPasswordOnFailure clears the password field after a rejected
// sign-on. By default the password is kept for correction.
func WithClearPasswordOnFailure() FormOption {
	return func(f *Form) {
		f.clearPasswordOnFailure = true
	}
}

// WithFormLogger sets the form's logger.
func WithFormLogger(logger *slog.Logger) FormOption {
	return func(f *Form) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// Form holds the transient credentials and field errors of one sign-on
// form and drives a Store.
type Form struct {
	mu                     sync.Mutex
	store                  *Store
	creds                  Credentials
	errs                   FieldErrors
	clearPasswordOnFailure bool
	logger                 *slog.Logger
}

// NewForm creates a Form bound to store.
func NewForm(store *Store, opts ...FormOption) (*Form, error) {
	if store == nil {
		return nil, oops.Errorf("session store is required")
	}
	f := &Form{
		store:  store,
		errs:   FieldErrors{},
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Input applies a keystroke value to field. Values longer than
// MaxFieldLength are discarded and the previous value kept. An accepted
// value clears that field's error and the store's last error. Input
// returns whether the value was accepted.
func (f *Form) Input(field Field, raw string) bool {
	value, ok := Normalize(raw)
	if !ok {
		return false
	}

	f.mu.Lock()
	switch field {
	case FieldUserID:
		f.creds.UserID = value
	case FieldPassword:
		f.creds.Password = value
	default:
		f.mu.Unlock()
		return false
	}
	delete(f.errs, field)
	f.mu.Unlock()

	f.store.ClearError()
	return true
}

// Submit validates the current credentials and, if they pass, makes one
// auth call through the store with a snapshot of them. Edits made while the
// call is in flight do not affect it.
func (f *Form) Submit(ctx context.Context) Outcome {
	if st := f.store.State(); st.Loading || st.Authenticated {
		return OutcomeSuppressed
	}

	f.mu.Lock()
	f.errs = Validate(f.creds)
	if !f.errs.Valid() {
		f.mu.Unlock()
		return OutcomeInvalid
	}
	snapshot := f.creds
	f.mu.Unlock()

	_, err := f.store.Login(ctx, snapshot)
	switch {
	case err == nil:
		return OutcomeAuthenticated
	case errutil.HasCode(err, CodeLoginInFlight), errutil.HasCode(err, CodeAlreadyAuthenticated):
		return OutcomeSuppressed
	case errutil.HasCode(err, CodeLoginSuperseded):
		return OutcomeDiscarded
	}

	if f.clearPasswordOnFailure {
		f.mu.Lock()
		f.creds.Password = ""
		f.mu.Unlock()
	}
	f.logger.Debug("sign-on submit rejected", "user_id", snapshot.UserID)
	return OutcomeRejected
}

// DismissNotice clears the backend error notice.
func (f *Form) DismissNotice() {
	f.store.ClearError()
}

// Credentials returns the values currently held by the form.
func (f *Form) Credentials() Credentials {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creds
}

// Reset clears the credentials and field errors.
func (f *Form) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds = Credentials{}
	f.errs = FieldErrors{}
}

// View returns the render model for the current form and session state.
func (f *Form) View() View {
	st := f.store.State()
	if st.Authenticated && st.User != nil {
		return View{
			Title:   TransitionalTitle,
			Message: TransitionalMessage,
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	v := View{
		ShowForm:      true,
		UserID:        f.creds.UserID,
		Password:      f.creds.Password,
		FieldErrors:   f.errs.Clone(),
		Loading:       st.Loading,
		SubmitEnabled: !st.Loading,
		SubmitLabel:   SubmitLabel,
	}
	if st.Loading {
		v.SubmitLabel = SubmitLabelBusy
	}
	switch {
	case st.LastError != "":
		v.Notice = MessageFor(string(st.LastError))
	case !f.errs.Valid():
		v.Summary = SummaryMessage
	}
	return v
}
