// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package signon implements the sign-on form and the authentication
// session lifecycle behind it.
//
// # Components
//
//   - Normalize - accepts or discards a keystroke value for a credential field
//   - Validate - produces FieldErrors for a credential pair before submission
//   - MessageFor - maps an error classification to a display message
//   - Store - owns the session state and performs the single auth call
//   - RedirectGuard - navigates an authenticated session exactly once
//   - Form - ties the above together for one rendered sign-on form
//
// The package has no knowledge of how credentials reach the backend or how
// pages are drawn. Callers supply an Authenticator and a Navigator.
package signon
