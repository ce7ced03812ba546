// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth provides the sign-on authentication backend.
//
// # Domain Types
//
// Domain types should be created using their constructors:
//   - NewUser - creates a User with a validated ID, role and password hash
//   - NewSession - creates a Session with validated user and expiry
//
// Direct struct initialization bypasses validation and may create invalid state.
//
// # Errors
//
// Login failures carry oops codes that the sign-on core classifies:
//   - AUTH_INVALID_INPUT - malformed user ID or password
//   - AUTH_USER_NOT_FOUND - no such user
//   - AUTH_INVALID_CREDENTIALS - wrong password
//   - AUTH_ACCOUNT_LOCKED - too many failures
//   - AUTH_BACKEND_UNAVAILABLE - storage unreachable; wraps ErrBackendUnavailable
package auth
