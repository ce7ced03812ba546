// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package signon

import (
	"context"
	"errors"
	"net"

	"github.com/holomush/signon/pkg/errutil"
)

// Auth service error codes and the classification each one carries.
var codeClassifications = map[string]Classification{
	"AUTH_INVALID_CREDENTIALS": ClassInvalidCredentials,
	"AUTH_USER_NOT_FOUND":      ClassUserNotFound,
	"AUTH_INVALID_INPUT":       ClassMalformedInput,
	"AUTH_BACKEND_UNAVAILABLE": ClassNetworkError,
	"AUTH_ACCOUNT_LOCKED":      ClassAccountLocked,
}

// AuthError lets an Authenticator report a classification directly.
type AuthError struct {
	Class Classification
	Err   error
}

// Error implements error.
func (e *AuthError) Error() string {
	if e.Err == nil {
		return string(e.Class)
	}
	return string(e.Class) + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// Classify maps an authentication failure to a Classification. It returns
// "" for a nil error and ClassUnknown for anything it does not recognize.
func Classify(err error) Classification {
	if err == nil {
		return ""
	}

	var authErr *AuthError
	if errors.As(err, &authErr) && authErr.Class != "" {
		return authErr.Class
	}

	if class, ok := codeClassifications[errutil.Code(err)]; ok {
		return class
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassNetworkError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassNetworkError
	}

	return ClassUnknown
}
