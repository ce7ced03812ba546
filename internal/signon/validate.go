// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package signon

import (
	"maps"
	"strings"
	"unicode/utf8"
)

// Field validation messages.
const (
	MsgUserIDRequired   = "Please enter your User ID."
	MsgUserIDTooLong    = "User ID can be at most 8 characters."
	MsgPasswordRequired = "Please enter your password."
	MsgPasswordTooLong  = "Password can be at most 8 characters."

	// SummaryMessage is shown beneath the form while field errors exist.
	SummaryMessage = "Please fix the errors above."
)

// FieldErrors maps a field to its validation message. An empty map means
// the credentials may be submitted.
type FieldErrors map[Field]string

// Valid reports whether there are no field errors.
func (e FieldErrors) Valid() bool {
	return len(e) == 0
}

// Clone returns an independent copy.
func (e FieldErrors) Clone() FieldErrors {
	if e == nil {
		return FieldErrors{}
	}
	return maps.Clone(e)
}

var fieldRules = []struct {
	field    Field
	required string
	tooLong  string
}{
	{FieldUserID, MsgUserIDRequired, MsgUserIDTooLong},
	{FieldPassword, MsgPasswordRequired, MsgPasswordTooLong},
}

// Validate checks both credential fields independently. A field that is
// empty or whitespace-only is required; a non-empty field longer than
// MaxFieldLength is too long. Validate does not rely on Normalize having
// run first.
func Validate(c Credentials) FieldErrors {
	errs := FieldErrors{}
	for _, rule := range fieldRules {
		value := c.Get(rule.field)
		switch {
		case strings.TrimSpace(value) == "":
			errs[rule.field] = rule.required
		case utf8.RuneCountInString(value) > MaxFieldLength:
			errs[rule.field] = rule.tooLong
		}
	}
	return errs
}
