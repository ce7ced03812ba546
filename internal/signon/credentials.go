// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package signon

import (
	"log/slog"
	"strings"
	"unicode/utf8"
)

// Field identifies a credential input on the form.
type Field string

// Credential fields.
const (
	FieldUserID   Field = "userId"
	FieldPassword Field = "password"
)

// Fields lists the credential fields in display order.
var Fields = []Field{FieldUserID, FieldPassword}

// MaxFieldLength is the maximum number of characters in either field.
const MaxFieldLength = 8

// Credentials is the user id and password pair entered on the form.
// It lives only in form state and is never persisted.
type Credentials struct {
	UserID   string
	Password string
}

// Get returns the value held for field, or "" for an unknown field.
func (c Credentials) Get(field Field) string {
	switch field {
	case FieldUserID:
		return c.UserID
	case FieldPassword:
		return c.Password
	default:
		return ""
	}
}

// LogValue keeps the password out of structured logs.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user_id", c.UserID),
		slog.Bool("password_set", c.Password != ""),
	)
}

// Normalize applies the input shape rules to a raw field value as it is
// typed. It returns the upper-cased value and true, or "" and false when
// the value is longer than MaxFieldLength and must be discarded. Length is
// counted in characters after case mapping, so a value can never be stored
// longer than MaxFieldLength.
func Normalize(raw string) (string, bool) {
	if utf8.RuneCountInString(raw) > MaxFieldLength {
		return "", false
	}
	upper := strings.ToUpper(raw)
	if utf8.RuneCountInString(upper) > MaxFieldLength {
		return "", false
	}
	return upper, true
}
