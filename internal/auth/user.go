// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"regexp"
	"time"

	"github.com/samber/oops"
)

// MaxUserIDLength is the longest sign-on identifier accepted.
const MaxUserIDLength = 8

// MaxPasswordLength is the longest password accepted at sign-on.
const MaxPasswordLength = 8

// userIDRegex matches upper-case letters and digits only.
var userIDRegex = regexp.MustCompile(`^[A-Z0-9]+$`)

// Role is a user's access level.
type Role string

// Known roles.
const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// User is a sign-on account, keyed by its user ID.
type User struct {
	ID             string
	Name           string
	Role           Role
	PasswordHash   string
	FailedAttempts int
	LockedUntil    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewUser creates a validated User.
func NewUser(id, name string, role Role, passwordHash string) (*User, error) {
	if err := ValidateUserID(id); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, oops.Code("AUTH_INVALID_ROLE").
			With("role", string(role)).
			Errorf("role must be %q or %q", RoleAdmin, RoleUser)
	}
	if passwordHash == "" {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("password hash cannot be empty")
	}

	now := time.Now()
	return &User{
		ID:           id,
		Name:         name,
		Role:         role,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// IsLocked returns true if the user is currently locked out.
func (u *User) IsLocked() bool {
	return IsLockedOut(u.LockedUntil)
}

// RecordFailure increments the failure counter and sets lockout if threshold reached.
func (u *User) RecordFailure() {
	u.FailedAttempts++
	u.LockedUntil = ComputeLockoutTime(u.FailedAttempts)
	u.UpdatedAt = time.Now()
}

// RecordSuccess resets failure counter and lockout.
func (u *User) RecordSuccess() {
	u.FailedAttempts = 0
	u.LockedUntil = nil
	u.UpdatedAt = time.Now()
}

// ValidateUserID checks that id is 1 to MaxUserIDLength upper-case letters
// or digits.
func ValidateUserID(id string) error {
	if id == "" {
		return oops.Code("AUTH_INVALID_INPUT").
			With("field", "user_id").
			Errorf("user ID cannot be empty")
	}
	if len(id) > MaxUserIDLength {
		return oops.Code("AUTH_INVALID_INPUT").
			With("field", "user_id").
			With("max", MaxUserIDLength).
			Errorf("user ID must be at most %d characters", MaxUserIDLength)
	}
	if !userIDRegex.MatchString(id) {
		return oops.Code("AUTH_INVALID_INPUT").
			With("field", "user_id").
			Errorf("user ID must contain only letters and digits")
	}
	return nil
}

// ValidatePassword checks the sign-on password shape.
func ValidatePassword(password string) error {
	if password == "" {
		return oops.Code("AUTH_INVALID_INPUT").
			With("field", "password").
			Errorf("password cannot be empty")
	}
	if len(password) > MaxPasswordLength {
		return oops.Code("AUTH_INVALID_INPUT").
			With("field", "password").
			With("max", MaxPasswordLength).
			Errorf("password must be at most %d characters", MaxPasswordLength)
	}
	return nil
}

// UserRepository manages user persistence.
type UserRepository interface {
	// Create stores a new user. Returns an AUTH_USER_EXISTS error if the
	// ID is taken.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id string) (*User, error)

	// Update updates an existing user.
	Update(ctx context.Context, user *User) error

	// Delete removes a user.
	Delete(ctx context.Context, id string) error
}
