// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package userfile reads the YAML user-import file used by `signon user
// import`.
//
// A file looks like:
//
//	version: "1.0"
//	users:
//	  - id: ADMIN001
//	    name: Administrator
//	    role: admin
//	    password: PASSWORD
//	  - id: USER0001
//	    role: user
//	    password_hash: $argon2id$v=19$...
package userfile

import (
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/holomush/signon/internal/auth"
)

// SupportedVersions is the version constraint a file must satisfy.
const SupportedVersions = "^1"

// File is a parsed user-import file.
type File struct {
	Version string `json:"version" yaml:"version" jsonschema:"description=File format version (semver)"`
	Users   []User `json:"users" yaml:"users" jsonschema:"minItems=1"`
}

// User is one account to import. Exactly one of Password or PasswordHash
// is set.
type User struct {
	ID           string `json:"id" yaml:"id" jsonschema:"pattern=^[A-Za-z0-9]+$,maxLength=8"`
	Name         string `json:"name,omitempty" yaml:"name,omitempty"`
	Role         string `json:"role" yaml:"role" jsonschema:"enum=admin,enum=user"`
	Password     string `json:"password,omitempty" yaml:"password,omitempty" jsonschema:"maxLength=8"`
	PasswordHash string `json:"password_hash,omitempty" yaml:"password_hash,omitempty"`
}

// Load reads and parses the file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied import file
	if err != nil {
		return nil, oops.Code("USERFILE_READ_FAILED").With("path", path).Wrap(err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, oops.With("path", path).Wrap(err)
	}
	return f, nil
}

// Parse validates data against the schema, decodes it and checks the
// version and per-user rules.
func Parse(data []byte) (*File, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, oops.Code("USERFILE_INVALID").With("operation", "decode").Wrap(err)
	}
	if err := checkVersion(f.Version); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(f.Users))
	for i := range f.Users {
		u := &f.Users[i]
		u.ID = strings.ToUpper(u.ID)
		if err := u.validate(); err != nil {
			return nil, oops.With("index", i).Wrap(err)
		}
		if _, dup := seen[u.ID]; dup {
			return nil, oops.Code("USERFILE_INVALID").
				With("user_id", u.ID).
				Errorf("user %s is listed more than once", u.ID)
		}
		seen[u.ID] = struct{}{}
	}
	return &f, nil
}

func checkVersion(v string) error {
	version, err := semver.NewVersion(v)
	if err != nil {
		return oops.Code("USERFILE_UNSUPPORTED_VERSION").With("version", v).Wrap(err)
	}
	constraint, err := semver.NewConstraint(SupportedVersions)
	if err != nil {
		return oops.Code("USERFILE_UNSUPPORTED_VERSION").Wrap(err)
	}
	if !constraint.Check(version) {
		return oops.Code("USERFILE_UNSUPPORTED_VERSION").
			With("version", v).
			With("supported", SupportedVersions).
			Errorf("file version %s is not supported", v)
	}
	return nil
}

func (u *User) validate() error {
	if err := auth.ValidateUserID(u.ID); err != nil {
		return err
	}
	if !auth.Role(u.Role).Valid() {
		return oops.Code("USERFILE_INVALID").With("user_id", u.ID).Errorf("unknown role %q", u.Role)
	}
	if (u.Password == "") == (u.PasswordHash == "") {
		return oops.Code("USERFILE_INVALID").
			With("user_id", u.ID).
			Errorf("exactly one of password or password_hash is required")
	}
	return nil
}
