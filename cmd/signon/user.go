// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/signon/internal/auth"
	"github.com/holomush/signon/internal/userfile"
	"github.com/holomush/signon/pkg/errutil"
)

// Default timeout for user administration commands.
const defaultUserTimeout = 30 * time.Second

type userAddConfig struct {
	userID   string
	name     string
	role     string
	password string
}

// NewUserCmd creates the user subcommand.
func NewUserCmd() *cobra.Command {
	return newUserCmd(nil)
}

func newUserCmd(deps *Deps) *cobra.Command {
	deps = deps.withDefaults()

	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage sign-on users",
	}

	var timeout time.Duration
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", defaultUserTimeout, "timeout for database operations (e.g., 30s, 1m)")

	addCfg := &userAddConfig{}
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd, deps, timeout, func(ctx context.Context, b Backend) error {
				user, err := b.CreateUser(ctx, addCfg.userID, addCfg.name, auth.Role(addCfg.role), addCfg.password)
				if err != nil {
					return err
				}
				cmd.Printf("Created user %s (%s)\n", user.ID, user.Role)
				return nil
			})
		},
	}
	add.Flags().StringVar(&addCfg.userID, "user-id", "", "user ID (up to 8 letters or digits)")
	add.Flags().StringVar(&addCfg.name, "name", "", "display name")
	add.Flags().StringVar(&addCfg.role, "role", string(auth.RoleUser), "role (admin or user)")
	add.Flags().StringVar(&addCfg.password, "password", "", "password (up to 8 characters)")
	_ = add.MarkFlagRequired("user-id")  //nolint:errcheck // flag is defined above
	_ = add.MarkFlagRequired("password") //nolint:errcheck // flag is defined above

	var dryRun bool
	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Create users from a YAML file",
		Long: `Create users from a YAML user file. The file is validated against
the user file schema first. Users that already exist are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := userfile.Load(args[0])
			if err != nil {
				return err
			}
			if dryRun {
				cmd.Printf("%s is valid: %d user(s)\n", args[0], len(f.Users))
				return nil
			}
			return withBackend(cmd, deps, timeout, func(ctx context.Context, b Backend) error {
				return importUsers(ctx, cmd, b, f)
			})
		},
	}
	importCmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the file without connecting to the database")

	cmd.AddCommand(add, importCmd)
	return cmd
}

// withBackend loads the configuration, connects the backend and runs fn
// with a context bounded by timeout.
func withBackend(cmd *cobra.Command, deps *Deps, timeout time.Duration, fn func(context.Context, Backend) error) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := deps.BackendFactory(ctx, cfg, logger)
	if err != nil {
		return oops.With("operation", "connect auth backend").Wrap(err)
	}
	defer b.Close()

	return fn(ctx, b)
}

func importUsers(ctx context.Context, cmd *cobra.Command, b Backend, f *userfile.File) error {
	var created, skipped int
	for _, u := range f.Users {
		var err error
		if u.PasswordHash != "" {
			_, err = b.StoreUser(ctx, u.ID, u.Name, auth.Role(u.Role), u.PasswordHash)
		} else {
			_, err = b.CreateUser(ctx, u.ID, u.Name, auth.Role(u.Role), u.Password)
		}
		switch {
		case err == nil:
			created++
			cmd.Printf("Created %s (%s)\n", u.ID, u.Role)
		case errutil.HasCode(err, "AUTH_USER_EXISTS"):
			skipped++
			cmd.Printf("Skipped %s: already exists\n", u.ID)
		default:
			return oops.With("user_id", u.ID).With("created", created).Wrap(err)
		}
	}
	cmd.Printf("Imported %d user(s), skipped %d\n", created, skipped)
	return nil
}
