// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package telnet

import (
	"fmt"
	"slices"
	"strings"

	"github.com/holomush/signon/internal/signon"
)

// Screen text.
const (
	BannerTitle       = "CC00  COSGN00C  CardDemo - Demonstration Application"
	BannerCredentials = "Sample credentials: ADMIN001 / PASSWORD (admin), USER0001 / PASSWORD (user)"
	BannerKeys        = "ENTER = Sign in • F3 = Exit"
	ExitPrompt        = "Are you sure you want to exit the system? (y/n)"
	Instructions      = "Enter your User ID and password, then press ENTER to continue."
)

var helpLines = []string{
	"Commands:",
	"  userid <id>          set the User ID",
	"  password <pw>        set the password",
	"  connect <id> <pw>    set both and sign in",
	"  <ENTER> | submit     sign in",
	"  dismiss              dismiss the error notice",
	"  goto <path>          open a page",
	"  back                 return to the previous page",
	"  logout               sign out",
	"  f3 | quit | exit     leave the system",
	"  help                 show this list",
}

type menuScreen struct {
	header  string
	options []string
}

var (
	adminMenu = menuScreen{
		header: "CA00  COADM01C  Admin Menu",
		options: []string{
			"1. User List (Security)",
			"2. User Add (Security)",
			"3. User Update (Security)",
			"4. User Delete (Security)",
			"5. Transaction Type List/Update (Db2)",
			"6. Transaction Type Maintenance (Db2)",
		},
	}
	mainMenu = menuScreen{
		header: "CM00  COMEN01C  Main Menu",
		options: []string{
			"1. Account View",
			"2. Account Update",
			"3. Credit Card List",
			"4. Credit Card View",
			"5. Credit Card Update",
			"6. Transaction List",
			"7. Transaction View",
			"8. Transaction Add",
			"9. Transaction Reports",
			"10. Bill Payment",
		},
	}
)

func bannerLines() []string {
	return []string{BannerTitle, BannerCredentials, BannerKeys, "", Instructions}
}

// formLines renders the sign-on form, or the transitional text when the
// session is already authenticated.
func formLines(v signon.View) []string {
	if !v.ShowForm {
		return []string{v.Title, v.Message}
	}

	lines := []string{
		"User ID : " + v.UserID,
		"Password: " + strings.Repeat("*", len(v.Password)),
	}
	for _, field := range signon.Fields {
		if msg, ok := v.FieldErrors[field]; ok {
			lines = append(lines, fmt.Sprintf("  %s: %s", fieldLabel(field), msg))
		}
	}
	if v.Summary != "" {
		lines = append(lines, v.Summary)
	}
	if v.Notice != "" {
		lines = append(lines, "! "+v.Notice+" (type dismiss to close)")
	}
	label := "[" + v.SubmitLabel + "]"
	if !v.SubmitEnabled {
		label = "[" + v.SubmitLabel + " - disabled]"
	}
	return append(lines, label)
}

func fieldLabel(field signon.Field) string {
	switch field {
	case signon.FieldUserID:
		return "User ID"
	case signon.FieldPassword:
		return "Password"
	default:
		return string(field)
	}
}

// pageLines renders page for user. homes maps roles to their menu pages.
func pageLines(page string, user *signon.User, homes map[signon.Role]string) []string {
	var lines []string
	switch {
	case page == homes[signon.RoleAdmin]:
		lines = menuLines(adminMenu)
	case page == homes[signon.RoleUser]:
		lines = menuLines(mainMenu)
	default:
		lines = []string{"Page: " + page}
	}
	if user != nil {
		lines = append(lines, fmt.Sprintf("Signed on as %s (%s)", displayName(user), user.Role))
	}
	return lines
}

func menuLines(m menuScreen) []string {
	return append([]string{m.header}, slices.Clone(m.options)...)
}

func displayName(user *signon.User) string {
	if user.Name == "" {
		return user.ID
	}
	return user.Name + " [" + user.ID + "]"
}
