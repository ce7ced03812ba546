// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package signon

// Classification is a backend failure reason drawn from a small vocabulary.
type Classification string

// Known classifications. Anything else is treated as ClassUnknown.
const (
	ClassNetworkError       Classification = "network-error"
	ClassInvalidCredentials Classification = "invalid-credentials"
	ClassUserNotFound       Classification = "user-not-found"
	ClassMalformedInput     Classification = "malformed-input"
	ClassAccountLocked      Classification = "account-locked"
	ClassUnknown            Classification = "unknown"
)

// GenericMessage is shown for any classification without its own entry.
const GenericMessage = "An error occurred during authentication. Please try again."

var messages = map[Classification]string{
	ClassInvalidCredentials: "Invalid credentials. Please try again.",
	ClassUserNotFound:       "User not found. Check your User ID.",
	ClassMalformedInput:     "Please check your User ID and password.",
	ClassNetworkError:       "A network error occurred. Check your connection.",
	ClassAccountLocked:      "Your account is temporarily locked. Please try again later.",
}

// Backend strings reported by older auth services.
var legacyClassifications = map[string]Classification{
	"Invalid credentials":     ClassInvalidCredentials,
	"User not found":          ClassUserNotFound,
	"Please check your input": ClassMalformedInput,
	"Network error occurred":  ClassNetworkError,
}

// MessageFor returns the display message for a classification. It never
// fails: unrecognized input yields GenericMessage.
func MessageFor(classification string) string {
	class := Classification(classification)
	if legacy, ok := legacyClassifications[classification]; ok {
		class = legacy
	}
	if msg, ok := messages[class]; ok {
		return msg
	}
	return GenericMessage
}

// Message returns the display message for c.
func (c Classification) Message() string {
	return MessageFor(string(c))
}
