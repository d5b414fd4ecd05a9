// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Sign-in and sign-up failures. Services wrap these with oops codes; callers
// classify with errors.Is.
var (
	// ErrInvalidCredentials covers both an unknown username and a wrong
	// password. The two cases must stay indistinguishable to callers.
	ErrInvalidCredentials = errors.New("wrong username or password")
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrTermsNotAccepted   = errors.New("you haven't accepted terms of service")
	ErrInvalidUsername    = errors.New("invalid username")
	// ErrUsernameTaken is returned by AccountRepository.Create on a duplicate
	// username and surfaced by sign-up. Unlike ErrInvalidCredentials the
	// sign-up message names the username.
	ErrUsernameTaken = errors.New("username already used")
	// ErrUnauthorized is the guard's answer to an anonymous non-navigational request.
	ErrUnauthorized = errors.New("unauthorized")
)

// IsValidationError reports whether err is a user-correctable sign-in or
// sign-up failure, as opposed to a store or system fault.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrInvalidCredentials,
		ErrPasswordMismatch,
		ErrTermsNotAccepted,
		ErrInvalidUsername,
		ErrUsernameTaken,
		ErrEmptyPassword,
		ErrPasswordTooLong,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
