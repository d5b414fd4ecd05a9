// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// MaxUsernameLength bounds usernames in characters. It leaves room for an
// email address.
const MaxUsernameLength = 254

// Account is a persisted identity. PasswordHash is the only stored form of
// the password.
type Account struct {
	ID           ulid.ULID
	Username     string
	FirstName    string
	LastName     string
	PasswordHash string
	Avatar       string
	CreatedAt    time.Time
}

// NewAccount creates a validated Account with a fresh ID.
// FirstName, LastName and Avatar are optional.
func NewAccount(username, firstName, lastName, passwordHash, avatar string) (*Account, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("ACCOUNT_INVALID_HASH").Errorf("password hash cannot be empty")
	}
	return &Account{
		ID:           ulid.Make(),
		Username:     username,
		FirstName:    firstName,
		LastName:     lastName,
		PasswordHash: passwordHash,
		Avatar:       avatar,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// DisplayName returns "First Last", falling back to the username.
func (a *Account) DisplayName() string {
	switch {
	case a.FirstName != "" && a.LastName != "":
		return a.FirstName + " " + a.LastName
	case a.FirstName != "":
		return a.FirstName
	case a.LastName != "":
		return a.LastName
	default:
		return a.Username
	}
}

// ValidateUsername accepts any non-empty username of at most
// MaxUsernameLength characters that is valid UTF-8 and free of control
// characters. Usernames are matched exactly, case included.
func ValidateUsername(username string) error {
	var msg string
	switch {
	case username == "":
		msg = "username cannot be empty"
	case !utf8.ValidString(username):
		msg = "username must be valid UTF-8"
	case utf8.RuneCountInString(username) > MaxUsernameLength:
		msg = fmt.Sprintf("username must be at most %d characters", MaxUsernameLength)
	case strings.IndexFunc(username, unicode.IsControl) >= 0:
		msg = "username must not contain control characters"
	default:
		return nil
	}
	return oops.Code("AUTH_INVALID_USERNAME").
		With("max", MaxUsernameLength).
		Public(msg).
		Wrapf(ErrInvalidUsername, "%s", msg)
}

// AccountRepository manages account persistence.
type AccountRepository interface {
	// Create stores a new account. Returns an error wrapping ErrUsernameTaken
	// when the username is already in use; the store enforces uniqueness.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByUsername retrieves an account by exact username.
	// Returns an error wrapping ErrNotFound if no account matches.
	GetByUsername(ctx context.Context, username string) (*Account, error)
}
