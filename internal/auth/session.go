// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session lifetime configuration.
const (
	SessionTokenBytes = 32                  // 32 bytes = 64 hex chars
	DefaultSessionTTL = 24 * time.Hour      // server-side cap for browser-session cookies
	RememberMeTTL     = 14 * 24 * time.Hour // remember-me window
)

// Session is server-held state keyed by a client token. A nil AccountID
// means the session is anonymous.
type Session struct {
	ID         ulid.ULID
	AccountID  *ulid.ULID
	TokenHash  string
	Persistent bool
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// NewAnonymousSession returns an unbound session. Anonymous sessions are
// never written to a SessionStore.
func NewAnonymousSession() *Session {
	return &Session{
		ID:        ulid.Make(),
		CreatedAt: time.Now().UTC(),
	}
}

// NewAuthenticatedSession creates a validated session bound to accountID.
func NewAuthenticatedSession(accountID ulid.ULID, tokenHash string, persistent bool, expiresAt time.Time) (*Session, error) {
	if accountID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_ACCOUNT").Errorf("account ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("SESSION_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}

	id := accountID
	return &Session{
		ID:         ulid.Make(),
		AccountID:  &id,
		TokenHash:  tokenHash,
		Persistent: persistent,
		ExpiresAt:  expiresAt,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// IsAuthenticated reports whether the session is bound to an account.
func (s *Session) IsAuthenticated() bool {
	return s != nil && s.AccountID != nil
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired() bool {
	return s.IsExpiredAt(time.Now())
}

// IsExpiredAt returns true if the session would be expired at the given time.
// Anonymous sessions have no expiry.
func (s *Session) IsExpiredAt(t time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return t.After(s.ExpiresAt)
}

// GenerateSessionToken creates a secure random token and its hash.
// Returns (plaintext_token, sha256_hash, error).
// The plaintext token goes to the client; only the hash is stored.
func GenerateSessionToken() (token, hash string, err error) {
	tokenBytes := make([]byte, SessionTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("SESSION_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", SessionTokenBytes).
			Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	return token, HashSessionToken(token), nil
}

// HashSessionToken computes the SHA256 hash of a session token.
func HashSessionToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// SessionStore holds authenticated sessions keyed by token hash.
// Each operation must be atomic for a single key.
type SessionStore interface {
	// Create stores a new session.
	Create(ctx context.Context, session *Session) error

	// GetByTokenHash retrieves a session by its token hash.
	// Returns ErrNotFound if no entry exists.
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)

	// Delete removes the session with the given token hash. Deleting a
	// missing entry is not an error.
	Delete(ctx context.Context, tokenHash string) error
}
