// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the work factor used when none is configured.
const DefaultBcryptCost = bcrypt.DefaultCost

// Password input errors. Sign-up refuses an empty password; Hash refuses
// only what bcrypt cannot represent.
var (
	ErrEmptyPassword   = errors.New("password cannot be empty")
	ErrPasswordTooLong = errors.New("password must be at most 72 bytes")
)

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces a salted one-way hash of the password. Hashing the same
	// password twice yields different strings that both verify.
	Hash(password string) (string, error)

	// Verify reports whether password matches hash. A malformed hash is a
	// non-match and costs about as much as a real comparison.
	Verify(password, hash string) bool
}

// BcryptHasher implements PasswordHasher using bcrypt.
type BcryptHasher struct {
	cost int

	dummyOnce sync.Once
	dummy     []byte
}

// NewBcryptHasher creates a BcryptHasher with the given cost.
// A zero cost selects DefaultBcryptCost.
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, oops.Code("AUTH_INVALID_COST").
			With("cost", cost).
			With("min", bcrypt.MinCost).
			With("max", bcrypt.MaxCost).
			Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &BcryptHasher{cost: cost}, nil
}

// Cost returns the configured work factor.
func (h *BcryptHasher) Cost() int {
	return h.cost
}

// Hash produces a bcrypt hash of the password. Any password bcrypt accepts,
// the empty one included, verifies against its hash.
func (h *BcryptHasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", oops.Code("AUTH_PASSWORD_TOO_LONG").Public(ErrPasswordTooLong.Error()).Wrap(ErrPasswordTooLong)
	}
	if err != nil {
		return "", oops.Code("AUTH_HASH_FAILED").With("cost", h.cost).Wrap(err)
	}
	return string(b), nil
}

// Verify checks the password against a bcrypt hash in constant time.
func (h *BcryptHasher) Verify(password, hash string) bool {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		// Spend a comparison anyway so a missing or corrupt hash does not
		// answer faster than a wrong password.
		_ = bcrypt.CompareHashAndPassword(h.dummyHash(), []byte(password)) //nolint:errcheck // only the work matters
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// dummyHash returns a hash of a random secret at the configured cost.
func (h *BcryptHasher) dummyHash() []byte {
	h.dummyOnce.Do(func() {
		secret := make([]byte, 16)
		if _, err := rand.Read(secret); err != nil {
			return
		}
		b, err := bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(secret)), h.cost)
		if err != nil {
			return
		}
		h.dummy = b
	})
	return h.dummy
}

// Compile-time interface check.
var _ PasswordHasher = (*BcryptHasher)(nil)
