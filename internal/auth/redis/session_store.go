// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package redis implements auth.SessionStore on Redis. Each session is a
// single key whose TTL matches the session expiry, so Redis removes expired
// sessions without a prune job.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/holomush/portal/internal/auth"
)

// DefaultPrefix namespaces session keys when no prefix is configured.
const DefaultPrefix = "portal"

// record is the stored form of a session.
type record struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"account_id"`
	Persistent bool      `json:"persistent"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// SessionStore implements auth.SessionStore using Redis.
type SessionStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewSessionStore creates a SessionStore. An empty prefix selects
// DefaultPrefix.
func NewSessionStore(client redis.UniversalClient, prefix string) *SessionStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &SessionStore{client: client, prefix: prefix, now: time.Now}
}

func (s *SessionStore) key(tokenHash string) string {
	return s.prefix + ":session:" + tokenHash
}

// Create stores session under its token hash with a TTL ending at its expiry.
func (s *SessionStore) Create(ctx context.Context, session *auth.Session) error {
	if !session.IsAuthenticated() {
		return oops.Code("SESSION_CREATE_FAILED").
			With("session_id", session.ID.String()).
			Errorf("anonymous sessions are not stored")
	}

	ttl := session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return oops.Code("SESSION_CREATE_FAILED").
			With("session_id", session.ID.String()).
			With("expires_at", session.ExpiresAt).
			Errorf("session already expired")
	}

	data, err := json.Marshal(record{
		ID:         session.ID.String(),
		AccountID:  session.AccountID.String(),
		Persistent: session.Persistent,
		ExpiresAt:  session.ExpiresAt.UTC(),
		CreatedAt:  session.CreatedAt.UTC(),
	})
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").With("operation", "encode session").Wrap(err)
	}

	if err := s.client.Set(ctx, s.key(session.TokenHash), data, ttl).Err(); err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "redis set").
			With("session_id", session.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a session by its token hash.
func (s *SessionStore) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	data, err := s.client.Get(ctx, s.key(tokenHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_FAILED").With("operation", "redis get").Wrap(err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, oops.Code("SESSION_CORRUPT").With("operation", "decode session").Wrap(err)
	}
	id, err := ulid.Parse(rec.ID)
	if err != nil {
		return nil, oops.Code("SESSION_CORRUPT").With("id", rec.ID).Wrap(err)
	}
	accountID, err := ulid.Parse(rec.AccountID)
	if err != nil {
		return nil, oops.Code("SESSION_CORRUPT").With("account_id", rec.AccountID).Wrap(err)
	}

	return &auth.Session{
		ID:         id,
		AccountID:  &accountID,
		TokenHash:  tokenHash,
		Persistent: rec.Persistent,
		ExpiresAt:  rec.ExpiresAt,
		CreatedAt:  rec.CreatedAt,
	}, nil
}

// Delete removes the session with the given token hash.
func (s *SessionStore) Delete(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, s.key(tokenHash)).Err(); err != nil {
		return oops.Code("SESSION_DELETE_FAILED").With("operation", "redis del").Wrap(err)
	}
	return nil
}

// Compile-time interface check.
var _ auth.SessionStore = (*SessionStore)(nil)
