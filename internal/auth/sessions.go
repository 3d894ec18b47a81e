// Palisade - Access Control Core
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-server/palisade

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSessionNotFound means the refresh session was revoked, rotated away, or
// never existed.
var ErrSessionNotFound = errors.New("refresh session not found")

// SessionStore tracks live refresh sessions. A refresh token is only honored
// while its JTI is present; logout and rotation remove it, which is the
// revocation mechanism for refresh tokens. Access tokens are not tracked and
// stay valid until expiry.
type SessionStore interface {
	Put(ctx context.Context, jti, userID string, ttl time.Duration) error
	Get(ctx context.Context, jti string) (userID string, err error)
	Delete(ctx context.Context, jti string) error
}

// RedisSessionStore stores refresh sessions as expiring Redis keys. The key
// TTL matches the refresh token TTL, so abandoned sessions clean themselves
// up.
type RedisSessionStore struct {
	client *redis.Client
}

const sessionKeyPrefix = "palisade:session:"

// NewRedisSessionStore creates a Redis-backed session store.
func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

func sessionKey(jti string) string {
	return sessionKeyPrefix + jti
}

// Put records a refresh session.
func (s *RedisSessionStore) Put(ctx context.Context, jti, userID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, sessionKey(jti), userID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store refresh session: %w", err)
	}
	return nil
}

// Get returns the user ID bound to a refresh session.
func (s *RedisSessionStore) Get(ctx context.Context, jti string) (string, error) {
	userID, err := s.client.Get(ctx, sessionKey(jti)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read refresh session: %w", err)
	}
	return userID, nil
}

// Delete revokes a refresh session. Deleting an absent session is not an
// error.
func (s *RedisSessionStore) Delete(ctx context.Context, jti string) error {
	if err := s.client.Del(ctx, sessionKey(jti)).Err(); err != nil {
		return fmt.Errorf("failed to delete refresh session: %w", err)
	}
	return nil
}
