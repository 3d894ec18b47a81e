// Palisade - Access Control Core
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-server/palisade

package token

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palisade-server/palisade/internal/config"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testManager(t *testing.T, now time.Time) *Manager {
	t.Helper()
	m, err := NewManager(&config.SecurityConfig{
		JWTSecret:       testSecret,
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
	})
	require.NoError(t, err)
	return m.WithClock(func() time.Time { return now })
}

func TestNewManagerRejectsShortSecret(t *testing.T) {
	_, err := NewManager(&config.SecurityConfig{
		JWTSecret:       "short",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
	})
	assert.Error(t, err)
}

func TestNewManagerRejectsInvertedTTLs(t *testing.T) {
	_, err := NewManager(&config.SecurityConfig{
		JWTSecret:       testSecret,
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: time.Minute,
	})
	assert.Error(t, err)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := testManager(t, t0)

	tok, err := m.IssueAccess("user-1", "alice@example.com", []string{"editor", "viewer"})
	require.NoError(t, err)

	claims, err := m.ValidateAccess(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, []string{"editor", "viewer"}, claims.Roles)
	assert.Equal(t, TypeAccess, claims.TokenType)
	assert.NotEmpty(t, claims.ID)
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := testManager(t, t0)

	tok, jti, err := m.IssueRefresh("user-1", "alice@example.com", []string{"viewer"})
	require.NoError(t, err)
	require.NotEmpty(t, jti)

	claims, err := m.ValidateRefresh(tok)
	require.NoError(t, err)
	assert.Equal(t, jti, claims.ID)
	assert.Equal(t, TypeRefresh, claims.TokenType)
}

func TestExpiryMonotonicity(t *testing.T) {
	// A token valid at t is valid at every instant before its expiry and
	// invalid at every instant at or after it.
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := testManager(t, t0)

	tok, err := m.IssueAccess("user-1", "alice@example.com", []string{"viewer"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		at      time.Time
		wantErr error
	}{
		{"immediately", t0, nil},
		{"one minute in", t0.Add(time.Minute), nil},
		{"just before expiry", t0.Add(15*time.Minute - time.Second), nil},
		{"exactly at expiry", t0.Add(15 * time.Minute), ErrAccessExpired},
		{"twenty minutes in", t0.Add(20 * time.Minute), ErrAccessExpired},
		{"a day later", t0.Add(24 * time.Hour), ErrAccessExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at := tt.at
			m.WithClock(func() time.Time { return at })
			_, err := m.ValidateAccess(tok)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestExpiredRefreshIsDistinctFromExpiredAccess(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := testManager(t, t0)

	refresh, _, err := m.IssueRefresh("user-1", "alice@example.com", nil)
	require.NoError(t, err)

	m.WithClock(func() time.Time { return t0.Add(8 * 24 * time.Hour) })
	_, err = m.ValidateRefresh(refresh)
	assert.ErrorIs(t, err, ErrRefreshExpired)
	assert.NotErrorIs(t, err, ErrAccessExpired)
}

func TestWrongTypeBeatsExpiry(t *testing.T) {
	// An access token presented for a refresh exchange is a type error even
	// after it has expired; the two failure modes never blur together.
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := testManager(t, t0)

	access, err := m.IssueAccess("user-1", "alice@example.com", nil)
	require.NoError(t, err)
	refresh, _, err := m.IssueRefresh("user-1", "alice@example.com", nil)
	require.NoError(t, err)

	m.WithClock(func() time.Time { return t0.Add(time.Hour) })

	_, err = m.ValidateRefresh(access)
	assert.ErrorIs(t, err, ErrWrongType)

	_, err = m.ValidateAccess(refresh)
	assert.ErrorIs(t, err, ErrWrongType)
}

func TestTamperedTokenIsMalformed(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := testManager(t, t0)

	tok, err := m.IssueAccess("user-1", "alice@example.com", []string{"viewer"})
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	require.Len(t, parts, 3)

	tests := []struct {
		name string
		tok  string
	}{
		{"garbage", "not-a-jwt"},
		{"missing segment", parts[0] + "." + parts[1]},
		{"flipped payload", parts[0] + "." + flipByte(parts[1]) + "." + parts[2]},
		{"flipped signature", parts[0] + "." + parts[1] + "." + flipByte(parts[2])},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.ValidateAccess(tt.tok)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestTamperBeatsClock(t *testing.T) {
	// A tampered token stays malformed whether or not its embedded expiry
	// has passed; validation outcome is independent of wall clock for bad
	// signatures.
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := testManager(t, t0)

	tok, err := m.IssueAccess("user-1", "alice@example.com", nil)
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	tampered := parts[0] + "." + parts[1] + "." + flipByte(parts[2])

	for _, at := range []time.Time{t0, t0.Add(20 * time.Minute)} {
		clockAt := at
		m.WithClock(func() time.Time { return clockAt })
		_, err := m.ValidateAccess(tampered)
		assert.ErrorIs(t, err, ErrMalformed)
	}
}

func TestTokenFromDifferentSecretRejected(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := testManager(t, t0)

	other, err := NewManager(&config.SecurityConfig{
		JWTSecret:       "ffffffffffffffffffffffffffffffff",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
	})
	require.NoError(t, err)

	tok, err := other.IssueAccess("user-1", "alice@example.com", nil)
	require.NoError(t, err)

	_, err = m.ValidateAccess(tok)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRefreshJTIsAreUnique(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := testManager(t, t0)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		_, jti, err := m.IssueRefresh("user-1", "alice@example.com", nil)
		require.NoError(t, err)
		assert.False(t, seen[jti])
		seen[jti] = true
	}
}

// flipByte changes one character of a base64url segment to corrupt it.
func flipByte(s string) string {
	if s == "" {
		return "x"
	}
	b := []byte(s)
	if b[0] == 'A' {
		b[0] = 'B'
	} else {
		b[0] = 'A'
	}
	return string(b)
}
