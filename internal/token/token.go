// Palisade - Access Control Core
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-server/palisade

// Package token issues and validates the signed access and refresh tokens
// that carry identity between requests.
//
// Both token types are HS256-signed JWTs. Validation is stateless: the only
// inputs are the token string, the signing secret, and the injected clock.
// Signature verification happens before any expiry comparison, so a tampered
// token is always reported as malformed regardless of clock state.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/palisade-server/palisade/internal/config"
)

// Type discriminates access from refresh tokens. A refresh token presented
// where an access token is expected (or vice versa) is rejected.
type Type string

const (
	// TypeAccess is the short-lived per-request credential.
	TypeAccess Type = "access"

	// TypeRefresh is the longer-lived credential used only to obtain a new
	// access token.
	TypeRefresh Type = "refresh"
)

// Validation outcomes. Callers distinguish these with errors.Is; the three
// expiry/tamper cases map to distinct wire codes in apperror.
var (
	// ErrMalformed covers garbage input, tampered payloads, and invalid
	// signatures. Non-retriable.
	ErrMalformed = errors.New("token is malformed or has an invalid signature")

	// ErrAccessExpired means the access token's lifetime has passed; the
	// caller should attempt a refresh exchange.
	ErrAccessExpired = errors.New("access token has expired")

	// ErrRefreshExpired means the refresh token's lifetime has passed;
	// terminal, the user must re-authenticate.
	ErrRefreshExpired = errors.New("refresh token has expired")

	// ErrWrongType means a structurally valid token of the other type was
	// presented. Checked before expiry.
	ErrWrongType = errors.New("unexpected token type")
)

// Claims are the JWT claims carried by both token types. Subject holds the
// user ID; ID holds a per-token UUID (the refresh session key).
type Claims struct {
	Email     string   `json:"email,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	TokenType Type     `json:"token_type"`
	jwt.RegisteredClaims
}

// Manager creates and validates tokens. The signing secret, TTLs, and clock
// are constructor-injected; there is no ambient state.
type Manager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewManager creates a token manager from security configuration.
// The secret must be at least 32 characters (enforced by config validation,
// re-checked here for direct construction).
func NewManager(cfg *config.SecurityConfig) (*Manager, error) {
	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 characters, got %d", len(cfg.JWTSecret))
	}
	if cfg.AccessTokenTTL <= 0 || cfg.RefreshTokenTTL <= cfg.AccessTokenTTL {
		return nil, fmt.Errorf("token TTLs invalid: access=%s refresh=%s", cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	}

	return &Manager{
		secret:     []byte(cfg.JWTSecret),
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		now:        time.Now,
	}, nil
}

// AccessTTL returns the configured access token lifetime.
func (m *Manager) AccessTTL() time.Duration {
	return m.accessTTL
}

// RefreshTTL returns the configured refresh token lifetime.
func (m *Manager) RefreshTTL() time.Duration {
	return m.refreshTTL
}

// WithClock overrides the manager's clock. Intended for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// IssueAccess mints a signed access token for the given identity.
func (m *Manager) IssueAccess(userID, email string, roles []string) (string, error) {
	return m.issue(userID, email, roles, TypeAccess, m.accessTTL)
}

// IssueRefresh mints a signed refresh token for the given identity. The
// returned JTI identifies the refresh session.
func (m *Manager) IssueRefresh(userID, email string, roles []string) (tokenStr, jti string, err error) {
	jti = uuid.NewString()
	tokenStr, err = m.issueWithJTI(userID, email, roles, TypeRefresh, m.refreshTTL, jti)
	return tokenStr, jti, err
}

func (m *Manager) issue(userID, email string, roles []string, typ Type, ttl time.Duration) (string, error) {
	return m.issueWithJTI(userID, email, roles, typ, ttl, uuid.NewString())
}

func (m *Manager) issueWithJTI(userID, email string, roles []string, typ Type, ttl time.Duration, jti string) (string, error) {
	issuedAt := m.now()
	claims := &Claims{
		Email:     email,
		Roles:     roles,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", typ, err)
	}
	return signed, nil
}

// ValidateAccess verifies an access token and returns its claims.
// Failure is one of ErrMalformed, ErrWrongType, or ErrAccessExpired.
func (m *Manager) ValidateAccess(tokenStr string) (*Claims, error) {
	return m.validate(tokenStr, TypeAccess)
}

// ValidateRefresh verifies a refresh token and returns its claims.
// Failure is one of ErrMalformed, ErrWrongType, or ErrRefreshExpired.
func (m *Manager) ValidateRefresh(tokenStr string) (*Claims, error) {
	return m.validate(tokenStr, TypeRefresh)
}

// validate checks signature, then type, then expiry, in that order. Expiry is
// compared against the injected clock so a tampered-but-unexpired token can
// never pass and an expired-but-genuine token is never reported as tampered.
func (m *Manager) validate(tokenStr string, want Type) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenStr, claims, m.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if !tok.Valid {
		return nil, ErrMalformed
	}

	if claims.TokenType != want {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrWrongType, claims.TokenType, want)
	}

	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return nil, fmt.Errorf("%w: missing timestamp claims", ErrMalformed)
	}
	if !m.now().Before(claims.ExpiresAt.Time) {
		if want == TypeRefresh {
			return nil, ErrRefreshExpired
		}
		return nil, ErrAccessExpired
	}

	return claims, nil
}

func (m *Manager) keyFunc(tok *jwt.Token) (interface{}, error) {
	if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
	}
	return m.secret, nil
}
