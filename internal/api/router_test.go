// Palisade - Access Control Core
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-server/palisade

package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palisade-server/palisade/internal/auth"
	"github.com/palisade-server/palisade/internal/config"
	"github.com/palisade-server/palisade/internal/policy"
	"github.com/palisade-server/palisade/internal/rbac"
	"github.com/palisade-server/palisade/internal/token"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type routerFixture struct {
	router http.Handler
	tokens *token.Manager
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 8080, Timeout: 30 * time.Second},
		Security: config.SecurityConfig{
			JWTSecret:            testSecret,
			AccessTokenTTL:       15 * time.Minute,
			RefreshTokenTTL:      7 * 24 * time.Hour,
			RateLimitDisabled:    true,
			LoginRateLimitReqs:   1000,
			LoginRateLimitWindow: time.Minute,
			Casbin: config.CasbinConfig{
				CacheEnabled: false,
			},
		},
		Logging: config.LoggingConfig{Level: "error", Format: "json"},
	}

	enforcer, err := policy.NewEnforcer(context.Background(), &cfg.Security.Casbin, nil)
	require.NoError(t, err)
	t.Cleanup(enforcer.Close)

	authz := rbac.NewService(enforcer, nil)
	t.Cleanup(authz.Close)

	tokens, err := token.NewManager(&cfg.Security)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sessions := auth.NewRedisSessionStore(client)

	router := NewRouter(Deps{
		Config:   cfg,
		Tokens:   tokens,
		Auth:     auth.NewHandlers(nil, tokens, sessions, &cfg.Security),
		Policies: rbac.NewHandlers(authz),
	})

	return &routerFixture{router: router, tokens: tokens}
}

func (f *routerFixture) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *routerFixture) accessToken(t *testing.T, roles ...string) string {
	t.Helper()
	tok, err := f.tokens.IssueAccess("user-1", "alice@example.com", roles)
	require.NoError(t, err)
	return tok
}

func TestHealthEndpoint(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "resource_not_found")
}

func TestPoliciesRequireAuthentication(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/policies/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "unauthorized")
}

func TestPoliciesRequireAdminRole(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/policies/", f.accessToken(t, "viewer"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "forbidden")
}

func TestPoliciesListAsAdmin(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/policies/", f.accessToken(t, "admin"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body rbac.PolicyListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.NotEmpty(t, body.Rules)
	assert.NotEmpty(t, body.GroupingRules)
}

func TestPolicyRuleLifecycleOverHTTP(t *testing.T) {
	f := newRouterFixture(t)
	admin := f.accessToken(t, "admin")

	// The new role has no access.
	rec := f.do(t, http.MethodGet, "/api/v1/policies/", f.accessToken(t, "auditor"), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Grant it read on policies, through the API itself.
	rec = f.do(t, http.MethodPost, "/api/v1/policies/", admin,
		rbac.RuleRequest{Subject: "auditor", Resource: "policies", Action: "read"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/policies/", f.accessToken(t, "auditor"), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Revoke it again.
	rec = f.do(t, http.MethodDelete, "/api/v1/policies/", admin,
		rbac.RuleRequest{Subject: "auditor", Resource: "policies", Action: "read"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/policies/", f.accessToken(t, "auditor"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPolicyAddValidation(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/policies/", f.accessToken(t, "admin"),
		map[string]string{"subject": "auditor"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "validation_error")
}

func TestExpiredTokenOnProtectedRoute(t *testing.T) {
	f := newRouterFixture(t)

	past := time.Now().Add(-time.Hour)
	expired, err := token.NewManager(&config.SecurityConfig{
		JWTSecret:       testSecret,
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
	})
	require.NoError(t, err)
	expired.WithClock(func() time.Time { return past })
	tok, err := expired.IssueAccess("user-1", "alice@example.com", []string{"admin"})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/v1/policies/", tok, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "access_token_expired")
}

func TestLoginWithoutIdentityStore(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/auth/login", "",
		auth.LoginRequest{Email: "alice@example.com", Password: "s3cretpass"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "process_error")
}
