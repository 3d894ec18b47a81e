// Palisade - Access Control Core
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-server/palisade

package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"golang.org/x/crypto/bcrypt"

	"github.com/palisade-server/palisade/internal/apperror"
	"github.com/palisade-server/palisade/internal/config"
	"github.com/palisade-server/palisade/internal/logging"
	"github.com/palisade-server/palisade/internal/store"
	"github.com/palisade-server/palisade/internal/token"
)

// UserDirectory is the account lookup surface the handlers need. Satisfied by
// store.UserStore; tests substitute an in-memory fake.
type UserDirectory interface {
	GetByEmail(ctx context.Context, email string) (*store.User, error)
	GetByID(ctx context.Context, id string) (*store.User, error)
	Create(ctx context.Context, email, passwordHash string, roles []string) (*store.User, error)
}

// Handlers implements the authentication endpoints: register, login, refresh,
// logout, and userinfo.
type Handlers struct {
	users      UserDirectory
	tokens     *token.Manager
	sessions   SessionStore
	validate   *validator.Validate
	limiter    *loginLimiter
	refreshTTL time.Duration
}

// defaultRoles is assigned to newly registered accounts. Role escalation goes
// through the administrative policy surface.
var defaultRoles = []string{"viewer"}

// NewHandlers creates the auth handlers.
func NewHandlers(users UserDirectory, tokens *token.Manager, sessions SessionStore, cfg *config.SecurityConfig) *Handlers {
	return &Handlers{
		users:      users,
		tokens:     tokens,
		sessions:   sessions,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		limiter:    newLoginLimiter(cfg.LoginRateLimitReqs, cfg.LoginRateLimitWindow),
		refreshTTL: cfg.RefreshTokenTTL,
	}
}

// LoginRateLimit wraps a handler with the per-IP credential attempt limiter.
func (h *Handlers) LoginRateLimit(next http.Handler) http.Handler {
	return h.limiter.middleware(next)
}

// RegisterRequest is the body for POST /api/v1/auth/register.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// LoginRequest is the body for POST /api/v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,max=128"`
}

// RefreshRequest is the body for POST /api/v1/auth/refresh and logout.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// TokenResponse is the body returned on login and refresh.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Success      bool   `json:"success"`
}

// UserResponse is the body returned on register and userinfo.
type UserResponse struct {
	ID      string   `json:"id"`
	Email   string   `json:"email"`
	Roles   []string `json:"roles"`
	Success bool     `json:"success"`
}

type statusResponse struct {
	Success bool `json:"success"`
}

// Register handles POST /api/v1/auth/register. New accounts get the default
// role set.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	if err := h.requireDirectory(); err != nil {
		apperror.WriteJSON(w, err)
		return
	}

	var req RegisterRequest
	if err := h.decode(r, &req); err != nil {
		apperror.WriteJSON(w, err)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		apperror.WriteJSON(w, apperror.Wrap(apperror.KindInternal, err))
		return
	}

	user, err := h.users.Create(r.Context(), req.Email, string(hash), defaultRoles)
	if errors.Is(err, store.ErrEmailTaken) {
		apperror.WriteJSON(w, apperror.Wrap(apperror.KindEmailTaken, err))
		return
	}
	if err != nil {
		apperror.WriteJSON(w, apperror.Wrap(apperror.KindInternal, err))
		return
	}

	logging.Info().Str("user_id", user.ID).Msg("user registered")
	writeJSON(w, http.StatusCreated, UserResponse{
		ID:      user.ID,
		Email:   user.Email,
		Roles:   user.Roles,
		Success: true,
	})
}

// Login handles POST /api/v1/auth/login. On success it issues a fresh token
// pair and records the refresh session.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if err := h.requireDirectory(); err != nil {
		apperror.WriteJSON(w, err)
		return
	}

	var req LoginRequest
	if err := h.decode(r, &req); err != nil {
		apperror.WriteJSON(w, err)
		return
	}

	user, err := h.users.GetByEmail(r.Context(), req.Email)
	if errors.Is(err, store.ErrUserNotFound) {
		apperror.WriteJSON(w, apperror.Wrap(apperror.KindUserNotFound, err))
		return
	}
	if err != nil {
		apperror.WriteJSON(w, apperror.Wrap(apperror.KindInternal, err))
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		logging.Warn().Str("user_id", user.ID).Str("ip", clientIP(r)).Msg("failed login attempt")
		apperror.WriteJSON(w, apperror.ErrUnauthorized)
		return
	}

	resp, err := h.issuePair(r.Context(), user)
	if err != nil {
		apperror.WriteJSON(w, err)
		return
	}

	logging.Info().Str("user_id", user.ID).Msg("login succeeded")
	writeJSON(w, http.StatusOK, resp)
}

// Refresh handles POST /api/v1/auth/refresh. The presented refresh token is
// rotated: its session is consumed and a new pair is issued. An expired or
// revoked refresh token yields no tokens of any kind.
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.requireDirectory(); err != nil {
		apperror.WriteJSON(w, err)
		return
	}

	var req RefreshRequest
	if err := h.decode(r, &req); err != nil {
		apperror.WriteJSON(w, err)
		return
	}

	claims, err := h.tokens.ValidateRefresh(req.RefreshToken)
	if err != nil {
		apperror.WriteJSON(w, classifyTokenError(err))
		return
	}

	if _, err := h.sessions.Get(r.Context(), claims.ID); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			apperror.WriteJSON(w, apperror.ErrRefreshExpired)
			return
		}
		apperror.WriteJSON(w, apperror.Wrap(apperror.KindInternal, err))
		return
	}

	// Roles are re-read from the store so a refresh picks up grants and
	// revocations made since login.
	user, err := h.users.GetByID(r.Context(), claims.Subject)
	if errors.Is(err, store.ErrUserNotFound) {
		apperror.WriteJSON(w, apperror.ErrRefreshExpired)
		return
	}
	if err != nil {
		apperror.WriteJSON(w, apperror.Wrap(apperror.KindInternal, err))
		return
	}

	if err := h.sessions.Delete(r.Context(), claims.ID); err != nil {
		apperror.WriteJSON(w, apperror.Wrap(apperror.KindInternal, err))
		return
	}

	resp, err := h.issuePair(r.Context(), user)
	if err != nil {
		apperror.WriteJSON(w, err)
		return
	}

	logging.Info().Str("user_id", user.ID).Msg("token pair refreshed")
	writeJSON(w, http.StatusOK, resp)
}

// Logout handles POST /api/v1/auth/logout. It revokes the refresh session;
// the access token stays valid until it expires on its own.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := h.decode(r, &req); err != nil {
		apperror.WriteJSON(w, err)
		return
	}

	claims, err := h.tokens.ValidateRefresh(req.RefreshToken)
	if err != nil {
		apperror.WriteJSON(w, classifyTokenError(err))
		return
	}

	if err := h.sessions.Delete(r.Context(), claims.ID); err != nil {
		apperror.WriteJSON(w, apperror.Wrap(apperror.KindInternal, err))
		return
	}

	logging.Info().Str("user_id", claims.Subject).Msg("logout")
	writeJSON(w, http.StatusOK, statusResponse{Success: true})
}

// Userinfo handles GET /api/v1/auth/userinfo. Requires the auth middleware.
func (h *Handlers) Userinfo(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		apperror.WriteJSON(w, apperror.ErrUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, UserResponse{
		ID:      identity.ID,
		Email:   identity.Email,
		Roles:   identity.Roles,
		Success: true,
	})
}

func (h *Handlers) issuePair(ctx context.Context, user *store.User) (*TokenResponse, error) {
	access, err := h.tokens.IssueAccess(user.ID, user.Email, user.Roles)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, err)
	}

	refresh, jti, err := h.tokens.IssueRefresh(user.ID, user.Email, user.Roles)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, err)
	}

	if err := h.sessions.Put(ctx, jti, user.ID, h.refreshTTL); err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, err)
	}

	return &TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(h.tokens.AccessTTL().Seconds()),
		Success:      true,
	}, nil
}

// requireDirectory guards the endpoints that need the identity store. It is
// nil when the service runs without a database.
func (h *Handlers) requireDirectory() error {
	if h.users == nil {
		return apperror.New(apperror.KindProcess, "identity store not configured")
	}
	return nil
}

func (h *Handlers) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperror.Wrap(apperror.KindValidation, err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return apperror.Wrap(apperror.KindValidation, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
