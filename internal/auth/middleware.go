// Palisade - Access Control Core
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-server/palisade

package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/palisade-server/palisade/internal/apperror"
	"github.com/palisade-server/palisade/internal/logging"
	"github.com/palisade-server/palisade/internal/token"
)

// Middleware authenticates requests: it extracts the bearer token, validates
// it as an access token, binds the resulting identity to the request context,
// and passes control on. Any failure short-circuits with the uniform error
// body; handlers behind it can rely on IdentityFrom succeeding.
func Middleware(tokens *token.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := extractBearer(r)
			if err != nil {
				apperror.WriteJSON(w, err)
				return
			}

			claims, err := tokens.ValidateAccess(raw)
			if err != nil {
				apperror.WriteJSON(w, classifyTokenError(err))
				return
			}

			identity := &Identity{
				ID:    claims.Subject,
				Email: claims.Email,
				Roles: claims.Roles,
			}

			logging.Debug().
				Str("user_id", identity.ID).
				Strs("roles", identity.Roles).
				Str("path", r.URL.Path).
				Msg("request authenticated")

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// extractBearer pulls the token out of the Authorization header. A missing
// header is an unauthorized outcome; a present-but-mangled one is an invalid
// token outcome.
func extractBearer(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", apperror.ErrUnauthorized
	}

	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", apperror.ErrInvalidToken
	}

	raw := strings.TrimSpace(header[len(prefix):])
	if raw == "" {
		return "", apperror.ErrInvalidToken
	}
	return raw, nil
}

// classifyTokenError maps token validation failures onto the wire taxonomy.
// Wrong-type and tamper outcomes share the invalid_token code; the two expiry
// outcomes stay distinct so clients know whether a refresh can still help.
func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, token.ErrAccessExpired):
		return apperror.ErrSessionExpired
	case errors.Is(err, token.ErrRefreshExpired):
		return apperror.ErrRefreshExpired
	case errors.Is(err, token.ErrWrongType), errors.Is(err, token.ErrMalformed):
		return apperror.ErrInvalidToken
	default:
		return apperror.ErrInvalidToken
	}
}
