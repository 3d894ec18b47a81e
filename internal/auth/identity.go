// Palisade - Access Control Core
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-server/palisade

// Package auth provides authentication: credential verification, token
// issuance and refresh, and the HTTP middleware that turns a bearer token
// into a request-scoped identity.
package auth

import "context"

// Identity is the authenticated principal bound to a request. Downstream
// handlers read it from the request context; they never touch the raw token.
type Identity struct {
	ID    string   `json:"id"`
	Email string   `json:"email"`
	Roles []string `json:"roles"`
}

type contextKey int

const identityKey contextKey = iota

// WithIdentity returns a context carrying the identity.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom extracts the authenticated identity from the context. ok is
// false on requests that did not pass through the auth middleware.
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok && id != nil
}
