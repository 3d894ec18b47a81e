// Palisade - Access Control Core
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-server/palisade

// Package apperror is the terminal error classification stage.
//
// Every fallible operation in the core returns an error that is, at the HTTP
// boundary, mapped to exactly one (status, error_code, message) triple and
// rendered as the uniform body:
//
//	{"error_code": "...", "message": "...", "success": false}
//
// The mapping is a total, pure function over a closed set of kinds with a
// single 500 fallback bucket, so no failure path can leak unstructured
// internal detail to a caller. Raw error text goes to the log, not the wire.
package apperror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/palisade-server/palisade/internal/logging"
)

// Kind identifies a failure category. The set is closed: every internal
// failure either maps to a named kind or falls into KindInternal.
type Kind int

const (
	// KindInternal is the fallback bucket for unclassified failures.
	KindInternal Kind = iota

	// KindUnauthorized covers absent or unusable credentials.
	KindUnauthorized

	// KindInvalidToken covers malformed or tampered tokens.
	KindInvalidToken

	// KindSessionExpired covers expired access tokens; the client should
	// attempt a refresh exchange.
	KindSessionExpired

	// KindRefreshExpired covers expired refresh tokens; terminal, the client
	// must re-authenticate.
	KindRefreshExpired

	// KindForbidden covers valid identities with insufficient permissions.
	KindForbidden

	// KindValidation covers malformed request input.
	KindValidation

	// KindNotFound covers missing resources.
	KindNotFound

	// KindConflict covers resources that already exist.
	KindConflict

	// KindUserNotFound covers login attempts for unknown accounts.
	KindUserNotFound

	// KindEmailTaken covers registration with an already-used email.
	KindEmailTaken

	// KindProcess covers requests that were understood but not processable.
	KindProcess

	// KindPolicyEngine covers policy store or enforcer failures. Surfaced
	// generically; detail is internal-only.
	KindPolicyEngine
)

// Error carries a failure kind across the core. The wrapped error holds the
// internal detail and never reaches the wire.
type Error struct {
	Kind Kind
	err  error
}

// New creates an Error of the given kind with an internal message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, err: errors.New(msg)}
}

// Wrap attaches a kind to an existing error. A nil err yields nil.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, err: err}
}

// Newf creates an Error of the given kind with a formatted internal message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	return e.err.Error()
}

func (e *Error) Unwrap() error {
	return e.err
}

// Sentinel errors for the common auth outcomes. Handlers and middleware
// return these directly; callers may compare with errors.Is.
var (
	ErrUnauthorized   = New(KindUnauthorized, "authentication required")
	ErrInvalidToken   = New(KindInvalidToken, "invalid authentication token")
	ErrSessionExpired = New(KindSessionExpired, "session has expired")
	ErrRefreshExpired = New(KindRefreshExpired, "refresh token has expired")
	ErrForbidden      = New(KindForbidden, "access denied")
)

// Classification is the wire-level rendering of a failure kind.
type Classification struct {
	Status  int
	Code    string
	Message string
}

// classifications is the exhaustive kind table. Messages are fixed and
// user-facing; they never embed wrapped error detail.
var classifications = map[Kind]Classification{
	KindUnauthorized: {
		Status:  http.StatusUnauthorized,
		Code:    "unauthorized",
		Message: "Authentication required. Please sign in to continue.",
	},
	KindInvalidToken: {
		Status:  http.StatusUnauthorized,
		Code:    "invalid_token",
		Message: "Invalid authentication token. Please sign in again.",
	},
	KindSessionExpired: {
		Status:  http.StatusUnauthorized,
		Code:    "access_token_expired",
		Message: "Your session has expired. Please refresh or sign in again.",
	},
	KindRefreshExpired: {
		Status:  http.StatusUnauthorized,
		Code:    "refresh_token_expired",
		Message: "Your session has permanently expired. Please sign in again.",
	},
	KindForbidden: {
		Status:  http.StatusForbidden,
		Code:    "forbidden",
		Message: "Access denied. You do not have permission to perform this action.",
	},
	KindValidation: {
		Status:  http.StatusBadRequest,
		Code:    "validation_error",
		Message: "Request validation failed. Please check your input and try again.",
	},
	KindNotFound: {
		Status:  http.StatusNotFound,
		Code:    "resource_not_found",
		Message: "The requested resource could not be found.",
	},
	KindConflict: {
		Status:  http.StatusConflict,
		Code:    "resource_exist",
		Message: "The resource already exists.",
	},
	KindUserNotFound: {
		Status:  http.StatusBadRequest,
		Code:    "user_not_exist",
		Message: "No account found for this email address.",
	},
	KindEmailTaken: {
		Status:  http.StatusUnprocessableEntity,
		Code:    "user_email_already_exist",
		Message: "An account with this email address already exists.",
	},
	KindProcess: {
		Status:  http.StatusUnprocessableEntity,
		Code:    "process_error",
		Message: "Unable to process the request.",
	},
	KindPolicyEngine: {
		Status:  http.StatusInternalServerError,
		Code:    "internal_server_error",
		Message: "An internal server error occurred. Please try again later.",
	},
	KindInternal: {
		Status:  http.StatusInternalServerError,
		Code:    "internal_server_error",
		Message: "An internal server error occurred. Please try again later.",
	},
}

// Classify maps any error to its wire classification. Unrecognized errors
// fall into the internal bucket. The mapping is deterministic: the same kind
// always yields the same (status, code) pair.
func Classify(err error) Classification {
	var appErr *Error
	if errors.As(err, &appErr) {
		if c, ok := classifications[appErr.Kind]; ok {
			return c
		}
	}
	return classifications[KindInternal]
}

// Response is the uniform error body emitted by the classifier.
type Response struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	Success   bool   `json:"success"`
}

// WriteJSON classifies err and writes the uniform error body. Internal-class
// failures are logged with full detail before the sanitized body goes out.
func WriteJSON(w http.ResponseWriter, err error) {
	c := Classify(err)

	if c.Status >= http.StatusInternalServerError {
		logging.Err(err).Int("status", c.Status).Msg("internal error")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(c.Status)
	if encErr := json.NewEncoder(w).Encode(Response{
		ErrorCode: c.Code,
		Message:   c.Message,
		Success:   false,
	}); encErr != nil {
		logging.Err(encErr).Msg("failed to encode error response")
	}
}
