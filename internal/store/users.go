// Palisade - Access Control Core
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-server/palisade

// Package store provides the Postgres-backed identity store.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUserNotFound means no account matches the lookup.
var ErrUserNotFound = errors.New("user not found")

// ErrEmailTaken means an account with the email already exists.
var ErrEmailTaken = errors.New("email already registered")

// User is a stored account. PasswordHash is a bcrypt hash and never leaves
// the auth layer.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Roles        []string
	CreatedAt    time.Time
}

// UserStore persists accounts.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a Postgres-backed user store.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

// EnsureSchema creates the users table when missing. Called once at startup.
func (s *UserStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id            UUID PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			roles         TEXT[] NOT NULL DEFAULT '{}',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("failed to ensure users table: %w", err)
	}
	return nil
}

// Create inserts a new account and returns it with its generated ID.
func (s *UserStore) Create(ctx context.Context, email, passwordHash string, roles []string) (*User, error) {
	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		Roles:        roles,
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, email, password_hash, roles)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		user.ID, user.Email, user.PasswordHash, user.Roles,
	).Scan(&user.CreatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetByEmail returns the account for an email address.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.get(ctx, "email = $1", email)
}

// GetByID returns the account for a user ID.
func (s *UserStore) GetByID(ctx context.Context, id string) (*User, error) {
	return s.get(ctx, "id = $1", id)
}

func (s *UserStore) get(ctx context.Context, where string, arg any) (*User, error) {
	user := &User{}
	err := s.pool.QueryRow(ctx,
		"SELECT id, email, password_hash, roles, created_at FROM users WHERE "+where, arg,
	).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Roles, &user.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}
