// Palisade - Access Control Core
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-server/palisade

// Command server runs the Palisade access-control service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/casbin/casbin/v2/persist"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/palisade-server/palisade/internal/api"
	"github.com/palisade-server/palisade/internal/auth"
	"github.com/palisade-server/palisade/internal/config"
	"github.com/palisade-server/palisade/internal/logging"
	"github.com/palisade-server/palisade/internal/policy"
	"github.com/palisade-server/palisade/internal/rbac"
	"github.com/palisade-server/palisade/internal/store"
	"github.com/palisade-server/palisade/internal/token"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		logging.Err(err).Msg("server exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().
		Str("environment", cfg.Server.Environment).
		Int("port", cfg.Server.Port).
		Msg("starting palisade")

	// Postgres backs the policy rule table and the identity store. Without it
	// the enforcer runs on the embedded policy and login is unavailable.
	var pool *pgxpool.Pool
	var adapter persist.Adapter
	var users *store.UserStore
	if cfg.Database.URL != "" {
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to parse database url: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.Database.MaxOpenConns)

		pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pool.Close()

		pgAdapter := policy.NewPGAdapter(pool)
		if err := pgAdapter.EnsureSchema(ctx); err != nil {
			return err
		}
		adapter = pgAdapter

		users = store.NewUserStore(pool)
		if err := users.EnsureSchema(ctx); err != nil {
			return err
		}
	} else {
		logging.Warn().Msg("no database configured; using embedded policy, login unavailable")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close() //nolint:errcheck
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	enforcer, err := policy.NewEnforcer(ctx, &cfg.Security.Casbin, adapter)
	if err != nil {
		return err
	}
	defer enforcer.Close()

	tokens, err := token.NewManager(&cfg.Security)
	if err != nil {
		return err
	}

	audit := rbac.NewAuditLogger(0)
	authz := rbac.NewService(enforcer, audit)
	defer authz.Close()

	sessions := auth.NewRedisSessionStore(redisClient)

	var directory auth.UserDirectory
	if users != nil {
		directory = users
	}
	authHandlers := auth.NewHandlers(directory, tokens, sessions, &cfg.Security)

	router := api.NewRouter(api.Deps{
		Config:   cfg,
		Tokens:   tokens,
		Auth:     authHandlers,
		Policies: rbac.NewHandlers(authz),
	})

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       2 * cfg.Server.Timeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logging.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logging.Info().Msg("shutdown complete")
	return nil
}
