// Palisade - Access Control Core
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-server/palisade

// Package api assembles the HTTP surface: auth endpoints, the policy admin
// surface, health, and metrics.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/palisade-server/palisade/internal/apperror"
	"github.com/palisade-server/palisade/internal/auth"
	"github.com/palisade-server/palisade/internal/config"
	"github.com/palisade-server/palisade/internal/middleware"
	"github.com/palisade-server/palisade/internal/rbac"
	"github.com/palisade-server/palisade/internal/token"
)

// Deps carries the wired services the router mounts.
type Deps struct {
	Config   *config.Config
	Tokens   *token.Manager
	Auth     *auth.Handlers
	Policies *rbac.Handlers
}

// NewRouter builds the full route tree.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.Metrics)
	r.Use(chimiddleware.Recoverer)

	sec := &d.Config.Security
	if !sec.RateLimitDisabled && sec.RateLimitReqs > 0 {
		r.Use(httprate.LimitByIP(sec.RateLimitReqs, sec.RateLimitWindow))
	}

	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(d.Auth.LoginRateLimit).Post("/register", d.Auth.Register)
			r.With(d.Auth.LoginRateLimit).Post("/login", d.Auth.Login)
			r.Post("/refresh", d.Auth.Refresh)
			r.Post("/logout", d.Auth.Logout)

			r.Group(func(r chi.Router) {
				r.Use(auth.Middleware(d.Tokens))
				r.Get("/userinfo", d.Auth.Userinfo)
			})
		})

		r.Route("/policies", func(r chi.Router) {
			r.Use(auth.Middleware(d.Tokens))
			r.Get("/", d.Policies.ListRules)
			r.Post("/", d.Policies.AddRule)
			r.Delete("/", d.Policies.RemoveRule)
			r.Post("/roles", d.Policies.AddInheritance)
			r.Post("/reload", d.Policies.Reload)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		apperror.WriteJSON(w, apperror.New(apperror.KindNotFound, "route not found"))
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "success": true})
}
