// Palisade - Access Control Core
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-server/palisade

// Package config provides layered configuration loading for Palisade.
//
// Precedence: environment variables > optional YAML config file > built-in
// defaults. See koanf.go for the loading pipeline.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Security SecurityConfig `koanf:"security"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"`
}

// DatabaseConfig holds Postgres settings. The database backs the policy rule
// table and the identity store. When URL is empty, the enforcer falls back to
// its embedded policy and login is unavailable (test/dev mode).
type DatabaseConfig struct {
	URL          string `koanf:"url"`
	MaxOpenConns int    `koanf:"max_open_conns"`
}

// RedisConfig holds Redis settings for the refresh session store.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// SecurityConfig holds authentication and authorization settings.
type SecurityConfig struct {
	// JWTSecret signs access and refresh tokens. Minimum 32 characters.
	JWTSecret string `koanf:"jwt_secret"`

	// AccessTokenTTL is the access token lifetime. Must be shorter than
	// RefreshTokenTTL.
	AccessTokenTTL time.Duration `koanf:"access_token_ttl"`

	// RefreshTokenTTL is the refresh token lifetime.
	RefreshTokenTTL time.Duration `koanf:"refresh_token_ttl"`

	// RateLimitReqs / RateLimitWindow throttle requests per client IP.
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`

	// LoginRateLimitReqs / LoginRateLimitWindow throttle the login endpoint
	// separately (credential-stuffing protection).
	LoginRateLimitReqs   int           `koanf:"login_rate_limit_reqs"`
	LoginRateLimitWindow time.Duration `koanf:"login_rate_limit_window"`

	Casbin CasbinConfig `koanf:"casbin"`
}

// CasbinConfig holds enforcer settings.
type CasbinConfig struct {
	// ModelPath overrides the embedded casbin model file.
	ModelPath string `koanf:"model_path"`

	// PolicyPath overrides the embedded policy CSV. Ignored when the
	// database adapter is active.
	PolicyPath string `koanf:"policy_path"`

	// AutoReload enables periodic policy reload from the backing store.
	AutoReload     bool          `koanf:"auto_reload"`
	ReloadInterval time.Duration `koanf:"reload_interval"`

	// CacheEnabled enables the enforcement decision cache.
	CacheEnabled bool          `koanf:"cache_enabled"`
	CacheTTL     time.Duration `koanf:"cache_ttl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks that required configuration is present and consistent.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateSecurity(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive, got %s", c.Server.Timeout)
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters, got %d", len(c.Security.JWTSecret))
	}
	if c.Security.AccessTokenTTL <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_TTL must be positive, got %s", c.Security.AccessTokenTTL)
	}
	if c.Security.RefreshTokenTTL <= c.Security.AccessTokenTTL {
		return fmt.Errorf("REFRESH_TOKEN_TTL (%s) must exceed ACCESS_TOKEN_TTL (%s)",
			c.Security.RefreshTokenTTL, c.Security.AccessTokenTTL)
	}
	if c.Security.Casbin.AutoReload && c.Security.Casbin.ReloadInterval <= 0 {
		return fmt.Errorf("CASBIN_RELOAD_INTERVAL must be positive when auto-reload is enabled")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "", "trace", "debug", "info", "warn", "warning", "error", "fatal":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, fatal; got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
