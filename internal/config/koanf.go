// Palisade - Access Control Core
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-server/palisade

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/palisade/config.yaml",
	"/etc/palisade/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with sensible defaults. Defaults are applied
// first, then overridden by the config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		Database: DatabaseConfig{
			URL:          "",
			MaxOpenConns: 8,
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
			DB:   0,
		},
		Security: SecurityConfig{
			JWTSecret:            "",
			AccessTokenTTL:       15 * time.Minute,
			RefreshTokenTTL:      7 * 24 * time.Hour,
			RateLimitReqs:        100,
			RateLimitWindow:      time.Minute,
			RateLimitDisabled:    false,
			LoginRateLimitReqs:   10,
			LoginRateLimitWindow: time.Minute,
			Casbin: CasbinConfig{
				ModelPath:      "",
				PolicyPath:     "",
				AutoReload:     true,
				ReloadInterval: 30 * time.Second,
				CacheEnabled:   true,
				CacheTTL:       5 * time.Minute,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using koanf v2 with layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first config file found, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables are dropped so arbitrary environment noise cannot
// pollute the configuration.
func envTransformFunc(key string) string {
	envMappings := map[string]string{
		// Server
		"http_host":    "server.host",
		"http_port":    "server.port",
		"http_timeout": "server.timeout",
		"environment":  "server.environment",

		// Database
		"database_url":            "database.url",
		"database_max_open_conns": "database.max_open_conns",

		// Redis
		"redis_addr":     "redis.addr",
		"redis_password": "redis.password",
		"redis_db":       "redis.db",

		// Security
		"jwt_secret":              "security.jwt_secret",
		"access_token_ttl":        "security.access_token_ttl",
		"refresh_token_ttl":       "security.refresh_token_ttl",
		"rate_limit_requests":     "security.rate_limit_reqs",
		"rate_limit_window":       "security.rate_limit_window",
		"disable_rate_limit":      "security.rate_limit_disabled",
		"login_rate_limit_reqs":   "security.login_rate_limit_reqs",
		"login_rate_limit_window": "security.login_rate_limit_window",

		// Casbin
		"casbin_model_path":      "security.casbin.model_path",
		"casbin_policy_path":     "security.casbin.policy_path",
		"casbin_auto_reload":     "security.casbin.auto_reload",
		"casbin_reload_interval": "security.casbin.reload_interval",
		"casbin_cache_enabled":   "security.casbin.cache_enabled",
		"casbin_cache_ttl":       "security.casbin.cache_ttl",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
