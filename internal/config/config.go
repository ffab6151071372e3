// Pinsync - PinMap Interaction Sync Engine
// Copyright 2026 PinMap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pinmapapp/pinsync

// Package config loads the engine configuration from layered sources with
// clear precedence: environment variables over an optional YAML file over
// built-in defaults.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the full engine configuration.
type Config struct {
	Backend  BackendConfig  `koanf:"backend"`
	Realtime RealtimeConfig `koanf:"realtime"`
	Session  SessionConfig  `koanf:"session"`
	Cache    CacheConfig    `koanf:"cache"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// BackendConfig points at the PinMap REST API.
type BackendConfig struct {
	URL            string        `koanf:"url" validate:"required,url"`
	Timeout        time.Duration `koanf:"timeout" validate:"min=1s"`
	RateLimit      float64       `koanf:"rate_limit" validate:"gt=0"`
	RateLimitBurst int           `koanf:"rate_limit_burst" validate:"gt=0"`
	BreakerEnabled bool          `koanf:"breaker_enabled"`
}

// RealtimeConfig points at the push channel endpoint. Disabling it degrades
// every view to snapshot-only behavior without live updates.
type RealtimeConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url" validate:"omitempty,url"`
}

// SessionConfig optionally pins the daemon to one user session. With a
// token set, the realtime channel is established at startup and kept alive
// under supervision instead of being dialed lazily on the first bind.
type SessionConfig struct {
	Token string `koanf:"token"`
}

// CacheConfig controls the persistent interaction cache.
type CacheConfig struct {
	Path          string        `koanf:"path" validate:"required"`
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"min=1m"`
}

// ServerConfig controls the local binding API.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout       time.Duration `koanf:"read_timeout" validate:"min=1s"`
	WriteTimeout      time.Duration `koanf:"write_timeout" validate:"min=1s"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout" validate:"min=1s"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"gt=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window" validate:"min=1s"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns the built-in defaults, applied before the config
// file and environment overrides.
func defaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			URL:            "",
			Timeout:        15 * time.Second,
			RateLimit:      20,
			RateLimitBurst: 40,
			BreakerEnabled: true,
		},
		// Realtime is opt-in: it needs its own endpoint, and without one the
		// engine degrades cleanly to snapshot-only views.
		Realtime: RealtimeConfig{
			Enabled: false,
			URL:     "",
		},
		Session: SessionConfig{
			Token: "",
		},
		Cache: CacheConfig{
			Path:          "/data/pinsync/cache",
			SweepInterval: time.Hour,
		},
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8380,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			CORSOrigins:       []string{"*"},
			RateLimitRequests: 120,
			RateLimitWindow:   time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks cross-field constraints beyond what unmarshaling catches.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("invalid configuration: field %s fails %q", first.Namespace(), first.Tag())
		}
		return fmt.Errorf("configuration validation: %w", err)
	}

	if c.Realtime.Enabled && c.Realtime.URL == "" {
		return fmt.Errorf("invalid configuration: realtime.url is required when realtime.enabled is true")
	}
	return nil
}
