// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for modelarena.
//
// Precedence, lowest to highest:
//   - Built-in defaults
//   - ~/.modelarena/config.toml
//   - Environment variables (MODELARENA_*, FIREWORKS_API_KEY)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v9"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete modelarena configuration.
type Config struct {
	// BaseURL is the comparison backend endpoint.
	BaseURL string `toml:"base_url" env:"MODELARENA_BASE_URL"`

	// APIKey authenticates against the backend. Usually set via environment,
	// not the config file.
	APIKey string `toml:"api_key" env:"FIREWORKS_API_KEY"`

	Session SessionConfig `toml:"session"`
	Chat    ChatConfig    `toml:"chat"`
}

// SessionConfig controls session reset behavior and expiry.
type SessionConfig struct {
	// ResetOnModelChange controls whether switching models resets the
	// session. Disabling it mixes turns from different models under one
	// session; kept as an escape hatch for debugging.
	ResetOnModelChange bool `toml:"reset_on_model_change" env:"MODELARENA_RESET_ON_MODEL_CHANGE"`

	// AutoReset resets the existing session in place instead of allocating
	// a new one.
	AutoReset bool `toml:"auto_reset" env:"MODELARENA_AUTO_RESET"`

	// TimeoutMins expires sessions idle longer than this many minutes.
	TimeoutMins int `toml:"timeout_mins" env:"MODELARENA_SESSION_TIMEOUT_MINS"`

	// CleanupIntervalMins is how often expired sessions are swept.
	CleanupIntervalMins int `toml:"cleanup_interval_mins" env:"MODELARENA_CLEANUP_INTERVAL_MINS"`
}

// ChatConfig controls conversation behavior.
type ChatConfig struct {
	// ThinkingCharsPerSec calibrates the reasoning-time estimate used when
	// wall-clock timing is unavailable.
	ThinkingCharsPerSec float64 `toml:"thinking_chars_per_sec" env:"MODELARENA_THINKING_CPS"`

	// MetricsThrottleMs is the minimum spacing of live metrics updates in
	// milliseconds.
	MetricsThrottleMs int `toml:"metrics_throttle_ms" env:"MODELARENA_METRICS_THROTTLE_MS"`

	// SpeedTestConcurrency is the load-test request concurrency per model.
	SpeedTestConcurrency int `toml:"speed_test_concurrency" env:"MODELARENA_SPEEDTEST_CONCURRENCY"`

	// MaxHistory is how many recent turns are sent to the backend.
	MaxHistory int `toml:"max_history" env:"MODELARENA_MAX_HISTORY"`
}

// =============================================================================
// LOADING
// =============================================================================

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		BaseURL: "http://localhost:8000",
		Session: SessionConfig{
			ResetOnModelChange:  true,
			AutoReset:           true,
			TimeoutMins:         30,
			CleanupIntervalMins: 5,
		},
		Chat: ChatConfig{
			ThinkingCharsPerSec:  150,
			MetricsThrottleMs:    50,
			SpeedTestConcurrency: 4,
			MaxHistory:           20,
		},
	}
}

// ConfigPath returns the config file location.
func ConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".modelarena", "config.toml")
}

// Load builds the effective configuration: defaults, then the config file
// when present, then environment overrides.
func Load() (*Config, error) {
	cfg := Default()

	if path := ConfigPath(); path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values that would misbehave at runtime.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url must not be empty")
	}
	if c.Session.TimeoutMins <= 0 {
		return fmt.Errorf("session.timeout_mins must be positive, got %d", c.Session.TimeoutMins)
	}
	if c.Session.CleanupIntervalMins <= 0 {
		return fmt.Errorf("session.cleanup_interval_mins must be positive, got %d", c.Session.CleanupIntervalMins)
	}
	if c.Chat.ThinkingCharsPerSec <= 0 {
		return fmt.Errorf("chat.thinking_chars_per_sec must be positive, got %v", c.Chat.ThinkingCharsPerSec)
	}
	if c.Chat.MetricsThrottleMs < 0 {
		return fmt.Errorf("chat.metrics_throttle_ms must not be negative, got %d", c.Chat.MetricsThrottleMs)
	}
	if c.Chat.MaxHistory <= 0 {
		return fmt.Errorf("chat.max_history must be positive, got %d", c.Chat.MaxHistory)
	}
	return nil
}

// SessionTimeout returns the session inactivity timeout as a duration.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.Session.TimeoutMins) * time.Minute
}

// CleanupInterval returns the session sweep interval as a duration.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Session.CleanupIntervalMins) * time.Minute
}

// MetricsThrottle returns the live-metrics throttle as a duration.
func (c *Config) MetricsThrottle() time.Duration {
	return time.Duration(c.Chat.MetricsThrottleMs) * time.Millisecond
}
