// Copyright (c) 2025-2026 Asepal / SinoSEA
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for the SinoSEA client.
//
// Configuration is read from a TOML file with environment variable
// overrides, in order of precedence:
//   - SINOSEA_* environment variables
//   - ~/.sinosea/config.toml (or the path passed to Load)
//   - Built-in defaults
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete client configuration.
type Config struct {
	// Backend is the chat backend connection configuration.
	Backend BackendConfig `toml:"backend"`

	// UI holds presentation settings.
	UI UIConfig `toml:"ui"`

	// Stream holds watchdog timeouts and flush cadence for streaming.
	Stream StreamConfig `toml:"stream"`

	// History holds pagination settings.
	History HistoryConfig `toml:"history"`

	// Cache holds local transcript cache settings.
	Cache CacheConfig `toml:"cache"`
}

// BackendConfig contains backend connection settings.
type BackendConfig struct {
	// BaseURL is the chat API base URL, e.g. "https://api.sinosea.app/v1"
	BaseURL string `toml:"base_url"`
}

// UIConfig contains presentation settings.
type UIConfig struct {
	// Language selects the user-facing string table: "en" or "zh"
	Language string `toml:"language"`
}

// StreamConfig contains streaming watchdog configuration.
// All durations are in the unit named by the field.
type StreamConfig struct {
	// FirstByteTimeoutSecs aborts a send if no byte arrives in time (default 15)
	FirstByteTimeoutSecs int `toml:"first_byte_timeout_secs"`
	// IdleTimeoutSecs aborts a send when the stream stalls mid-reply (default 30)
	IdleTimeoutSecs int `toml:"idle_timeout_secs"`
	// TotalTimeoutSecs is the unconditional upper bound on one send (default 120)
	TotalTimeoutSecs int `toml:"total_timeout_secs"`
	// FlushIntervalMs is the delta coalescing flush cadence (default 50)
	FlushIntervalMs int `toml:"flush_interval_ms"`
}

// HistoryConfig contains history pagination settings.
type HistoryConfig struct {
	// PageSize is the number of messages fetched per history page (default 20)
	PageSize int `toml:"page_size"`
}

// CacheConfig contains local transcript cache settings.
type CacheConfig struct {
	// Enabled toggles the local sqlite transcript cache (default true)
	Enabled bool `toml:"enabled"`
	// Path is the sqlite database path (empty = ~/.sinosea/transcripts.db)
	Path string `toml:"path"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in default configuration.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL: "https://api.sinosea.app/v1",
		},
		UI: UIConfig{
			Language: "en",
		},
		Stream: StreamConfig{
			FirstByteTimeoutSecs: 15,
			IdleTimeoutSecs:      30,
			TotalTimeoutSecs:     120,
			FlushIntervalMs:      50,
		},
		History: HistoryConfig{
			PageSize: 20,
		},
		Cache: CacheConfig{
			Enabled: true,
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".sinosea", "config.toml"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads configuration from path, falling back to defaults when the file
// does not exist, then applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies SINOSEA_* environment variables on top of the
// loaded configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SINOSEA_BASE_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("SINOSEA_LANG"); v != "" {
		cfg.UI.Language = v
	}
	if v := os.Getenv("SINOSEA_CACHE_PATH"); v != "" {
		cfg.Cache.Path = v
	}
	if v := os.Getenv("SINOSEA_HISTORY_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.History.PageSize = n
		}
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid backend.base_url %q", c.Backend.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend.base_url must be http or https, got %q", u.Scheme)
	}

	switch c.UI.Language {
	case "en", "zh":
	default:
		return fmt.Errorf("ui.language must be \"en\" or \"zh\", got %q", c.UI.Language)
	}

	if c.Stream.FirstByteTimeoutSecs <= 0 ||
		c.Stream.IdleTimeoutSecs <= 0 ||
		c.Stream.TotalTimeoutSecs <= 0 {
		return errors.New("stream timeouts must be positive")
	}
	if c.Stream.FlushIntervalMs <= 0 {
		return errors.New("stream.flush_interval_ms must be positive")
	}
	if c.History.PageSize <= 0 || c.History.PageSize > 100 {
		return fmt.Errorf("history.page_size must be in 1..100, got %d", c.History.PageSize)
	}
	return nil
}

// =============================================================================
// DURATION ACCESSORS
// =============================================================================

// FirstByteTimeout returns the first-byte watchdog duration.
func (c *Config) FirstByteTimeout() time.Duration {
	return time.Duration(c.Stream.FirstByteTimeoutSecs) * time.Second
}

// IdleTimeout returns the idle watchdog duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Stream.IdleTimeoutSecs) * time.Second
}

// TotalTimeout returns the total watchdog duration.
func (c *Config) TotalTimeout() time.Duration {
	return time.Duration(c.Stream.TotalTimeoutSecs) * time.Second
}

// FlushInterval returns the aggregator flush cadence.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Stream.FlushIntervalMs) * time.Millisecond
}

// CachePath resolves the transcript cache path, defaulting under ~/.sinosea.
func (c *Config) CachePath() (string, error) {
	if c.Cache.Path != "" {
		return c.Cache.Path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".sinosea", "transcripts.db"), nil
}
