// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for
// the polychat core.
//
// Configuration is TOML, with sensible defaults, environment variable
// overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - $POLYCHAT_CONFIG (explicit path)
//   - ~/.polychat/config.toml
//   - Built-in defaults
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/morganforge/polychat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete polychat configuration.
type Config struct {
	Version string `toml:"version"`

	// Chat orchestration settings
	Chat ChatConfig `toml:"chat"`

	// Model catalog settings
	Catalog CatalogConfig `toml:"catalog"`

	// Storage settings
	Storage StorageConfig `toml:"storage"`

	// Security settings
	Security SecurityConfig `toml:"security"`
}

// ChatConfig contains chat orchestration configuration.
type ChatConfig struct {
	// DefaultHistoryLength is the number of prior messages sent as context
	// when a chat has no per-chat override.
	DefaultHistoryLength int `toml:"default_history_length"`
	// MockWordCount is the number of words the mock provider streams.
	MockWordCount int `toml:"mock_word_count"`
	// AutoTitle generates a chat title after the first exchange.
	AutoTitle bool `toml:"auto_title"`
}

// CatalogConfig contains model catalog sync configuration.
type CatalogConfig struct {
	// AggregatorURL is the model listing endpoint used as a fallback when a
	// provider's own catalog comes back empty.
	AggregatorURL string `toml:"aggregator_url"`
	// RefreshIntervalHours is the background catalog refresh period.
	RefreshIntervalHours int `toml:"refresh_interval_hours"`
}

// StorageConfig contains persistence configuration.
type StorageConfig struct {
	// DatabasePath is the sqlite database file (empty = ~/.polychat/polychat.db).
	DatabasePath string `toml:"database_path"`
}

// SecurityConfig contains security-related configuration.
type SecurityConfig struct {
	// EncryptKeys stores provider API keys encrypted at rest.
	EncryptKeys bool `toml:"encrypt_keys"`
	// SaltPath is the per-install key derivation salt file
	// (empty = ~/.polychat/salt).
	SaltPath string `toml:"salt_path"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Chat: ChatConfig{
			DefaultHistoryLength: 10,
			MockWordCount:        30,
			AutoTitle:            true,
		},

		Catalog: CatalogConfig{
			AggregatorURL:        "https://openrouter.ai/api/v1/models",
			RefreshIntervalHours: 24,
		},

		Storage: StorageConfig{
			DatabasePath: "",
		},

		Security: SecurityConfig{
			EncryptKeys: true,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the polychat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".polychat"), nil
}

// ConfigPath returns the path to the TOML config file, honoring the
// POLYCHAT_CONFIG environment variable.
func ConfigPath() (string, error) {
	if p := os.Getenv("POLYCHAT_CONFIG"); p != "" {
		return p, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DatabasePath resolves the sqlite database path, applying the default
// location when unconfigured.
func (c *Config) DatabasePath() (string, error) {
	if c.Storage.DatabasePath != "" {
		return c.Storage.DatabasePath, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "polychat.db"), nil
}

// SaltPath resolves the key derivation salt path.
func (c *Config) SaltPath() (string, error) {
	if c.Security.SaltPath != "" {
		return c.Security.SaltPath, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "salt"), nil
}

// ensureSecurePermissions checks and fixes permissions on the config file.
// SECURITY: Config files should be 0600 (owner read/write only).
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm() != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions: %w", err)
		}
	}
	return nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load loads configuration from the config file, falling back to defaults
// when none exists. Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific file path with full
// validation. A missing file is not an error; defaults are used.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if permErr := ensureSecurePermissions(path); permErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, permErr)
		}
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveToPath(cfg, path)
}

// SaveToPath writes the configuration to a TOML file.
// RELIABILITY: Atomic write with fsync prevents data loss on crash.
// SECURITY: Config files are written 0600 (owner read/write only).
func SaveToPath(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# polychat configuration file\n")
	buf.WriteString("# Generated by polychat - edit with care\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies POLYCHAT_* environment variables on top of the
// loaded configuration.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("POLYCHAT_DB_PATH"); v != "" {
		c.Storage.DatabasePath = v
	}
	if v := os.Getenv("POLYCHAT_AGGREGATOR_URL"); v != "" {
		c.Catalog.AggregatorURL = v
	}
	if v := os.Getenv("POLYCHAT_REFRESH_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Catalog.RefreshIntervalHours = n
		}
	}
	if v := os.Getenv("POLYCHAT_HISTORY_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Chat.DefaultHistoryLength = n
		}
	}
	if v := os.Getenv("POLYCHAT_ENCRYPT_KEYS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Security.EncryptKeys = b
		}
	}
}

// SetDefaults fills in any missing values with defaults.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}
	if c.Chat.DefaultHistoryLength <= 0 {
		c.Chat.DefaultHistoryLength = defaults.Chat.DefaultHistoryLength
	}
	if c.Chat.MockWordCount <= 0 {
		c.Chat.MockWordCount = defaults.Chat.MockWordCount
	}
	if c.Catalog.AggregatorURL == "" {
		c.Catalog.AggregatorURL = defaults.Catalog.AggregatorURL
	}
	if c.Catalog.RefreshIntervalHours <= 0 {
		c.Catalog.RefreshIntervalHours = defaults.Catalog.RefreshIntervalHours
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Catalog.AggregatorURL != "" {
		u, err := url.Parse(c.Catalog.AggregatorURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, ValidationError{
				Field:   "catalog.aggregator_url",
				Message: fmt.Sprintf("invalid URL %q, must be http or https", c.Catalog.AggregatorURL),
			})
		}
	}
	if c.Catalog.RefreshIntervalHours < 1 || c.Catalog.RefreshIntervalHours > 24*7 {
		errs = append(errs, ValidationError{
			Field:   "catalog.refresh_interval_hours",
			Message: fmt.Sprintf("must be between 1 and %d, got %d", 24*7, c.Catalog.RefreshIntervalHours),
		})
	}
	if c.Chat.DefaultHistoryLength < 0 || c.Chat.DefaultHistoryLength > 500 {
		errs = append(errs, ValidationError{
			Field:   "chat.default_history_length",
			Message: fmt.Sprintf("must be between 0 and 500, got %d", c.Chat.DefaultHistoryLength),
		})
	}
	if c.Chat.MockWordCount < 1 || c.Chat.MockWordCount > 10000 {
		errs = append(errs, ValidationError{
			Field:   "chat.mock_word_count",
			Message: fmt.Sprintf("must be between 1 and 10000, got %d", c.Chat.MockWordCount),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
