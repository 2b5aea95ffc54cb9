// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// =============================================================================
// DEFAULTS
// =============================================================================

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Chat.DefaultHistoryLength != 10 {
		t.Errorf("DefaultHistoryLength = %d, want 10", cfg.Chat.DefaultHistoryLength)
	}
	if cfg.Chat.MockWordCount != 30 {
		t.Errorf("MockWordCount = %d, want 30", cfg.Chat.MockWordCount)
	}
	if cfg.Catalog.RefreshIntervalHours != 24 {
		t.Errorf("RefreshIntervalHours = %d, want 24", cfg.Catalog.RefreshIntervalHours)
	}
	if !cfg.Security.EncryptKeys {
		t.Error("EncryptKeys should default to true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

func TestLoadFromPath_MissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Chat.DefaultHistoryLength != 10 {
		t.Errorf("expected defaults, got history length %d", cfg.Chat.DefaultHistoryLength)
	}
}

func TestLoadFromPath_PartialFileFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := "[chat]\ndefault_history_length = 25\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Chat.DefaultHistoryLength != 25 {
		t.Errorf("DefaultHistoryLength = %d, want 25", cfg.Chat.DefaultHistoryLength)
	}
	if cfg.Catalog.RefreshIntervalHours != 24 {
		t.Errorf("unset field not defaulted: RefreshIntervalHours = %d", cfg.Catalog.RefreshIntervalHours)
	}
}

func TestLoadFromPath_InvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("not [valid toml"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFromPath(path); err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestLoadFromPath_FixesPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("version = \"1.0.0\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFromPath(path); err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("permissions = %o, want 0600", info.Mode().Perm())
	}
}

func TestSaveToPath_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.Chat.DefaultHistoryLength = 42
	cfg.Catalog.AggregatorURL = "https://example.com/models"

	if err := SaveToPath(cfg, path); err != nil {
		t.Fatalf("SaveToPath failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("permissions = %o, want 0600", info.Mode().Perm())
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if loaded.Chat.DefaultHistoryLength != 42 {
		t.Errorf("DefaultHistoryLength = %d, want 42", loaded.Chat.DefaultHistoryLength)
	}
	if loaded.Catalog.AggregatorURL != "https://example.com/models" {
		t.Errorf("AggregatorURL = %q", loaded.Catalog.AggregatorURL)
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("POLYCHAT_DB_PATH", "/tmp/override.db")
	t.Setenv("POLYCHAT_REFRESH_HOURS", "6")
	t.Setenv("POLYCHAT_HISTORY_LENGTH", "3")
	t.Setenv("POLYCHAT_ENCRYPT_KEYS", "false")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Storage.DatabasePath != "/tmp/override.db" {
		t.Errorf("DatabasePath = %q", cfg.Storage.DatabasePath)
	}
	if cfg.Catalog.RefreshIntervalHours != 6 {
		t.Errorf("RefreshIntervalHours = %d, want 6", cfg.Catalog.RefreshIntervalHours)
	}
	if cfg.Chat.DefaultHistoryLength != 3 {
		t.Errorf("DefaultHistoryLength = %d, want 3", cfg.Chat.DefaultHistoryLength)
	}
	if cfg.Security.EncryptKeys {
		t.Error("EncryptKeys should be overridden to false")
	}
}

func TestApplyEnvOverrides_IgnoresInvalid(t *testing.T) {
	t.Setenv("POLYCHAT_REFRESH_HOURS", "not-a-number")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Catalog.RefreshIntervalHours != 24 {
		t.Errorf("invalid override should be ignored, got %d", cfg.Catalog.RefreshIntervalHours)
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"bad aggregator scheme", func(c *Config) { c.Catalog.AggregatorURL = "ftp://example.com" }, true},
		{"refresh too small", func(c *Config) { c.Catalog.RefreshIntervalHours = 0 }, true},
		{"refresh too large", func(c *Config) { c.Catalog.RefreshIntervalHours = 1000 }, true},
		{"negative history", func(c *Config) { c.Chat.DefaultHistoryLength = -1 }, true},
		{"zero history ok", func(c *Config) { c.Chat.DefaultHistoryLength = 0 }, false},
		{"word count too large", func(c *Config) { c.Chat.MockWordCount = 99999 }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

// =============================================================================
// WATCHER
// =============================================================================

func TestWatch_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := SaveToPath(Default(), path); err != nil {
		t.Fatal(err)
	}

	changed := make(chan *Config, 1)
	w, err := Watch(path, func(cfg *Config) {
		select {
		case changed <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Close()

	next := Default()
	next.Chat.DefaultHistoryLength = 99
	if err := SaveToPath(next, path); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changed:
		if cfg.Chat.DefaultHistoryLength != 99 {
			t.Errorf("reloaded DefaultHistoryLength = %d, want 99", cfg.Chat.DefaultHistoryLength)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestWatch_KeepsPreviousOnInvalidEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := SaveToPath(Default(), path); err != nil {
		t.Fatal(err)
	}

	changed := make(chan *Config, 1)
	w, err := Watch(path, func(cfg *Config) {
		select {
		case changed <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("not [valid toml"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changed:
		t.Error("onChange should not fire for an invalid config")
	case <-time.After(1 * time.Second):
		// invalid edit skipped, previous config still in effect
	}
}
