// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for
// the polychat core.
//
// Configuration is TOML, with sensible defaults, environment variable
// overrides, validation, and hot reload via a filesystem watcher.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - ChatConfig: Chat orchestration settings
//   - CatalogConfig: Model catalog sync settings
//   - Watcher: Reloads the config when the file changes on disk
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (POLYCHAT_*)
//   - ~/.polychat/config.toml (or $POLYCHAT_CONFIG)
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Watch for changes:
//
//	w, err := config.Watch(path, func(next *config.Config) {
//	    // apply next
//	})
//	defer w.Close()
package config
