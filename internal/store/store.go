// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides the persistence layer for chats, messages, provider
// profiles, model catalog entries, and prompt templates.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrNotFound = errors.New("record not found")
)

// =============================================================================
// STORE
// =============================================================================

// Store wraps the SQLite database. All mutation is expected to run on the
// application's dispatcher goroutine; the store itself adds no locking beyond
// what database/sql provides.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for an ephemeral store in tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY under
	// concurrent readers in tests.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[Store] database ready: %s", path)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies the schema. Idempotent.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chats (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chat_options (
		chat_id            TEXT PRIMARY KEY REFERENCES chats(id) ON DELETE CASCADE,
		model_entry_id     TEXT,
		prompt_id          TEXT,
		history_length     INTEGER NOT NULL DEFAULT 10,
		temperature        REAL,
		presence_penalty   REAL,
		frequency_penalty  REAL,
		web_search         INTEGER NOT NULL DEFAULT 0,
		web_search_context TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS messages (
		id         TEXT PRIMARY KEY,
		chat_id    TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL DEFAULT '',
		error_text TEXT NOT NULL DEFAULT '',
		status     TEXT NOT NULL,
		metadata   TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at);

	CREATE TABLE IF NOT EXISTS providers (
		id         TEXT PRIMARY KEY,
		type       TEXT NOT NULL,
		alias      TEXT NOT NULL DEFAULT '',
		api_key    TEXT NOT NULL DEFAULT '',
		endpoint   TEXT NOT NULL DEFAULT '',
		enabled    INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS model_entries (
		id           TEXT PRIMARY KEY,
		provider_id  TEXT NOT NULL REFERENCES providers(id) ON DELETE CASCADE,
		model_id     TEXT NOT NULL,
		name         TEXT NOT NULL DEFAULT '',
		input_limit  INTEGER NOT NULL DEFAULT 0,
		output_limit INTEGER NOT NULL DEFAULT 0,
		favorited    INTEGER NOT NULL DEFAULT 0,
		is_custom    INTEGER NOT NULL DEFAULT 0,
		created_at   INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_model_entries_provider ON model_entries(provider_id, model_id);

	CREATE TABLE IF NOT EXISTS prompts (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS prompt_messages (
		id        TEXT PRIMARY KEY,
		prompt_id TEXT NOT NULL REFERENCES prompts(id) ON DELETE CASCADE,
		position  INTEGER NOT NULL,
		role      TEXT NOT NULL,
		content   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_prompt_messages ON prompt_messages(prompt_id, position);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return nil
}
