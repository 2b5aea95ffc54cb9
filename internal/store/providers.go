// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/morganforge/polychat/internal/provider"
)

// =============================================================================
// PROVIDER PROFILES
// =============================================================================

// SaveProvider upserts a provider profile.
func (s *Store) SaveProvider(p *provider.Profile) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	enabled := 0
	if p.Enabled {
		enabled = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO providers (id, type, alias, api_key, endpoint, enabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   type = excluded.type,
		   alias = excluded.alias,
		   api_key = excluded.api_key,
		   endpoint = excluded.endpoint,
		   enabled = excluded.enabled`,
		p.ID, string(p.Type), p.Alias, p.APIKey, p.Endpoint, enabled, p.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save provider: %w", err)
	}
	return nil
}

// GetProvider retrieves a provider profile by id.
func (s *Store) GetProvider(id string) (*provider.Profile, error) {
	row := s.db.QueryRow(
		`SELECT id, type, alias, api_key, endpoint, enabled, created_at FROM providers WHERE id = ?`, id)
	return scanProvider(row)
}

// EnabledProviders returns all enabled provider profiles, oldest first.
func (s *Store) EnabledProviders() ([]*provider.Profile, error) {
	rows, err := s.db.Query(
		`SELECT id, type, alias, api_key, endpoint, enabled, created_at
		 FROM providers WHERE enabled = 1 ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*provider.Profile
	for rows.Next() {
		p, err := scanProviderRows(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// DeleteProvider removes a provider and, through cascade, its model entries.
func (s *Store) DeleteProvider(id string) error {
	_, err := s.db.Exec(`DELETE FROM providers WHERE id = ?`, id)
	return err
}

func scanProvider(row *sql.Row) (*provider.Profile, error) {
	var p provider.Profile
	var typ string
	var enabled int
	var created int64
	if err := row.Scan(&p.ID, &typ, &p.Alias, &p.APIKey, &p.Endpoint, &enabled, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.Type = provider.Type(typ)
	p.Enabled = enabled != 0
	p.CreatedAt = time.UnixMilli(created)
	return &p, nil
}

func scanProviderRows(rows *sql.Rows) (*provider.Profile, error) {
	var p provider.Profile
	var typ string
	var enabled int
	var created int64
	if err := rows.Scan(&p.ID, &typ, &p.Alias, &p.APIKey, &p.Endpoint, &enabled, &created); err != nil {
		return nil, err
	}
	p.Type = provider.Type(typ)
	p.Enabled = enabled != 0
	p.CreatedAt = time.UnixMilli(created)
	return &p, nil
}

// =============================================================================
// MODEL CATALOG ENTRIES
// =============================================================================

// EntriesForProvider returns all model entries under a provider, oldest
// first.
func (s *Store) EntriesForProvider(providerID string) ([]*provider.CatalogEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, provider_id, model_id, name, input_limit, output_limit, favorited, is_custom, created_at
		 FROM model_entries WHERE provider_id = ? ORDER BY created_at ASC, id ASC`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// AllModelEntries returns every model entry in the store.
func (s *Store) AllModelEntries() ([]*provider.CatalogEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, provider_id, model_id, name, input_limit, output_limit, favorited, is_custom, created_at
		 FROM model_entries ORDER BY provider_id, created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// GetModelEntry retrieves one model entry by id.
func (s *Store) GetModelEntry(id string) (*provider.CatalogEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, provider_id, model_id, name, input_limit, output_limit, favorited, is_custom, created_at
		 FROM model_entries WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries, err := collectEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return entries[0], nil
}

// InsertModelEntry adds a single model entry (used for user-created custom
// entries; sync uses ApplyCatalogChanges).
func (s *Store) InsertModelEntry(e *provider.CatalogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	return insertEntry(s.db, e)
}

// SetModelFavorited toggles an entry's favorited flag.
func (s *Store) SetModelFavorited(id string, favorited bool) error {
	fav := 0
	if favorited {
		fav = 1
	}
	res, err := s.db.Exec(`UPDATE model_entries SET favorited = ? WHERE id = ?`, fav, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CatalogChanges is the classified outcome of one catalog reconciliation,
// applied atomically.
type CatalogChanges struct {
	Inserts []*provider.CatalogEntry
	Updates []*provider.CatalogEntry
	Deletes []string // entry ids
}

// Empty reports whether the change set contains no work.
func (c *CatalogChanges) Empty() bool {
	return len(c.Inserts) == 0 && len(c.Updates) == 0 && len(c.Deletes) == 0
}

// ApplyCatalogChanges applies a reconciliation change set inside one
// transaction. A failure rolls everything back, leaving the previous catalog
// intact.
func (s *Store) ApplyCatalogChanges(changes *CatalogChanges) error {
	if changes.Empty() {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin catalog transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range changes.Deletes {
		if _, err := tx.Exec(`DELETE FROM model_entries WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete model entry: %w", err)
		}
	}
	for _, e := range changes.Updates {
		if _, err := tx.Exec(
			`UPDATE model_entries SET name = ?, input_limit = ?, output_limit = ? WHERE id = ?`,
			e.Name, e.InputTokenLimit, e.OutputTokenLimit, e.ID,
		); err != nil {
			return fmt.Errorf("failed to update model entry: %w", err)
		}
	}
	for _, e := range changes.Inserts {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now()
		}
		if err := insertEntry(tx, e); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit catalog changes: %w", err)
	}
	return nil
}

// execer lets insertEntry run on both *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertEntry(db execer, e *provider.CatalogEntry) error {
	fav, custom := 0, 0
	if e.Favorited {
		fav = 1
	}
	if e.IsCustom {
		custom = 1
	}
	_, err := db.Exec(
		`INSERT INTO model_entries (id, provider_id, model_id, name, input_limit, output_limit, favorited, is_custom, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ProviderID, e.ModelID, e.Name, e.InputTokenLimit, e.OutputTokenLimit, fav, custom, e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert model entry: %w", err)
	}
	return nil
}

func collectEntries(rows *sql.Rows) ([]*provider.CatalogEntry, error) {
	var entries []*provider.CatalogEntry
	for rows.Next() {
		var e provider.CatalogEntry
		var fav, custom int
		var created int64
		if err := rows.Scan(&e.ID, &e.ProviderID, &e.ModelID, &e.Name,
			&e.InputTokenLimit, &e.OutputTokenLimit, &fav, &custom, &created); err != nil {
			return nil, err
		}
		e.Favorited = fav != 0
		e.IsCustom = custom != 0
		e.CreatedAt = time.UnixMilli(created)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
