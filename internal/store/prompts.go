// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SavePrompt upserts a prompt template and its ordered messages.
func (s *Store) SavePrompt(p *Prompt) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin prompt transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO prompts (id, name, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		p.ID, p.Name, p.CreatedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("failed to save prompt: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM prompt_messages WHERE prompt_id = ?`, p.ID); err != nil {
		return fmt.Errorf("failed to clear prompt messages: %w", err)
	}
	for i, m := range p.Messages {
		if _, err := tx.Exec(
			`INSERT INTO prompt_messages (id, prompt_id, position, role, content) VALUES (?, ?, ?, ?, ?)`,
			m.ID, p.ID, i, m.Role, m.Content,
		); err != nil {
			return fmt.Errorf("failed to save prompt message: %w", err)
		}
	}

	return tx.Commit()
}

// GetPrompt retrieves a prompt with its messages in order.
func (s *Store) GetPrompt(id string) (*Prompt, error) {
	row := s.db.QueryRow(`SELECT id, name, created_at FROM prompts WHERE id = ?`, id)

	var p Prompt
	var created int64
	if err := row.Scan(&p.ID, &p.Name, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.CreatedAt = time.UnixMilli(created)

	rows, err := s.db.Query(
		`SELECT id, prompt_id, position, role, content FROM prompt_messages
		 WHERE prompt_id = ? ORDER BY position ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m PromptMessage
		if err := rows.Scan(&m.ID, &m.PromptID, &m.Position, &m.Role, &m.Content); err != nil {
			return nil, err
		}
		p.Messages = append(p.Messages, m)
	}
	return &p, rows.Err()
}

// DeletePrompt removes a prompt and its messages.
func (s *Store) DeletePrompt(id string) error {
	_, err := s.db.Exec(`DELETE FROM prompts WHERE id = ?`, id)
	return err
}
