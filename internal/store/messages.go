// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// CHAT OPERATIONS
// =============================================================================

// CreateChat inserts a new chat.
func (s *Store) CreateChat(chat *Chat) error {
	now := time.Now()
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = now
	}
	chat.UpdatedAt = now

	_, err := s.db.Exec(
		`INSERT INTO chats (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		chat.ID, chat.Title, chat.CreatedAt.UnixMilli(), chat.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to create chat: %w", err)
	}
	return nil
}

// GetChat retrieves a chat by id.
func (s *Store) GetChat(id string) (*Chat, error) {
	row := s.db.QueryRow(`SELECT id, title, created_at, updated_at FROM chats WHERE id = ?`, id)
	return scanChat(row)
}

// UpdateChatTitle sets a chat's title.
func (s *Store) UpdateChatTitle(id, title string) error {
	res, err := s.db.Exec(
		`UPDATE chats SET title = ?, updated_at = ? WHERE id = ?`,
		title, time.Now().UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update chat title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchChat bumps a chat's updated_at.
func (s *Store) TouchChat(id string) error {
	_, err := s.db.Exec(`UPDATE chats SET updated_at = ? WHERE id = ?`, time.Now().UnixMilli(), id)
	return err
}

// DeleteChat removes a chat and, through cascade, its messages and options.
func (s *Store) DeleteChat(id string) error {
	_, err := s.db.Exec(`DELETE FROM chats WHERE id = ?`, id)
	return err
}

// MostRecentChatWithModel returns the most recently updated chat whose
// options reference a model entry, or ErrNotFound.
func (s *Store) MostRecentChatWithModel() (*Chat, error) {
	row := s.db.QueryRow(`
		SELECT c.id, c.title, c.created_at, c.updated_at
		FROM chats c
		JOIN chat_options o ON o.chat_id = c.id
		WHERE o.model_entry_id IS NOT NULL AND o.model_entry_id != ''
		ORDER BY c.updated_at DESC
		LIMIT 1`)
	return scanChat(row)
}

func scanChat(row *sql.Row) (*Chat, error) {
	var c Chat
	var created, updated int64
	if err := row.Scan(&c.ID, &c.Title, &created, &updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.CreatedAt = time.UnixMilli(created)
	c.UpdatedAt = time.UnixMilli(updated)
	return &c, nil
}

// =============================================================================
// MESSAGE OPERATIONS
// =============================================================================

// CreateMessage inserts a message.
func (s *Store) CreateMessage(m *Message) error {
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	meta, err := marshalMetadata(m.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		`INSERT INTO messages (id, chat_id, role, content, error_text, status, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ChatID, m.Role, m.Content, m.ErrorText, string(m.Status), meta,
		m.CreatedAt.UnixMilli(), m.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// SaveMessage writes back a message's mutable fields.
func (s *Store) SaveMessage(m *Message) error {
	m.UpdatedAt = time.Now()

	meta, err := marshalMetadata(m.Metadata)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(
		`UPDATE messages SET content = ?, error_text = ?, status = ?, metadata = ?, updated_at = ? WHERE id = ?`,
		m.Content, m.ErrorText, string(m.Status), meta, m.UpdatedAt.UnixMilli(), m.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetMessage retrieves a message by id.
func (s *Store) GetMessage(id string) (*Message, error) {
	rows, err := s.db.Query(
		`SELECT id, chat_id, role, content, error_text, status, metadata, created_at, updated_at
		 FROM messages WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}
	return scanMessage(rows)
}

// RecentMessages returns up to limit messages for a chat, newest first.
func (s *Store) RecentMessages(chatID string, limit int) ([]*Message, error) {
	rows, err := s.db.Query(
		`SELECT id, chat_id, role, content, error_text, status, metadata, created_at, updated_at
		 FROM messages WHERE chat_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// DeleteMessage removes one message.
func (s *Store) DeleteMessage(id string) error {
	_, err := s.db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	return err
}

// ClearChatMessages removes every message in a chat.
func (s *Store) ClearChatMessages(chatID string) error {
	_, err := s.db.Exec(`DELETE FROM messages WHERE chat_id = ?`, chatID)
	return err
}

// MessageCount returns the number of messages in a chat.
func (s *Store) MessageCount(chatID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID).Scan(&n)
	return n, err
}

func marshalMetadata(meta *MessageMetadata) (string, error) {
	if meta == nil {
		return "", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message metadata: %w", err)
	}
	return string(data), nil
}

func scanMessage(rows *sql.Rows) (*Message, error) {
	var m Message
	var status, meta string
	var created, updated int64
	if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.ErrorText, &status, &meta, &created, &updated); err != nil {
		return nil, err
	}
	m.Status = MessageStatus(status)
	m.CreatedAt = time.UnixMilli(created)
	m.UpdatedAt = time.UnixMilli(updated)
	if meta != "" {
		m.Metadata = &MessageMetadata{}
		if err := json.Unmarshal([]byte(meta), m.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message metadata: %w", err)
		}
	}
	return &m, nil
}

// =============================================================================
// CHAT OPTIONS
// =============================================================================

// GetChatOption returns the options row for a chat, or defaults when none
// has been saved yet.
func (s *Store) GetChatOption(chatID string) (*ChatOption, error) {
	row := s.db.QueryRow(
		`SELECT chat_id, COALESCE(model_entry_id, ''), COALESCE(prompt_id, ''), history_length,
		        temperature, presence_penalty, frequency_penalty, web_search, web_search_context
		 FROM chat_options WHERE chat_id = ?`, chatID)

	var o ChatOption
	var webSearch int
	err := row.Scan(&o.ChatID, &o.ModelEntryID, &o.PromptID, &o.HistoryLength,
		&o.Temperature, &o.PresencePenalty, &o.FrequencyPenalty, &webSearch, &o.WebSearchContext)
	if err == sql.ErrNoRows {
		return &ChatOption{ChatID: chatID, HistoryLength: 10}, nil
	}
	if err != nil {
		return nil, err
	}
	o.WebSearch = webSearch != 0
	return &o, nil
}

// SaveChatOption upserts a chat's options.
func (s *Store) SaveChatOption(o *ChatOption) error {
	webSearch := 0
	if o.WebSearch {
		webSearch = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO chat_options (chat_id, model_entry_id, prompt_id, history_length,
		                           temperature, presence_penalty, frequency_penalty, web_search, web_search_context)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   model_entry_id = excluded.model_entry_id,
		   prompt_id = excluded.prompt_id,
		   history_length = excluded.history_length,
		   temperature = excluded.temperature,
		   presence_penalty = excluded.presence_penalty,
		   frequency_penalty = excluded.frequency_penalty,
		   web_search = excluded.web_search,
		   web_search_context = excluded.web_search_context`,
		o.ChatID, o.ModelEntryID, o.PromptID, o.HistoryLength,
		o.Temperature, o.PresencePenalty, o.FrequencyPenalty, webSearch, o.WebSearchContext,
	)
	if err != nil {
		return fmt.Errorf("failed to save chat options: %w", err)
	}
	return nil
}
