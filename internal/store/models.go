// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"time"
)

// =============================================================================
// MESSAGE STATUS
// =============================================================================

// MessageStatus is the lifecycle state of a persisted message.
//
// A user message moves `sending -> sent` once the network request has
// observably started. An assistant message moves strictly forward through
// `thinking -> typing -> received` or `thinking/typing -> error`; it never
// regresses.
type MessageStatus string

const (
	StatusSending  MessageStatus = "sending"
	StatusSent     MessageStatus = "sent"
	StatusThinking MessageStatus = "thinking"
	StatusTyping   MessageStatus = "typing"
	StatusReceived MessageStatus = "received"
	StatusError    MessageStatus = "error"
)

// statusRank orders statuses along their forward-only transitions. Terminal
// states share the top rank so neither can replace the other.
var statusRank = map[MessageStatus]int{
	StatusSending:  0,
	StatusThinking: 0,
	StatusSent:     1,
	StatusTyping:   1,
	StatusReceived: 2,
	StatusError:    2,
}

// CanTransition reports whether moving from s to next respects the
// forward-only invariant.
func (s MessageStatus) CanTransition(next MessageStatus) bool {
	if s == next {
		return true
	}
	return statusRank[next] > statusRank[s]
}

// Terminal reports whether the status is an end state.
func (s MessageStatus) Terminal() bool {
	return s == StatusReceived || s == StatusError || s == StatusSent
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

// ErrorKind is the coarse classification surfaced with a failed message.
type ErrorKind string

const (
	ErrorKindNone    ErrorKind = ""
	ErrorKindAPIKey  ErrorKind = "apiKey"
	ErrorKindUnknown ErrorKind = "unknown"
)

// =============================================================================
// RECORD TYPES
// =============================================================================

// Chat is one conversation.
type Chat struct {
	ID        string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one persisted turn in a conversation. Content is mutated in
// place while streaming text arrives.
type Message struct {
	ID        string
	ChatID    string
	Role      string
	Content   string
	ErrorText string
	Status    MessageStatus
	Metadata  *MessageMetadata
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MessageMetadata is the optional per-message metadata snapshot, stored as a
// JSON blob.
type MessageMetadata struct {
	ProviderName     string     `json:"provider_name,omitempty"`
	ModelID          string     `json:"model_id,omitempty"`
	PromptName       string     `json:"prompt_name,omitempty"`
	RequestedHistory int        `json:"requested_history,omitempty"`
	ActualHistory    int        `json:"actual_history,omitempty"`
	Temperature      *float64   `json:"temperature,omitempty"`
	PresencePenalty  *float64   `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64   `json:"frequency_penalty,omitempty"`
	InputTokens      int        `json:"input_tokens,omitempty"`
	OutputTokens     int        `json:"output_tokens,omitempty"`
	ErrorKind        ErrorKind  `json:"error_kind,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
}

// ChatOption is the per-conversation configuration, read once per send to
// build the streaming config snapshot.
type ChatOption struct {
	ChatID           string
	ModelEntryID     string
	PromptID         string
	HistoryLength    int
	Temperature      *float64
	PresencePenalty  *float64
	FrequencyPenalty *float64
	WebSearch        bool
	WebSearchContext string
}

// Prompt is a reusable prompt template.
type Prompt struct {
	ID        string
	Name      string
	Messages  []PromptMessage
	CreatedAt time.Time
}

// PromptMessage is one ordered message inside a prompt template.
type PromptMessage struct {
	ID       string
	PromptID string
	Position int
	Role     string
	Content  string
}
