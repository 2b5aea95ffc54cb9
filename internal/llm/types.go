// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"errors"
	"fmt"
)

// =============================================================================
// ROLES AND MESSAGES
// =============================================================================

// Role is a chat message role in the unified message projection.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ChatMessage is one outbound message in the unified projection sent to a
// provider. Built fresh per request from prompt messages, history, and the
// new user input, ordered oldest-first.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: content}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: content}
}

// =============================================================================
// STREAM CONFIGURATION
// =============================================================================

// WebSearchContextSize controls how much search context a web-search-capable
// provider retrieves per request.
type WebSearchContextSize string

const (
	WebSearchContextLow    WebSearchContextSize = "low"
	WebSearchContextMedium WebSearchContextSize = "medium"
	WebSearchContextHigh   WebSearchContextSize = "high"
)

// SamplingParams carries optional sampling overrides. Nil fields are "unset"
// and omitted from the upstream request, so providers see their own defaults
// rather than explicit overrides.
type SamplingParams struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
}

// StreamConfig is the immutable configuration for one streaming call.
// Constructed once per send from the chat's persisted options.
type StreamConfig struct {
	APIKey  string
	ModelID string

	// Endpoint overrides the provider's default base URL when non-empty.
	Endpoint string

	// WordCount is only honored by the mock provider.
	WordCount int

	// WebSearch requests provider-side web grounding when supported.
	WebSearch            bool
	WebSearchContextSize WebSearchContextSize

	Sampling SamplingParams
}

// =============================================================================
// STREAM HANDLER CONTRACT
// =============================================================================

// StreamHandler receives the lifecycle events of one streaming call, in
// strict order: OnStart exactly once, zero or more OnDelta, then exactly one
// of OnComplete or OnError. OnError may fire without OnStart when the request
// is rejected before dispatch (missing API key or model id).
//
// Handlers are invoked sequentially from a single goroutine per call; the
// network read and chunk parsing happen elsewhere.
type StreamHandler struct {
	// OnStart fires once after the request has been dispatched, before any
	// delta arrives.
	OnStart func()

	// OnDelta fires for each incremental text fragment. accumulated is the
	// full text received so far, delta included.
	OnDelta func(delta, accumulated string)

	// OnComplete fires once with the final complete text.
	OnComplete func(final string)

	// OnError fires once with the terminal error.
	OnError func(err error)
}

func (h StreamHandler) start() {
	if h.OnStart != nil {
		h.OnStart()
	}
}

func (h StreamHandler) delta(delta, accumulated string) {
	if h.OnDelta != nil {
		h.OnDelta(delta, accumulated)
	}
}

func (h StreamHandler) complete(final string) {
	if h.OnComplete != nil {
		h.OnComplete(final)
	}
}

func (h StreamHandler) fail(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrMissingAPIKey indicates the streaming config has no API key.
	// Raised before any network call; never retried.
	ErrMissingAPIKey = errors.New("API key not configured")

	// ErrMissingModelID indicates the streaming config has no model id.
	ErrMissingModelID = errors.New("model not configured")

	// ErrEmptyStream indicates the upstream stream ended before producing
	// any text or a terminal event.
	ErrEmptyStream = errors.New("stream ended without content")
)

// UpstreamError is a non-2xx HTTP response from a provider. The status code
// and raw body are retained for diagnostics.
type UpstreamError struct {
	Provider string
	Status   int
	Body     string
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s request failed (HTTP %d): %s", e.Provider, e.Status, e.Body)
}

// StreamError is a transport or decoding failure during streaming. Any
// partial content received before the failure is preserved so the caller can
// surface it rather than dropping text.
type StreamError struct {
	Partial string
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}
