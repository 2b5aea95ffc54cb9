// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider defines the provider and model catalog value types shared
// across the streaming clients, the catalog sync engine, and the store.
package provider

import (
	"fmt"
	"time"
)

// =============================================================================
// PROVIDER TYPE
// =============================================================================

// Type identifies one kind of AI backend. The streaming client factory and
// the catalog fetchers are keyed by this enum.
type Type string

const (
	// TypeOpenAI is the OpenAI Responses API (and compatible endpoints).
	TypeOpenAI Type = "openai"

	// TypeGemini is the Google Gemini generateContent API.
	TypeGemini Type = "gemini"

	// TypeOpenRouter is the OpenRouter chat-completions aggregator API.
	TypeOpenRouter Type = "openrouter"

	// TypeMock is the offline mock backend used for demos and tests.
	TypeMock Type = "mock"
)

// AllTypes lists every supported provider type, in display order.
var AllTypes = []Type{TypeOpenAI, TypeGemini, TypeOpenRouter, TypeMock}

// Valid reports whether t is a known provider type.
func (t Type) Valid() bool {
	switch t {
	case TypeOpenAI, TypeGemini, TypeOpenRouter, TypeMock:
		return true
	}
	return false
}

// DisplayName returns the human-readable provider name.
func (t Type) DisplayName() string {
	switch t {
	case TypeOpenAI:
		return "OpenAI"
	case TypeGemini:
		return "Gemini"
	case TypeOpenRouter:
		return "OpenRouter"
	case TypeMock:
		return "Mock"
	default:
		return string(t)
	}
}

// AggregatorPrefix returns the id prefix this provider's models carry in the
// shared aggregator catalog, or "" if the provider has no mapping there.
// Used for fallback sourcing when a provider's own model listing is empty.
func (t Type) AggregatorPrefix() string {
	switch t {
	case TypeOpenAI:
		return "openai/"
	case TypeGemini:
		return "google/"
	default:
		return ""
	}
}

// =============================================================================
// PROVIDER PROFILE
// =============================================================================

// Profile describes one configured AI backend: its type, credentials,
// optional endpoint override, and whether the user has it enabled.
type Profile struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Alias     string    `json:"alias,omitempty"` // display name override
	APIKey    string    `json:"api_key"`         // stored encrypted at rest
	Endpoint  string    `json:"endpoint,omitempty"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// DisplayName returns the alias if set, otherwise the provider type name.
func (p *Profile) DisplayName() string {
	if p.Alias != "" {
		return p.Alias
	}
	return p.Type.DisplayName()
}

// =============================================================================
// MODEL CATALOG
// =============================================================================

// CatalogEntry is one selectable model under a provider. Identity is the
// (ProviderID, ModelID) pair. Entries with IsCustom set are user-owned and
// never touched by catalog synchronization.
type CatalogEntry struct {
	ID               string    `json:"id"`
	ProviderID       string    `json:"provider_id"`
	ModelID          string    `json:"model_id"`
	Name             string    `json:"name,omitempty"`
	InputTokenLimit  int       `json:"input_token_limit,omitempty"`
	OutputTokenLimit int       `json:"output_token_limit,omitempty"`
	Favorited        bool      `json:"favorited"`
	IsCustom         bool      `json:"is_custom"`
	CreatedAt        time.Time `json:"created_at"`
}

// DisplayName returns the model name, falling back to the raw model id.
func (e *CatalogEntry) DisplayName() string {
	if e.Name != "" {
		return e.Name
	}
	return e.ModelID
}

// ModelInfo is the normalized projection of one remotely listed model,
// as returned by every catalog fetcher regardless of provider wire shape.
type ModelInfo struct {
	ID               string `json:"id"`
	Name             string `json:"name,omitempty"`
	InputTokenLimit  int    `json:"input_token_limit,omitempty"`
	OutputTokenLimit int    `json:"output_token_limit,omitempty"`
}

func (m ModelInfo) String() string {
	if m.Name != "" {
		return fmt.Sprintf("%s (%s)", m.Name, m.ID)
	}
	return m.ID
}
