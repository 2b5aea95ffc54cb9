// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package catalog provides model catalog fetching and reconciliation.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/morganforge/polychat/internal/provider"
)

// maxListResponseSize caps model listing responses.
// SECURITY: Response size limit prevents memory exhaustion.
const maxListResponseSize = 10 * 1024 * 1024

// listTimeout bounds one catalog listing request.
const listTimeout = 30 * time.Second

// Fetcher performs a one-shot network call listing the models available from
// one provider, normalized to ModelInfo.
type Fetcher interface {
	FetchModels(ctx context.Context, profile *provider.Profile) ([]provider.ModelInfo, error)
}

// FetcherFor returns the fetcher for a provider type.
func FetcherFor(t provider.Type) (Fetcher, error) {
	switch t {
	case provider.TypeOpenAI:
		return &openAIFetcher{}, nil
	case provider.TypeGemini:
		return &geminiFetcher{}, nil
	case provider.TypeOpenRouter:
		return &openRouterFetcher{}, nil
	case provider.TypeMock:
		return &mockFetcher{}, nil
	default:
		return nil, fmt.Errorf("no catalog fetcher for provider type %q", t)
	}
}

// listClient is the shared HTTP client for catalog listings.
var listClient = &http.Client{Timeout: listTimeout}

// fetchJSON performs a GET and decodes the body into out.
func fetchJSON(ctx context.Context, url string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := listClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model listing failed (HTTP %d): %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse model listing: %w", err)
	}
	return nil
}

// =============================================================================
// OPENAI
// =============================================================================

type openAIFetcher struct{}

func (f *openAIFetcher) FetchModels(ctx context.Context, profile *provider.Profile) ([]provider.ModelInfo, error) {
	base := profile.Endpoint
	if base == "" {
		base = "https://api.openai.com/v1"
	}

	var resp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	headers := map[string]string{"Authorization": "Bearer " + profile.APIKey}
	if err := fetchJSON(ctx, strings.TrimRight(base, "/")+"/models", headers, &resp); err != nil {
		return nil, err
	}

	models := make([]provider.ModelInfo, 0, len(resp.Data))
	for _, m := range resp.Data {
		models = append(models, provider.ModelInfo{ID: m.ID})
	}
	return models, nil
}

// =============================================================================
// GEMINI
// =============================================================================

type geminiFetcher struct{}

func (f *geminiFetcher) FetchModels(ctx context.Context, profile *provider.Profile) ([]provider.ModelInfo, error) {
	base := profile.Endpoint
	if base == "" {
		base = "https://generativelanguage.googleapis.com/v1beta"
	}

	var resp struct {
		Models []struct {
			Name             string `json:"name"` // "models/gemini-2.0-flash"
			DisplayName      string `json:"displayName"`
			InputTokenLimit  int    `json:"inputTokenLimit"`
			OutputTokenLimit int    `json:"outputTokenLimit"`
		} `json:"models"`
	}
	headers := map[string]string{"x-goog-api-key": profile.APIKey}
	if err := fetchJSON(ctx, strings.TrimRight(base, "/")+"/models", headers, &resp); err != nil {
		return nil, err
	}

	models := make([]provider.ModelInfo, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, provider.ModelInfo{
			ID:               strings.TrimPrefix(m.Name, "models/"),
			Name:             m.DisplayName,
			InputTokenLimit:  m.InputTokenLimit,
			OutputTokenLimit: m.OutputTokenLimit,
		})
	}
	return models, nil
}

// =============================================================================
// OPENROUTER
// =============================================================================

type openRouterFetcher struct{}

// openRouterModelList is the /models response shape, shared with the
// aggregator catalog since OpenRouter is its backing source.
type openRouterModelList struct {
	Data []struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		ContextLength int    `json:"context_length"`
		TopProvider   struct {
			MaxCompletionTokens int `json:"max_completion_tokens"`
		} `json:"top_provider"`
	} `json:"data"`
}

func (l *openRouterModelList) normalize() []provider.ModelInfo {
	models := make([]provider.ModelInfo, 0, len(l.Data))
	for _, m := range l.Data {
		models = append(models, provider.ModelInfo{
			ID:               m.ID,
			Name:             m.Name,
			InputTokenLimit:  m.ContextLength,
			OutputTokenLimit: m.TopProvider.MaxCompletionTokens,
		})
	}
	return models
}

func (f *openRouterFetcher) FetchModels(ctx context.Context, profile *provider.Profile) ([]provider.ModelInfo, error) {
	base := profile.Endpoint
	if base == "" {
		base = "https://openrouter.ai/api/v1"
	}

	var resp openRouterModelList
	// The models endpoint does not require auth, but send the key when set.
	headers := map[string]string{}
	if profile.APIKey != "" {
		headers["Authorization"] = "Bearer " + profile.APIKey
	}
	if err := fetchJSON(ctx, strings.TrimRight(base, "/")+"/models", headers, &resp); err != nil {
		return nil, err
	}
	return resp.normalize(), nil
}

// =============================================================================
// MOCK
// =============================================================================

type mockFetcher struct{}

func (f *mockFetcher) FetchModels(ctx context.Context, profile *provider.Profile) ([]provider.ModelInfo, error) {
	return []provider.ModelInfo{
		{ID: "mock-small", Name: "Mock Small"},
		{ID: "mock-large", Name: "Mock Large"},
	}, nil
}
