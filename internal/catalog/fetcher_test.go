// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/morganforge/polychat/internal/provider"
)

func TestFetcherFor(t *testing.T) {
	for _, typ := range provider.AllTypes {
		if _, err := FetcherFor(typ); err != nil {
			t.Errorf("FetcherFor(%s): %v", typ, err)
		}
	}
	if _, err := FetcherFor(provider.Type("bogus")); err == nil {
		t.Error("expected error for unknown provider type")
	}
}

func TestOpenAIFetcher_NormalizesListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models") {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		w.Write([]byte(`{"object":"list","data":[{"id":"gpt-a","object":"model"},{"id":"gpt-b"}]}`))
	}))
	defer srv.Close()

	f := &openAIFetcher{}
	models, err := f.FetchModels(context.Background(), &provider.Profile{
		Type: provider.TypeOpenAI, APIKey: "sk-test", Endpoint: srv.URL,
	})
	if err != nil {
		t.Fatalf("FetchModels: %v", err)
	}
	if len(models) != 2 || models[0].ID != "gpt-a" || models[1].ID != "gpt-b" {
		t.Fatalf("models = %+v", models)
	}
}

func TestGeminiFetcher_StripsModelPrefixAndCarriesLimits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-goog-api-key"); got != "gk-test" {
			t.Errorf("x-goog-api-key = %q", got)
		}
		w.Write([]byte(`{"models":[
			{"name":"models/gemini-flash","displayName":"Gemini Flash","inputTokenLimit":1048576,"outputTokenLimit":8192}
		]}`))
	}))
	defer srv.Close()

	f := &geminiFetcher{}
	models, err := f.FetchModels(context.Background(), &provider.Profile{
		Type: provider.TypeGemini, APIKey: "gk-test", Endpoint: srv.URL,
	})
	if err != nil {
		t.Fatalf("FetchModels: %v", err)
	}
	if len(models) != 1 {
		t.Fatalf("got %d models, want 1", len(models))
	}
	m := models[0]
	if m.ID != "gemini-flash" {
		t.Errorf("ID = %q, want models/ prefix stripped", m.ID)
	}
	if m.Name != "Gemini Flash" || m.InputTokenLimit != 1048576 || m.OutputTokenLimit != 8192 {
		t.Errorf("model = %+v", m)
	}
}

func TestOpenRouterFetcher_NormalizesListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[
			{"id":"openai/gpt-a","name":"GPT A","context_length":128000,"top_provider":{"max_completion_tokens":16384}}
		]}`))
	}))
	defer srv.Close()

	f := &openRouterFetcher{}
	models, err := f.FetchModels(context.Background(), &provider.Profile{
		Type: provider.TypeOpenRouter, Endpoint: srv.URL,
	})
	if err != nil {
		t.Fatalf("FetchModels: %v", err)
	}
	if len(models) != 1 {
		t.Fatalf("got %d models, want 1", len(models))
	}
	m := models[0]
	if m.ID != "openai/gpt-a" || m.InputTokenLimit != 128000 || m.OutputTokenLimit != 16384 {
		t.Errorf("model = %+v", m)
	}
}

func TestOpenRouterFetcher_OmitsAuthWithoutKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("Authorization = %q, want unset", got)
		}
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	f := &openRouterFetcher{}
	if _, err := f.FetchModels(context.Background(), &provider.Profile{
		Type: provider.TypeOpenRouter, Endpoint: srv.URL,
	}); err != nil {
		t.Fatalf("FetchModels: %v", err)
	}
}

func TestMockFetcher_StaticListing(t *testing.T) {
	f := &mockFetcher{}
	models, err := f.FetchModels(context.Background(), &provider.Profile{Type: provider.TypeMock})
	if err != nil {
		t.Fatalf("FetchModels: %v", err)
	}
	if len(models) == 0 {
		t.Fatal("mock fetcher returned no models")
	}
	for _, m := range models {
		if m.ID == "" {
			t.Errorf("mock model with empty id: %+v", m)
		}
	}
}

func TestFetchJSON_HTTPErrorIncludesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"invalid key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	var out struct{}
	err := fetchJSON(context.Background(), srv.URL, nil, &out)
	if err == nil {
		t.Fatal("expected error for HTTP 401")
	}
	if !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "invalid key") {
		t.Errorf("error = %v, want status and body", err)
	}
}
