// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newCountingAggregatorServer(t *testing.T, hits *atomic.Int32, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAggregator_CachesWithinTTL(t *testing.T) {
	var hits atomic.Int32
	srv := newCountingAggregatorServer(t, &hits,
		`{"data":[{"id":"openai/gpt-a","name":"GPT A"}]}`)

	agg := NewAggregator().WithURL(srv.URL)
	ctx := context.Background()

	first, err := agg.Models(ctx)
	if err != nil {
		t.Fatalf("Models: %v", err)
	}
	second, err := agg.Models(ctx)
	if err != nil {
		t.Fatalf("Models (cached): %v", err)
	}

	if hits.Load() != 1 {
		t.Errorf("upstream hit %d times, want 1", hits.Load())
	}
	if len(first) != 1 || len(second) != 1 || first[0].ID != second[0].ID {
		t.Errorf("cached list diverged: %+v vs %+v", first, second)
	}
}

func TestAggregator_RefreshBypassesCache(t *testing.T) {
	var hits atomic.Int32
	srv := newCountingAggregatorServer(t, &hits,
		`{"data":[{"id":"openai/gpt-a"}]}`)

	agg := NewAggregator().WithURL(srv.URL)
	ctx := context.Background()

	if _, err := agg.Models(ctx); err != nil {
		t.Fatalf("Models: %v", err)
	}
	if _, err := agg.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("upstream hit %d times, want 2", hits.Load())
	}
}

func TestAggregator_ServesStaleOnRefreshFailure(t *testing.T) {
	var failing atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"data":[{"id":"openai/gpt-a","name":"GPT A"}]}`))
	}))
	defer srv.Close()

	agg := NewAggregator().WithURL(srv.URL)
	ctx := context.Background()

	if _, err := agg.Models(ctx); err != nil {
		t.Fatalf("initial fetch: %v", err)
	}

	failing.Store(true)
	models, err := agg.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh should serve stale data, got error: %v", err)
	}
	if len(models) != 1 || models[0].ID != "openai/gpt-a" {
		t.Errorf("stale list = %+v", models)
	}
}

func TestAggregator_ErrorWithNothingCached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	agg := NewAggregator().WithURL(srv.URL)
	if _, err := agg.Models(context.Background()); err == nil {
		t.Fatal("expected error when first fetch fails with empty cache")
	}
}

func TestModelsForPrefix_FiltersAndStrips(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[
			{"id":"openai/gpt-a","name":"GPT A"},
			{"id":"openai/gpt-b","name":"GPT B"},
			{"id":"google/gemini-x","name":"Gemini X"},
			{"id":"meta-llama/llama-z","name":"Llama Z"}
		]}`))
	}))
	defer srv.Close()

	agg := NewAggregator().WithURL(srv.URL)
	models, err := agg.ModelsForPrefix(context.Background(), "openai/")
	if err != nil {
		t.Fatalf("ModelsForPrefix: %v", err)
	}

	if len(models) != 2 {
		t.Fatalf("got %d models, want 2", len(models))
	}
	want := []string{"gpt-a", "gpt-b"}
	for i, m := range models {
		if m.ID != want[i] {
			t.Errorf("models[%d].ID = %q, want %q", i, m.ID, want[i])
		}
	}
}

func TestModelsForPrefix_NoMatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"id":"google/gemini-x"}]}`))
	}))
	defer srv.Close()

	agg := NewAggregator().WithURL(srv.URL)
	models, err := agg.ModelsForPrefix(context.Background(), "openai/")
	if err != nil {
		t.Fatalf("ModelsForPrefix: %v", err)
	}
	if len(models) != 0 {
		t.Errorf("got %d models, want none", len(models))
	}
}
