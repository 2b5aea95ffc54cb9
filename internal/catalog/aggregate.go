// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package catalog

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/morganforge/polychat/internal/provider"
)

// defaultAggregatorURL is the OpenRouter master model list, used as the
// provider-agnostic aggregator catalog.
const defaultAggregatorURL = "https://openrouter.ai/api/v1/models"

// aggregatorCacheTTL is how long a fetched aggregator list stays fresh.
// The background refresh job and per-provider fallback sourcing share one
// fetch inside this window.
const aggregatorCacheTTL = 1 * time.Hour

// Aggregator maintains the shared provider-agnostic model catalog fetched
// from OpenRouter, with an in-memory TTL cache and request rate limiting.
type Aggregator struct {
	url     string
	limiter *rate.Limiter

	mu        sync.Mutex
	cached    []provider.ModelInfo
	fetchedAt time.Time
}

// NewAggregator creates an aggregator backed by the default OpenRouter URL.
func NewAggregator() *Aggregator {
	return &Aggregator{
		url: defaultAggregatorURL,
		// One fetch per 10s burst 2 keeps retry storms off the upstream.
		limiter: rate.NewLimiter(rate.Every(10*time.Second), 2),
	}
}

// WithURL overrides the aggregator endpoint. Used by tests.
func (a *Aggregator) WithURL(url string) *Aggregator {
	a.url = url
	return a
}

// Models returns the aggregator catalog, fetching when the cache is stale.
func (a *Aggregator) Models(ctx context.Context) ([]provider.ModelInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cached != nil && time.Since(a.fetchedAt) < aggregatorCacheTTL {
		return a.cached, nil
	}
	return a.refreshLocked(ctx)
}

// Refresh forces a fetch regardless of cache freshness. The background
// refresh job calls this on its schedule.
func (a *Aggregator) Refresh(ctx context.Context) ([]provider.ModelInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshLocked(ctx)
}

func (a *Aggregator) refreshLocked(ctx context.Context) ([]provider.ModelInfo, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var resp openRouterModelList
	if err := fetchJSON(ctx, a.url, nil, &resp); err != nil {
		// Serve stale data on refresh failure rather than nothing.
		if a.cached != nil {
			log.Printf("[Aggregator] refresh failed, serving cached list: %v", err)
			return a.cached, nil
		}
		return nil, fmt.Errorf("aggregator fetch failed: %w", err)
	}

	a.cached = resp.normalize()
	a.fetchedAt = time.Now()
	log.Printf("[Aggregator] refreshed %d models", len(a.cached))
	return a.cached, nil
}

// ModelsForPrefix filters the aggregator catalog to ids carrying the given
// prefix and strips the prefix, producing a provider-local model list.
func (a *Aggregator) ModelsForPrefix(ctx context.Context, prefix string) ([]provider.ModelInfo, error) {
	all, err := a.Models(ctx)
	if err != nil {
		return nil, err
	}

	var filtered []provider.ModelInfo
	for _, m := range all {
		if strings.HasPrefix(m.ID, prefix) {
			m.ID = strings.TrimPrefix(m.ID, prefix)
			filtered = append(filtered, m)
		}
	}
	return filtered, nil
}
