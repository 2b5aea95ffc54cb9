// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package catalog

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/morganforge/polychat/internal/provider"
	"github.com/morganforge/polychat/internal/store"
)

// SyncEngine reconciles remotely fetched model lists against the persisted
// catalog for a provider.
//
// Precedence rules:
//   - a fetched model with no existing non-custom entry is inserted
//   - a fetched model matching non-custom entries updates the first match in
//     place; surplus duplicates are deleted
//   - a custom entry always wins: it is never updated or deleted, and any
//     non-custom duplicates of its id are deleted rather than merged
//   - a non-custom entry absent from the fetched list is deleted
//
// Classification runs in memory; the resulting change set is applied in one
// store transaction, so a commit failure leaves the previous catalog intact.
type SyncEngine struct {
	store      *store.Store
	aggregator *Aggregator

	// mu serializes reconciliation so the background refresh job and a
	// foreground sync cannot interleave writes.
	mu sync.Mutex
}

// NewSyncEngine creates a sync engine.
func NewSyncEngine(st *store.Store, agg *Aggregator) *SyncEngine {
	return &SyncEngine{store: st, aggregator: agg}
}

// SyncProvider fetches the provider's model list and reconciles it against
// the persisted catalog. Returns the number of inserts, updates, and deletes
// applied.
func (e *SyncEngine) SyncProvider(ctx context.Context, profile *provider.Profile) (inserted, updated, deleted int, err error) {
	fetcher, err := FetcherFor(profile.Type)
	if err != nil {
		return 0, 0, 0, err
	}

	fetched, err := fetcher.FetchModels(ctx, profile)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("model fetch for %s failed: %w", profile.DisplayName(), err)
	}

	// Fallback sourcing: an empty provider listing falls back to the shared
	// aggregator catalog filtered by the provider's id prefix.
	if len(fetched) == 0 {
		if prefix := profile.Type.AggregatorPrefix(); prefix != "" && e.aggregator != nil {
			fetched, err = e.aggregator.ModelsForPrefix(ctx, prefix)
			if err != nil {
				return 0, 0, 0, fmt.Errorf("aggregator fallback for %s failed: %w", profile.DisplayName(), err)
			}
			log.Printf("[CatalogSync] %s listing empty, using %d aggregator models (prefix %q)",
				profile.DisplayName(), len(fetched), prefix)
		}
	}

	return e.Reconcile(profile.ID, fetched)
}

// Reconcile classifies fetched models against the persisted entries for a
// provider and applies the change set atomically.
func (e *SyncEngine) Reconcile(providerID string, fetched []provider.ModelInfo) (inserted, updated, deleted int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	existing, err := e.store.EntriesForProvider(providerID)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to load catalog entries: %w", err)
	}

	changes := classify(providerID, fetched, existing)
	if err := e.store.ApplyCatalogChanges(changes); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to commit catalog changes: %w", err)
	}

	inserted = len(changes.Inserts)
	updated = len(changes.Updates)
	deleted = len(changes.Deletes)
	if inserted+updated+deleted > 0 {
		log.Printf("[CatalogSync] provider %s: +%d ~%d -%d", providerID, inserted, updated, deleted)
	}
	return inserted, updated, deleted, nil
}

// classify produces the change set for one reconciliation pass.
func classify(providerID string, fetched []provider.ModelInfo, existing []*provider.CatalogEntry) *store.CatalogChanges {
	changes := &store.CatalogChanges{}

	byModelID := make(map[string][]*provider.CatalogEntry)
	for _, e := range existing {
		byModelID[e.ModelID] = append(byModelID[e.ModelID], e)
	}

	fetchedIDs := make(map[string]bool, len(fetched))
	for _, m := range fetched {
		// A duplicate id inside one fetched list is processed once.
		if fetchedIDs[m.ID] {
			continue
		}
		fetchedIDs[m.ID] = true

		matches := byModelID[m.ID]

		var custom *provider.CatalogEntry
		var nonCustom []*provider.CatalogEntry
		for _, entry := range matches {
			if entry.IsCustom {
				if custom == nil {
					custom = entry
				}
			} else {
				nonCustom = append(nonCustom, entry)
			}
		}

		switch {
		case custom != nil:
			// Custom entries are user-owned; drop any synced duplicates
			// instead of merging into them.
			for _, dup := range nonCustom {
				changes.Deletes = append(changes.Deletes, dup.ID)
			}
		case len(nonCustom) > 0:
			first := nonCustom[0]
			if first.Name != m.Name || first.InputTokenLimit != m.InputTokenLimit || first.OutputTokenLimit != m.OutputTokenLimit {
				upd := *first
				upd.Name = m.Name
				upd.InputTokenLimit = m.InputTokenLimit
				upd.OutputTokenLimit = m.OutputTokenLimit
				changes.Updates = append(changes.Updates, &upd)
			}
			for _, dup := range nonCustom[1:] {
				changes.Deletes = append(changes.Deletes, dup.ID)
			}
		default:
			changes.Inserts = append(changes.Inserts, &provider.CatalogEntry{
				ID:               uuid.New().String(),
				ProviderID:       providerID,
				ModelID:          m.ID,
				Name:             m.Name,
				InputTokenLimit:  m.InputTokenLimit,
				OutputTokenLimit: m.OutputTokenLimit,
			})
		}
	}

	// Anything non-custom that no longer exists upstream goes away.
	for _, entry := range existing {
		if !entry.IsCustom && !fetchedIDs[entry.ModelID] {
			changes.Deletes = append(changes.Deletes, entry.ID)
		}
	}

	return changes
}
