// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/morganforge/polychat/internal/llm"
	"github.com/morganforge/polychat/internal/store"
	"github.com/morganforge/polychat/internal/util"
)

// titleHistoryLength is how many recent messages feed title generation.
const titleHistoryLength = 4

// maxTitleRunes caps generated titles.
const maxTitleRunes = 60

// titleSystemPrompt instructs the model to answer with nothing but a title.
const titleSystemPrompt = "You generate a short title for a conversation. " +
	"Reply with only the title: at most six words, no quotes, no punctuation at the end."

// TitleGenerator derives a short conversation title from recent messages,
// reusing the same streaming clients as the send path. Deltas are
// accumulated without throttling since nothing observes them incrementally.
type TitleGenerator struct {
	store      *store.Store
	factory    *llm.Factory
	dispatcher *llm.Dispatcher
	openKey    KeyOpener
}

// NewTitleGenerator creates a title generator.
func NewTitleGenerator(st *store.Store, factory *llm.Factory, d *llm.Dispatcher, openKey KeyOpener) *TitleGenerator {
	if openKey == nil {
		openKey = func(s string) (string, error) { return s, nil }
	}
	return &TitleGenerator{store: st, factory: factory, dispatcher: d, openKey: openKey}
}

// Generate produces and persists a title for the chat. Blocks until the
// stream finishes. On failure the existing title is left untouched and the
// error is returned.
func (g *TitleGenerator) Generate(ctx context.Context, chatID string) (string, error) {
	option, err := g.store.GetChatOption(chatID)
	if err != nil {
		return "", fmt.Errorf("failed to load chat options: %w", err)
	}
	if option.ModelEntryID == "" {
		return "", fmt.Errorf("chat %s has no model selected", chatID)
	}
	entry, err := g.store.GetModelEntry(option.ModelEntryID)
	if err != nil {
		return "", err
	}
	profile, err := g.store.GetProvider(entry.ProviderID)
	if err != nil {
		return "", err
	}

	history, err := g.store.RecentMessages(chatID, titleHistoryLength)
	if err != nil {
		return "", fmt.Errorf("failed to load history: %w", err)
	}

	messages := []llm.ChatMessage{llm.NewSystemMessage(titleSystemPrompt)}
	found := false
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if util.IsBlank(m.Content) {
			continue
		}
		messages = append(messages, llm.ChatMessage{Role: llm.Role(m.Role), Content: m.Content})
		found = true
	}
	if !found {
		return "", fmt.Errorf("chat %s has no meaningful messages", chatID)
	}

	client, err := g.factory.ClientFor(profile.Type)
	if err != nil {
		return "", err
	}
	apiKey, err := g.openKey(profile.APIKey)
	if err != nil {
		return "", fmt.Errorf("failed to open API key: %w", err)
	}
	cfg := llm.StreamConfig{
		APIKey:   apiKey,
		ModelID:  entry.ModelID,
		Endpoint: profile.Endpoint,
	}

	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)

	handler := llm.StreamHandler{
		OnComplete: func(final string) { done <- outcome{text: final} },
		OnError:    func(err error) { done <- outcome{err: err} },
	}

	go client.StreamChatCompletion(ctx, messages, cfg, handler)

	result := <-done
	if result.err != nil {
		return "", fmt.Errorf("title generation failed: %w", result.err)
	}

	title := cleanTitle(result.text)
	if title == "" {
		return "", fmt.Errorf("title generation produced no text")
	}

	g.dispatcher.Sync(func() {
		if err := g.store.UpdateChatTitle(chatID, title); err != nil {
			log.Printf("[TitleGen] failed to save title for %s: %v", chatID, err)
		}
	})
	return title, nil
}

// cleanTitle normalizes model output into a presentable one-line title.
func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	title = strings.Trim(title, `"'`)
	if i := strings.IndexAny(title, "\r\n"); i >= 0 {
		title = title[:i]
	}
	title = strings.TrimSpace(title)
	title = strings.TrimRight(title, ".!,;:")
	return util.TruncateRunes(title, maxTitleRunes)
}
