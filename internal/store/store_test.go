// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morganforge/polychat/internal/provider"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// =============================================================================
// STATUS TRANSITIONS
// =============================================================================

func TestMessageStatus_CanTransition(t *testing.T) {
	testCases := []struct {
		from, to MessageStatus
		want     bool
	}{
		{StatusSending, StatusSent, true},
		{StatusThinking, StatusTyping, true},
		{StatusThinking, StatusReceived, true},
		{StatusTyping, StatusReceived, true},
		{StatusTyping, StatusError, true},
		{StatusTyping, StatusTyping, true}, // same status is allowed
		{StatusReceived, StatusTyping, false},
		{StatusReceived, StatusError, false}, // terminals never replace each other
		{StatusError, StatusReceived, false},
		{StatusSent, StatusSending, false},
		{StatusTyping, StatusThinking, false},
	}
	for _, tc := range testCases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestMessageStatus_Terminal(t *testing.T) {
	for _, s := range []MessageStatus{StatusReceived, StatusError, StatusSent} {
		assert.True(t, s.Terminal(), "%s should be terminal", s)
	}
	for _, s := range []MessageStatus{StatusSending, StatusThinking, StatusTyping} {
		assert.False(t, s.Terminal(), "%s should not be terminal", s)
	}
}

// =============================================================================
// CHATS
// =============================================================================

func TestChat_CRUD(t *testing.T) {
	st := openTestStore(t)

	chat := &Chat{ID: "c1", Title: "New Chat"}
	require.NoError(t, st.CreateChat(chat))

	got, err := st.GetChat("c1")
	require.NoError(t, err)
	assert.Equal(t, "New Chat", got.Title)

	require.NoError(t, st.UpdateChatTitle("c1", "Renamed"))
	got, err = st.GetChat("c1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)

	require.NoError(t, st.DeleteChat("c1"))
	_, err = st.GetChat("c1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChat_UpdateTitleMissing(t *testing.T) {
	st := openTestStore(t)
	assert.ErrorIs(t, st.UpdateChatTitle("nope", "x"), ErrNotFound)
}

func TestChat_DeleteCascadesMessages(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.CreateChat(&Chat{ID: "c1"}))
	require.NoError(t, st.CreateMessage(&Message{ID: "m1", ChatID: "c1", Role: "user", Status: StatusSent}))

	require.NoError(t, st.DeleteChat("c1"))
	_, err := st.GetMessage("m1")
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// MESSAGES
// =============================================================================

func TestMessage_MetadataRoundTrip(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.CreateChat(&Chat{ID: "c1"}))

	temp := 0.7
	started := time.Now().Truncate(time.Millisecond)
	msg := &Message{
		ID:     "m1",
		ChatID: "c1",
		Role:   "assistant",
		Status: StatusThinking,
		Metadata: &MessageMetadata{
			ProviderName:     "OpenAI",
			ModelID:          "gpt-4o",
			RequestedHistory: 10,
			ActualHistory:    4,
			Temperature:      &temp,
			StartedAt:        &started,
		},
	}
	require.NoError(t, st.CreateMessage(msg))

	got, err := st.GetMessage("m1")
	require.NoError(t, err)
	require.NotNil(t, got.Metadata)
	assert.Equal(t, "OpenAI", got.Metadata.ProviderName)
	assert.Equal(t, "gpt-4o", got.Metadata.ModelID)
	assert.Equal(t, 4, got.Metadata.ActualHistory)
	require.NotNil(t, got.Metadata.Temperature)
	assert.Equal(t, 0.7, *got.Metadata.Temperature)
}

func TestMessage_SaveUpdatesContentAndStatus(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.CreateChat(&Chat{ID: "c1"}))

	msg := &Message{ID: "m1", ChatID: "c1", Role: "assistant", Status: StatusThinking}
	require.NoError(t, st.CreateMessage(msg))

	msg.Content = "streamed text"
	msg.Status = StatusTyping
	require.NoError(t, st.SaveMessage(msg))

	got, err := st.GetMessage("m1")
	require.NoError(t, err)
	assert.Equal(t, "streamed text", got.Content)
	assert.Equal(t, StatusTyping, got.Status)
}

func TestRecentMessages_NewestFirstWithLimit(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.CreateChat(&Chat{ID: "c1"}))

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, st.CreateMessage(&Message{
			ID:        string(rune('a' + i)),
			ChatID:    "c1",
			Role:      "user",
			Content:   string(rune('a' + i)),
			Status:    StatusSent,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	recent, err := st.RecentMessages("c1", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "e", recent[0].Content)
	assert.Equal(t, "d", recent[1].Content)
	assert.Equal(t, "c", recent[2].Content)

	n, err := st.MessageCount("c1")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

// =============================================================================
// CHAT OPTIONS
// =============================================================================

func TestChatOption_DefaultWhenUnset(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.CreateChat(&Chat{ID: "c1"}))

	opt, err := st.GetChatOption("c1")
	require.NoError(t, err)
	assert.Equal(t, 10, opt.HistoryLength)
	assert.Empty(t, opt.ModelEntryID)
}

func TestChatOption_Upsert(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.CreateChat(&Chat{ID: "c1"}))

	temp := 0.5
	opt := &ChatOption{
		ChatID:        "c1",
		ModelEntryID:  "e1",
		HistoryLength: 7,
		Temperature:   &temp,
		WebSearch:     true,
	}
	require.NoError(t, st.SaveChatOption(opt))

	got, err := st.GetChatOption("c1")
	require.NoError(t, err)
	assert.Equal(t, "e1", got.ModelEntryID)
	assert.Equal(t, 7, got.HistoryLength)
	assert.True(t, got.WebSearch)
	require.NotNil(t, got.Temperature)
	assert.Equal(t, 0.5, *got.Temperature)

	// upsert replaces
	opt.HistoryLength = 20
	opt.WebSearch = false
	require.NoError(t, st.SaveChatOption(opt))
	got, err = st.GetChatOption("c1")
	require.NoError(t, err)
	assert.Equal(t, 20, got.HistoryLength)
	assert.False(t, got.WebSearch)
}

// =============================================================================
// PROVIDERS AND CATALOG
// =============================================================================

func TestProvider_SaveAndEnabledOrdering(t *testing.T) {
	st := openTestStore(t)

	old := &provider.Profile{ID: "p1", Type: provider.TypeOpenAI, Alias: "first", Enabled: true,
		CreatedAt: time.Now().Add(-time.Hour)}
	newer := &provider.Profile{ID: "p2", Type: provider.TypeGemini, Alias: "second", Enabled: true}
	disabled := &provider.Profile{ID: "p3", Type: provider.TypeMock, Alias: "off", Enabled: false}

	require.NoError(t, st.SaveProvider(old))
	require.NoError(t, st.SaveProvider(newer))
	require.NoError(t, st.SaveProvider(disabled))

	enabled, err := st.EnabledProviders()
	require.NoError(t, err)
	require.Len(t, enabled, 2)
	assert.Equal(t, "first", enabled[0].Alias)
	assert.Equal(t, "second", enabled[1].Alias)

	// upsert preserves identity
	old.Alias = "renamed"
	require.NoError(t, st.SaveProvider(old))
	got, err := st.GetProvider("p1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Alias)
}

func TestProvider_DeleteCascadesEntries(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.SaveProvider(&provider.Profile{ID: "p1", Type: provider.TypeOpenAI}))
	require.NoError(t, st.InsertModelEntry(&provider.CatalogEntry{ID: "e1", ProviderID: "p1", ModelID: "gpt-4o"}))

	require.NoError(t, st.DeleteProvider("p1"))
	_, err := st.GetModelEntry("e1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyCatalogChanges_AppliesAll(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.SaveProvider(&provider.Profile{ID: "p1", Type: provider.TypeOpenAI}))
	require.NoError(t, st.InsertModelEntry(&provider.CatalogEntry{ID: "stale", ProviderID: "p1", ModelID: "old-model"}))
	require.NoError(t, st.InsertModelEntry(&provider.CatalogEntry{ID: "keep", ProviderID: "p1", ModelID: "kept-model", Name: "Old Name"}))

	changes := &CatalogChanges{
		Inserts: []*provider.CatalogEntry{{ID: "new", ProviderID: "p1", ModelID: "new-model"}},
		Updates: []*provider.CatalogEntry{{ID: "keep", Name: "New Name"}},
		Deletes: []string{"stale"},
	}
	require.NoError(t, st.ApplyCatalogChanges(changes))

	entries, err := st.EntriesForProvider("p1")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byID := map[string]*provider.CatalogEntry{}
	for _, e := range entries {
		byID[e.ID] = e
	}
	assert.Contains(t, byID, "new")
	assert.Equal(t, "New Name", byID["keep"].Name)
	assert.NotContains(t, byID, "stale")
}

func TestApplyCatalogChanges_RollsBackOnFailure(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.SaveProvider(&provider.Profile{ID: "p1", Type: provider.TypeOpenAI}))
	require.NoError(t, st.InsertModelEntry(&provider.CatalogEntry{ID: "existing", ProviderID: "p1", ModelID: "m"}))

	// Duplicate primary key in the insert list forces the transaction to fail
	// after the delete has already run inside it.
	changes := &CatalogChanges{
		Inserts: []*provider.CatalogEntry{
			{ID: "twin", ProviderID: "p1", ModelID: "a"},
			{ID: "twin", ProviderID: "p1", ModelID: "b"},
		},
		Deletes: []string{"existing"},
	}
	require.Error(t, st.ApplyCatalogChanges(changes))

	// The delete must have been rolled back with the failed insert.
	entries, err := st.EntriesForProvider("p1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "existing", entries[0].ID)
}

func TestSetModelFavorited(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.SaveProvider(&provider.Profile{ID: "p1", Type: provider.TypeMock}))
	require.NoError(t, st.InsertModelEntry(&provider.CatalogEntry{ID: "e1", ProviderID: "p1", ModelID: "m"}))

	require.NoError(t, st.SetModelFavorited("e1", true))
	got, err := st.GetModelEntry("e1")
	require.NoError(t, err)
	assert.True(t, got.Favorited)

	assert.ErrorIs(t, st.SetModelFavorited("missing", true), ErrNotFound)
}

// =============================================================================
// PROMPTS
// =============================================================================

func TestPrompt_SaveGetDelete(t *testing.T) {
	st := openTestStore(t)

	p := &Prompt{
		ID:   "pr1",
		Name: "Translator",
		Messages: []PromptMessage{
			{ID: "pm1", Role: "system", Content: "You translate to French."},
			{ID: "pm2", Role: "user", Content: "Only output the translation."},
		},
	}
	require.NoError(t, st.SavePrompt(p))

	got, err := st.GetPrompt("pr1")
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)

	// re-save replaces the message list
	p.Messages = p.Messages[:1]
	require.NoError(t, st.SavePrompt(p))
	got, err = st.GetPrompt("pr1")
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)

	require.NoError(t, st.DeletePrompt("pr1"))
	_, err = st.GetPrompt("pr1")
	assert.True(t, errors.Is(err, ErrNotFound))
}
