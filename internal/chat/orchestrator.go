// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/morganforge/polychat/internal/event"
	"github.com/morganforge/polychat/internal/llm"
	"github.com/morganforge/polychat/internal/provider"
	"github.com/morganforge/polychat/internal/store"
	"github.com/morganforge/polychat/internal/util"
)

// KeyOpener decrypts a stored API key. The identity function is used when
// keys are stored in the clear.
type KeyOpener func(stored string) (string, error)

// Orchestrator converts one user send into two persisted message records and
// one streaming session whose output incrementally updates the assistant
// record.
//
// All store mutation and session state runs on the dispatcher goroutine (the
// designated callback context); network I/O and parsing run on a worker
// goroutine per session.
type Orchestrator struct {
	store      *store.Store
	factory    *llm.Factory
	bus        *event.Bus
	dispatcher *llm.Dispatcher
	registry   *sessionRegistry
	openKey    KeyOpener

	// MockWordCount sizes replies from the mock provider.
	MockWordCount int
}

// NewOrchestrator creates the send orchestrator.
func NewOrchestrator(st *store.Store, factory *llm.Factory, bus *event.Bus, d *llm.Dispatcher, openKey KeyOpener) *Orchestrator {
	if openKey == nil {
		openKey = func(s string) (string, error) { return s, nil }
	}
	return &Orchestrator{
		store:      st,
		factory:    factory,
		bus:        bus,
		dispatcher: d,
		registry:   newSessionRegistry(),
		openKey:    openKey,
	}
}

// ActiveSessions returns the number of in-flight streaming sessions.
func (o *Orchestrator) ActiveSessions() int {
	var n int
	o.dispatcher.Sync(func() { n = o.registry.len() })
	return n
}

// =============================================================================
// SEND
// =============================================================================

// SendMessage persists the user message and an assistant placeholder, then
// opens a streaming session against the chat's configured provider.
// Persistence failures abort before any network call. Returns the session id.
func (o *Orchestrator) SendMessage(ctx context.Context, chatID, text string) (string, error) {
	var sessionID string
	var err error
	o.dispatcher.Sync(func() {
		sessionID, err = o.send(ctx, chatID, text)
	})
	return sessionID, err
}

// send runs on the dispatcher goroutine.
func (o *Orchestrator) send(ctx context.Context, chatID, text string) (string, error) {
	option, err := o.store.GetChatOption(chatID)
	if err != nil {
		return "", fmt.Errorf("failed to load chat options: %w", err)
	}
	if option.ModelEntryID == "" {
		return "", fmt.Errorf("chat %s has no model selected", chatID)
	}

	entry, err := o.store.GetModelEntry(option.ModelEntryID)
	if err != nil {
		return "", fmt.Errorf("failed to load model entry: %w", err)
	}
	profile, err := o.store.GetProvider(entry.ProviderID)
	if err != nil {
		return "", fmt.Errorf("failed to load provider: %w", err)
	}

	var prompt *store.Prompt
	if option.PromptID != "" {
		prompt, err = o.store.GetPrompt(option.PromptID)
		if err != nil && err != store.ErrNotFound {
			return "", fmt.Errorf("failed to load prompt: %w", err)
		}
	}

	history, err := o.store.RecentMessages(chatID, option.HistoryLength)
	if err != nil {
		return "", fmt.Errorf("failed to load history: %w", err)
	}
	messages := assembleMessages(prompt, history, text)

	client, err := o.factory.ClientFor(profile.Type)
	if err != nil {
		return "", err
	}
	cfg, err := o.buildStreamConfig(profile, entry, option)
	if err != nil {
		return "", err
	}

	// Persist both records before any network call. A send against
	// unpersisted records must never happen.
	now := time.Now()
	promptName := ""
	if prompt != nil {
		promptName = prompt.Name
	}
	meta := store.MessageMetadata{
		ProviderName:     profile.DisplayName(),
		ModelID:          entry.ModelID,
		PromptName:       promptName,
		RequestedHistory: option.HistoryLength,
		ActualHistory:    len(history),
		Temperature:      cfg.Sampling.Temperature,
		PresencePenalty:  cfg.Sampling.PresencePenalty,
		FrequencyPenalty: cfg.Sampling.FrequencyPenalty,
	}

	userMsg := &store.Message{
		ID:      uuid.New().String(),
		ChatID:  chatID,
		Role:    string(llm.RoleUser),
		Content: text,
		Status:  store.StatusSending,
		Metadata: func() *store.MessageMetadata {
			m := meta
			m.StartedAt = &now
			return &m
		}(),
	}
	assistantMsg := &store.Message{
		ID:       uuid.New().String(),
		ChatID:   chatID,
		Role:     string(llm.RoleAssistant),
		Status:   store.StatusThinking,
		Metadata: func() *store.MessageMetadata { m := meta; return &m }(),
	}

	if err := o.store.CreateMessage(userMsg); err != nil {
		return "", fmt.Errorf("failed to persist user message: %w", err)
	}
	if err := o.store.CreateMessage(assistantMsg); err != nil {
		// Keep the store consistent: the pair is created together or not
		// at all.
		if delErr := o.store.DeleteMessage(userMsg.ID); delErr != nil {
			log.Printf("[ChatSend] cleanup of user message failed: %v", delErr)
		}
		return "", fmt.Errorf("failed to persist assistant message: %w", err)
	}
	if err := o.store.TouchChat(chatID); err != nil {
		log.Printf("[ChatSend] failed to touch chat %s: %v", chatID, err)
	}

	sess := &session{
		id:          uuid.New().String(),
		chatID:      chatID,
		userMsgID:   userMsg.ID,
		assistantID: assistantMsg.ID,
	}
	o.registry.add(sess)

	o.bus.Publish(event.Event{Signal: event.SignalNewMessage, ChatID: chatID, Payload: userMsg.ID})
	o.bus.Publish(event.Event{Signal: event.SignalNewMessage, ChatID: chatID, Payload: assistantMsg.ID})
	o.bus.Publish(event.Event{Signal: event.SignalCountChanged, ChatID: chatID})

	handler := llm.OnDispatcher(o.dispatcher, o.handlerFor(sess.id))
	go client.StreamChatCompletion(ctx, messages, cfg, handler)

	return sess.id, nil
}

// =============================================================================
// MESSAGE ASSEMBLY
// =============================================================================

// assembleMessages builds the outbound message list: prompt messages first,
// then history oldest-first, then the new user text. History arrives newest
// first from the store. A history message whose content is blank falls back
// to its stored error text; messages blank both ways are skipped.
func assembleMessages(prompt *store.Prompt, history []*store.Message, text string) []llm.ChatMessage {
	var messages []llm.ChatMessage

	if prompt != nil {
		for _, pm := range prompt.Messages {
			messages = append(messages, llm.ChatMessage{Role: llm.Role(pm.Role), Content: pm.Content})
		}
	}

	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		content := m.Content
		if util.IsBlank(content) {
			content = m.ErrorText
		}
		if util.IsBlank(content) {
			continue
		}
		messages = append(messages, llm.ChatMessage{Role: llm.Role(m.Role), Content: content})
	}

	messages = append(messages, llm.NewUserMessage(text))
	return messages
}

// buildStreamConfig snapshots the chat options into the immutable per-call
// config. Sampling values equal to the provider default are omitted so the
// upstream never sees a default as an explicit override.
func (o *Orchestrator) buildStreamConfig(profile *provider.Profile, entry *provider.CatalogEntry, option *store.ChatOption) (llm.StreamConfig, error) {
	apiKey, err := o.openKey(profile.APIKey)
	if err != nil {
		return llm.StreamConfig{}, fmt.Errorf("failed to open API key: %w", err)
	}

	cfg := llm.StreamConfig{
		APIKey:    apiKey,
		ModelID:   entry.ModelID,
		Endpoint:  profile.Endpoint,
		WebSearch: option.WebSearch,
		Sampling: llm.SamplingParams{
			Temperature:      omitIfEqual(option.Temperature, 1.0),
			PresencePenalty:  omitIfEqual(option.PresencePenalty, 0.0),
			FrequencyPenalty: omitIfEqual(option.FrequencyPenalty, 0.0),
		},
	}
	if option.WebSearchContext != "" {
		cfg.WebSearchContextSize = llm.WebSearchContextSize(option.WebSearchContext)
	}
	if profile.Type == provider.TypeMock {
		cfg.WordCount = o.MockWordCount
	}
	return cfg, nil
}

// omitIfEqual drops a sampling override equal to the provider default.
func omitIfEqual(v *float64, def float64) *float64 {
	if v == nil || *v == def {
		return nil
	}
	return v
}

// =============================================================================
// STREAM CALLBACKS
// =============================================================================

// handlerFor builds the stream handler for one session. The returned handler
// is wrapped with OnDispatcher by the caller, so these closures run on the
// dispatcher goroutine.
func (o *Orchestrator) handlerFor(sessionID string) llm.StreamHandler {
	return llm.StreamHandler{
		OnStart:    func() { o.onStart(sessionID) },
		OnDelta:    func(delta, _ string) { o.onDelta(sessionID, delta) },
		OnComplete: func(final string) { o.onComplete(sessionID, final) },
		OnError:    func(err error) { o.onError(sessionID, err) },
	}
}

// onStart marks the stream as observably started: the user message moves
// sending -> sent and the assistant message gets its start timestamp.
func (o *Orchestrator) onStart(sessionID string) {
	sess := o.registry.get(sessionID)
	if sess == nil || sess.started {
		return
	}
	sess.started = true

	if userMsg, err := o.store.GetMessage(sess.userMsgID); err == nil {
		if userMsg.Status == store.StatusSending {
			userMsg.Status = store.StatusSent
			if err := o.store.SaveMessage(userMsg); err != nil {
				log.Printf("[ChatSend] failed to mark user message sent: %v", err)
			}
		}
	}

	if asst, err := o.store.GetMessage(sess.assistantID); err == nil {
		if asst.Metadata == nil {
			asst.Metadata = &store.MessageMetadata{}
		}
		if asst.Metadata.StartedAt == nil {
			now := time.Now()
			asst.Metadata.StartedAt = &now
			if err := o.store.SaveMessage(asst); err != nil {
				log.Printf("[ChatSend] failed to stamp assistant start: %v", err)
			}
		}
	}
}

// onDelta merges the delta into the session buffer and arms a trailing-edge
// flush if none is pending.
func (o *Orchestrator) onDelta(sessionID, delta string) {
	sess := o.registry.get(sessionID)
	if sess == nil {
		return
	}
	if !sess.started {
		o.onStart(sessionID)
	}

	sess.bufferDelta(delta)

	if !sess.flushPending {
		sess.flushPending = true
		interval := flushIntervalFor(sess.totalBytes)
		sess.timer = time.AfterFunc(interval, func() {
			o.dispatcher.Async(func() { o.flush(sessionID) })
		})
	}
}

// flush writes the buffered delta text into the persisted assistant message.
// On a save failure the text is pushed back into the buffer so it is carried
// into the next flush instead of being lost.
func (o *Orchestrator) flush(sessionID string) {
	sess := o.registry.get(sessionID)
	if sess == nil {
		return
	}
	sess.flushPending = false
	sess.timer = nil

	text := sess.takeBuffer()
	if text == "" {
		return
	}

	asst, err := o.store.GetMessage(sess.assistantID)
	if err != nil {
		log.Printf("[ChatSend] flush lost assistant message %s: %v", sess.assistantID, err)
		return
	}

	asst.Content += text
	if asst.Status.CanTransition(store.StatusTyping) && !asst.Status.Terminal() {
		asst.Status = store.StatusTyping
	}
	if err := o.store.SaveMessage(asst); err != nil {
		log.Printf("[ChatSend] flush save failed, re-buffering %d bytes: %v", len(text), err)
		rest := sess.takeBuffer()
		sess.buffer.WriteString(text)
		sess.buffer.WriteString(rest)
	}
}

// onComplete flushes the remaining buffer, finalizes the assistant message,
// and tears the session down.
func (o *Orchestrator) onComplete(sessionID, final string) {
	sess := o.registry.get(sessionID)
	if sess == nil {
		return
	}
	sess.stopTimer()
	o.flush(sessionID)

	chatID := sess.chatID
	if asst, err := o.store.GetMessage(sess.assistantID); err == nil {
		// A stream may complete without having emitted deltas.
		if asst.Content == "" && final != "" {
			asst.Content = final
		}
		if asst.Status.CanTransition(store.StatusReceived) {
			asst.Status = store.StatusReceived
		}
		if asst.Metadata == nil {
			asst.Metadata = &store.MessageMetadata{}
		}
		now := time.Now()
		asst.Metadata.FinishedAt = &now
		if err := o.store.SaveMessage(asst); err != nil {
			log.Printf("[ChatSend] failed to finalize assistant message: %v", err)
		}
	}

	o.registry.remove(sessionID)
	o.bus.Publish(event.Event{Signal: event.SignalStreamEnded, ChatID: chatID})
}

// onError flushes whatever partial text arrived, marks the assistant message
// failed with a classification, and moves the user message to sent
// regardless of the assistant's outcome.
func (o *Orchestrator) onError(sessionID string, streamErr error) {
	sess := o.registry.get(sessionID)
	if sess == nil {
		return
	}
	sess.stopTimer()
	// Never silently drop partially received text on error.
	o.flush(sessionID)

	chatID := sess.chatID
	kind := classifyError(streamErr)

	if asst, err := o.store.GetMessage(sess.assistantID); err == nil {
		if asst.Status.CanTransition(store.StatusError) {
			asst.Status = store.StatusError
		}
		asst.ErrorText = streamErr.Error()
		if asst.Metadata == nil {
			asst.Metadata = &store.MessageMetadata{}
		}
		asst.Metadata.ErrorKind = kind
		now := time.Now()
		asst.Metadata.FinishedAt = &now
		if err := o.store.SaveMessage(asst); err != nil {
			log.Printf("[ChatSend] failed to record assistant error: %v", err)
		}
	}

	if userMsg, err := o.store.GetMessage(sess.userMsgID); err == nil && userMsg.Status == store.StatusSending {
		userMsg.Status = store.StatusSent
		if err := o.store.SaveMessage(userMsg); err != nil {
			log.Printf("[ChatSend] failed to mark user message sent: %v", err)
		}
	}

	o.registry.remove(sessionID)
	o.bus.Publish(event.Event{Signal: event.SignalStreamError, ChatID: chatID, Payload: streamErr.Error()})
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

// apiKeyPatterns are matched case-insensitively against error text to flag
// credential problems for the UI ("check your API key").
var apiKeyPatterns = []string{
	"api key",
	"api_key",
	"invalid_api_key",
	"incorrect api key",
	"unauthorized",
	"401",
}

// classifyError buckets a streaming failure by its textual description.
func classifyError(err error) store.ErrorKind {
	text := strings.ToLower(err.Error())
	for _, p := range apiKeyPatterns {
		if strings.Contains(text, p) {
			return store.ErrorKindAPIKey
		}
	}
	return store.ErrorKindUnknown
}
