// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"context"
	"math/rand"
	"strings"
	"time"
)

// mockWords is the vocabulary the mock provider samples from.
var mockWords = []string{
	"the", "quick", "brown", "fox", "jumps", "over", "lazy", "dog",
	"stream", "token", "model", "reply", "chat", "context", "window",
	"sample", "draft", "answer", "detail", "thought",
}

// MockClient emits a deterministic-length stream of generated words without
// any network use. Word count comes from the config (default 30). Requires
// no API key or model id.
type MockClient struct {
	// delay between emitted words; tests set this to zero.
	delay time.Duration
}

// NewMockClient creates a new mock streaming client.
func NewMockClient() *MockClient {
	return &MockClient{delay: 30 * time.Millisecond}
}

// WithDelay overrides the per-word emission delay. Used by tests.
func (c *MockClient) WithDelay(d time.Duration) *MockClient {
	c.delay = d
	return c
}

// Name returns the provider name.
func (c *MockClient) Name() string { return "mock" }

// StreamChatCompletion implements StreamingClient.
func (c *MockClient) StreamChatCompletion(ctx context.Context, messages []ChatMessage, cfg StreamConfig, h StreamHandler) {
	wordCount := cfg.WordCount
	if wordCount <= 0 {
		wordCount = 30
	}

	h.start()

	var accumulated strings.Builder
	for i := 0; i < wordCount; i++ {
		select {
		case <-ctx.Done():
			h.fail(&StreamError{Partial: accumulated.String(), Err: ctx.Err()})
			return
		case <-time.After(c.delay):
		}

		word := mockWords[rand.Intn(len(mockWords))]
		if i > 0 {
			word = " " + word
		}
		accumulated.WriteString(word)
		h.delta(word, accumulated.String())
	}

	h.complete(accumulated.String())
}
