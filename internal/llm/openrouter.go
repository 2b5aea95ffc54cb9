// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
)

// DefaultOpenRouterEndpoint is the base URL for the OpenRouter API.
const DefaultOpenRouterEndpoint = "https://openrouter.ai/api/v1"

// OpenRouterClient streams chat completions from OpenRouter or any endpoint
// speaking the chat-completions SSE protocol.
type OpenRouterClient struct {
	baseURL  string
	siteURL  string
	siteName string
}

// NewOpenRouterClient creates a new OpenRouter streaming client.
func NewOpenRouterClient() *OpenRouterClient {
	return &OpenRouterClient{
		baseURL:  DefaultOpenRouterEndpoint,
		siteURL:  "https://polychat.local",
		siteName: "polychat",
	}
}

// Name returns the provider name.
func (c *OpenRouterClient) Name() string { return "openrouter" }

// openRouterRequest is the chat-completions request body.
type openRouterRequest struct {
	Model            string          `json:"model"`
	Messages         []openAIMessage `json:"messages"`
	Stream           bool            `json:"stream"`
	Temperature      *float64        `json:"temperature,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
}

// openRouterChunk is one SSE data payload from the stream.
type openRouterChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// StreamChatCompletion implements StreamingClient.
func (c *OpenRouterClient) StreamChatCompletion(ctx context.Context, messages []ChatMessage, cfg StreamConfig, h StreamHandler) {
	if !validateConfig(cfg, h) {
		return
	}

	if cfg.WebSearch {
		// OpenRouter has no grounding tool; the request is honored without it.
		log.Printf("[OpenRouter] web search requested but unsupported, ignoring")
	}

	reqBody := openRouterRequest{
		Model:            cfg.ModelID,
		Messages:         c.convertMessages(messages),
		Stream:           true,
		Temperature:      cfg.Sampling.Temperature,
		PresencePenalty:  cfg.Sampling.PresencePenalty,
		FrequencyPenalty: cfg.Sampling.FrequencyPenalty,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		h.fail(fmt.Errorf("failed to marshal request: %w", err))
		return
	}

	baseURL := c.baseURL
	if cfg.Endpoint != "" {
		baseURL = strings.TrimRight(cfg.Endpoint, "/")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		h.fail(fmt.Errorf("failed to create request: %w", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("HTTP-Referer", c.siteURL)
	req.Header.Set("X-Title", c.siteName)

	resp, err := sharedStreamingClient.Do(req)
	if err != nil {
		h.fail(&StreamError{Err: err})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		h.fail(&UpstreamError{Provider: "OpenRouter", Status: resp.StatusCode, Body: drainErrorBody(resp.Body)})
		return
	}

	h.start()
	c.processStream(resp.Body, h)
}

// processStream consumes SSE chunks until a non-null finish reason, the
// [DONE] sentinel, or EOF.
func (c *OpenRouterClient) processStream(body io.Reader, h StreamHandler) {
	reader := newSSEReader(body)
	var accumulated strings.Builder

	finish := func() {
		if accumulated.Len() > 0 {
			h.complete(accumulated.String())
		} else {
			h.fail(&StreamError{Err: ErrEmptyStream})
		}
	}

	for {
		_, data, err := reader.readEvent()
		if err != nil {
			if err == io.EOF {
				// Fallback completion when the stream ends silently.
				finish()
				return
			}
			h.fail(&StreamError{Partial: accumulated.String(), Err: err})
			return
		}

		if bytes.Equal(data, sseDoneSentinel) {
			finish()
			return
		}

		var chunk openRouterChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			continue
		}

		if chunk.Error.Message != "" {
			h.fail(&StreamError{Partial: accumulated.String(), Err: fmt.Errorf("%s", chunk.Error.Message)})
			return
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			accumulated.WriteString(choice.Delta.Content)
			h.delta(choice.Delta.Content, accumulated.String())
		}

		if choice.FinishReason != nil && *choice.FinishReason != "" {
			h.complete(accumulated.String())
			return
		}
	}
}

func (c *OpenRouterClient) convertMessages(messages []ChatMessage) []openAIMessage {
	result := make([]openAIMessage, len(messages))
	for i, m := range messages {
		result[i] = openAIMessage{Role: string(m.Role), Content: m.Content}
	}
	return result
}
