// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultOpenAIEndpoint is the base URL for the OpenAI Responses API.
const DefaultOpenAIEndpoint = "https://api.openai.com/v1"

// Responses API SSE event types we act on. Unknown events are skipped.
const (
	openAIEventDelta     = "response.output_text.delta"
	openAIEventCompleted = "response.completed"
	openAIEventFailed    = "response.failed"
	openAIEventError     = "error"
)

// OpenAIClient streams chat completions from the OpenAI Responses API or any
// endpoint speaking the same protocol.
type OpenAIClient struct {
	baseURL string
}

// NewOpenAIClient creates a new OpenAI streaming client.
func NewOpenAIClient() *OpenAIClient {
	return &OpenAIClient{baseURL: DefaultOpenAIEndpoint}
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string { return "openai" }

// openAIRequest is the Responses API request body.
type openAIRequest struct {
	Model       string          `json:"model"`
	Input       []openAIMessage `json:"input"`
	Stream      bool            `json:"stream"`
	Temperature *float64        `json:"temperature,omitempty"`
	Tools       []openAITool    `json:"tools,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAITool struct {
	Type              string `json:"type"`
	SearchContextSize string `json:"search_context_size,omitempty"`
}

// openAIStreamEvent is the union of the SSE payloads we care about.
type openAIStreamEvent struct {
	Type     string `json:"type"`
	Delta    string `json:"delta"`
	Response struct {
		Output []struct {
			Type    string `json:"type"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
	} `json:"response"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// StreamChatCompletion implements StreamingClient.
func (c *OpenAIClient) StreamChatCompletion(ctx context.Context, messages []ChatMessage, cfg StreamConfig, h StreamHandler) {
	if !validateConfig(cfg, h) {
		return
	}

	reqBody := openAIRequest{
		Model:       cfg.ModelID,
		Input:       c.convertMessages(messages),
		Stream:      true,
		Temperature: cfg.Sampling.Temperature,
	}
	if cfg.WebSearch {
		size := cfg.WebSearchContextSize
		if size == "" {
			size = WebSearchContextMedium
		}
		reqBody.Tools = append(reqBody.Tools, openAITool{
			Type:              "web_search",
			SearchContextSize: string(size),
		})
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

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		h.fail(fmt.Errorf("failed to create request: %w", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := sharedStreamingClient.Do(req)
	if err != nil {
		h.fail(&StreamError{Err: err})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		h.fail(&UpstreamError{Provider: "OpenAI", Status: resp.StatusCode, Body: drainErrorBody(resp.Body)})
		return
	}

	h.start()
	c.processStream(resp.Body, h)
}

// processStream consumes SSE events until a terminal event or EOF.
func (c *OpenAIClient) processStream(body io.Reader, h StreamHandler) {
	reader := newSSEReader(body)
	var accumulated strings.Builder

	for {
		eventType, data, err := reader.readEvent()
		if err != nil {
			if err == io.EOF {
				// Fallback completion: the stream ended without an explicit
				// completed event, but whatever text arrived is still valid.
				if accumulated.Len() > 0 {
					h.complete(accumulated.String())
				} else {
					h.fail(&StreamError{Err: ErrEmptyStream})
				}
				return
			}
			h.fail(&StreamError{Partial: accumulated.String(), Err: err})
			return
		}

		if bytes.Equal(data, sseDoneSentinel) {
			if accumulated.Len() > 0 {
				h.complete(accumulated.String())
			} else {
				h.fail(&StreamError{Err: ErrEmptyStream})
			}
			return
		}

		var event openAIStreamEvent
		if err := json.Unmarshal(data, &event); err != nil {
			// Skip malformed chunks.
			continue
		}
		if event.Type == "" {
			event.Type = eventType
		}

		switch event.Type {
		case openAIEventDelta:
			if event.Delta != "" {
				accumulated.WriteString(event.Delta)
				h.delta(event.Delta, accumulated.String())
			}
		case openAIEventCompleted:
			h.complete(accumulated.String())
			return
		case openAIEventFailed, openAIEventError:
			msg := event.Error.Message
			if msg == "" {
				msg = "response failed"
			}
			h.fail(&StreamError{Partial: accumulated.String(), Err: fmt.Errorf("%s", msg)})
			return
		}
	}
}

func (c *OpenAIClient) convertMessages(messages []ChatMessage) []openAIMessage {
	result := make([]openAIMessage, len(messages))
	for i, m := range messages {
		result[i] = openAIMessage{Role: string(m.Role), Content: m.Content}
	}
	return result
}
