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
	"time"
)

// DefaultGeminiEndpoint is the base URL for the Gemini generateContent API.
const DefaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta"

// GeminiClient streams chat completions from the Google Gemini API.
//
// Gemini reports *cumulative* text per chunk rather than incremental deltas,
// so this client tracks how much of each chunk it has already emitted and
// derives the delta itself. Skipping that step double-emits text.
type GeminiClient struct {
	baseURL     string
	settleDelay time.Duration
}

// NewGeminiClient creates a new Gemini streaming client.
func NewGeminiClient() *GeminiClient {
	return &GeminiClient{
		baseURL:     DefaultGeminiEndpoint,
		settleDelay: completionSettleDelay,
	}
}

// WithSettleDelay overrides the completion settle delay. Used by tests.
func (c *GeminiClient) WithSettleDelay(d time.Duration) *GeminiClient {
	c.settleDelay = d
	return c
}

// Name returns the provider name.
func (c *GeminiClient) Name() string { return "gemini" }

// geminiRequest is the streamGenerateContent request body.
type geminiRequest struct {
	SystemInstruction *geminiContent        `json:"system_instruction,omitempty"`
	Contents          []geminiContent       `json:"contents"`
	GenerationConfig  *geminiGenerationConf `json:"generationConfig,omitempty"`
	Tools             []geminiTool          `json:"tools,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConf struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	PresencePenalty  *float64 `json:"presencePenalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequencyPenalty,omitempty"`
}

type geminiTool struct {
	GoogleSearch *struct{} `json:"google_search,omitempty"`
}

// geminiStreamChunk is one SSE data payload from streamGenerateContent.
type geminiStreamChunk struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// text joins the first candidate's parts. Gemini sends the cumulative
// response text here on every chunk.
func (g *geminiStreamChunk) text() string {
	if len(g.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range g.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

func (g *geminiStreamChunk) finishReason() string {
	if len(g.Candidates) == 0 {
		return ""
	}
	return g.Candidates[0].FinishReason
}

// StreamChatCompletion implements StreamingClient.
func (c *GeminiClient) StreamChatCompletion(ctx context.Context, messages []ChatMessage, cfg StreamConfig, h StreamHandler) {
	if !validateConfig(cfg, h) {
		return
	}

	body, err := json.Marshal(c.buildRequest(messages, cfg))
	if err != nil {
		h.fail(fmt.Errorf("failed to marshal request: %w", err))
		return
	}

	baseURL := c.baseURL
	if cfg.Endpoint != "" {
		baseURL = strings.TrimRight(cfg.Endpoint, "/")
	}
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", baseURL, cfg.ModelID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		h.fail(fmt.Errorf("failed to create request: %w", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", cfg.APIKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := sharedStreamingClient.Do(req)
	if err != nil {
		h.fail(&StreamError{Err: err})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		h.fail(&UpstreamError{Provider: "Gemini", Status: resp.StatusCode, Body: drainErrorBody(resp.Body)})
		return
	}

	h.start()
	c.processStream(ctx, resp.Body, h)
}

// buildRequest maps the unified message list to the Gemini shape. System
// messages are hoisted into the dedicated system instruction; the contents
// list is built only from non-system messages.
func (c *GeminiClient) buildRequest(messages []ChatMessage, cfg StreamConfig) geminiRequest {
	req := geminiRequest{}

	var systemParts []geminiPart
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			systemParts = append(systemParts, geminiPart{Text: m.Content})
		case RoleAssistant:
			req.Contents = append(req.Contents, geminiContent{
				Role:  "model",
				Parts: []geminiPart{{Text: m.Content}},
			})
		default:
			req.Contents = append(req.Contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: m.Content}},
			})
		}
	}
	if len(systemParts) > 0 {
		req.SystemInstruction = &geminiContent{Parts: systemParts}
	}

	s := cfg.Sampling
	if s.Temperature != nil || s.PresencePenalty != nil || s.FrequencyPenalty != nil {
		req.GenerationConfig = &geminiGenerationConf{
			Temperature:      s.Temperature,
			PresencePenalty:  s.PresencePenalty,
			FrequencyPenalty: s.FrequencyPenalty,
		}
	}

	if cfg.WebSearch {
		req.Tools = append(req.Tools, geminiTool{GoogleSearch: &struct{}{}})
	}

	return req
}

// processStream consumes SSE chunks, deriving incremental deltas from the
// cumulative chunk text.
func (c *GeminiClient) processStream(ctx context.Context, body io.Reader, h StreamHandler) {
	reader := newSSEReader(body)

	var accumulated strings.Builder
	lastProcessedTextLength := 0

	for {
		_, data, err := reader.readEvent()
		if err != nil {
			if err == io.EOF {
				if accumulated.Len() > 0 {
					// Fallback completion after EOF without a finish reason.
					settleThenComplete(ctx, c.settleDelay, h, accumulated.String())
				} else {
					h.fail(&StreamError{Err: ErrEmptyStream})
				}
				return
			}
			h.fail(&StreamError{Partial: accumulated.String(), Err: err})
			return
		}

		var chunk geminiStreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			continue
		}

		if chunk.Error.Message != "" {
			h.fail(&StreamError{
				Partial: accumulated.String(),
				Err:     fmt.Errorf("gemini error %d: %s", chunk.Error.Code, chunk.Error.Message),
			})
			return
		}

		cumulative := chunk.text()
		if len(cumulative) > lastProcessedTextLength {
			delta := cumulative[lastProcessedTextLength:]
			lastProcessedTextLength = len(cumulative)
			accumulated.WriteString(delta)
			h.delta(delta, accumulated.String())
		}

		if chunk.finishReason() != "" {
			// Wait before completing so a throttled consumer observes the
			// last delta's effects ahead of the terminal event.
			settleThenComplete(ctx, c.settleDelay, h, accumulated.String())
			return
		}
	}
}
