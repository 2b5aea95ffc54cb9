// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"fmt"

	"github.com/morganforge/polychat/internal/provider"
)

// Factory selects the streaming client for a provider type. Clients are
// stateless per call, so the factory builds each variant once and hands the
// same instance to every session.
type Factory struct {
	clients map[provider.Type]StreamingClient
}

// NewFactory creates a factory with all supported provider variants wired.
func NewFactory() *Factory {
	return &Factory{
		clients: map[provider.Type]StreamingClient{
			provider.TypeOpenAI:     NewOpenAIClient(),
			provider.TypeGemini:     NewGeminiClient(),
			provider.TypeOpenRouter: NewOpenRouterClient(),
			provider.TypeMock:       NewMockClient(),
		},
	}
}

// ClientFor returns the streaming client for the given provider type.
func (f *Factory) ClientFor(t provider.Type) (StreamingClient, error) {
	client, ok := f.clients[t]
	if !ok {
		return nil, fmt.Errorf("no streaming client for provider type %q", t)
	}
	return client, nil
}

// Register replaces the client for a provider type. Tests use this to swap
// in instances pointed at local fake servers.
func (f *Factory) Register(t provider.Type, client StreamingClient) {
	f.clients[t] = client
}
