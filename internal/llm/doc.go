// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package llm provides the streaming chat completion clients for every
// supported provider behind a single handler-based contract.
//
// # Key Types
//
//   - StreamingClient: the per-provider streaming contract
//   - StreamHandler: OnStart / OnDelta / OnComplete / OnError lifecycle
//   - StreamConfig: immutable per-call configuration snapshot
//   - Factory: provider-type keyed client selection
//   - Dispatcher: single-goroutine callback context for UI-visible mutation
//
// # Lifecycle
//
// Every call delivers events in strict order: OnStart exactly once, zero or
// more OnDelta, then exactly one terminal OnComplete or OnError. Config
// validation failures fire OnError without OnStart. A stream that ends
// without an explicit completion marker still completes with whatever text
// accumulated, so no session is ever left dangling.
//
// # Provider quirks
//
// Gemini reports cumulative text per chunk; GeminiClient derives the
// incremental delta itself and delays completion briefly so throttled
// consumers flush their last buffered delta first. OpenRouter has no web
// search support and logs-then-ignores the request.
package llm
