// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"
)

// =============================================================================
// STREAMING CLIENT CONTRACT
// =============================================================================

// StreamingClient opens a streaming completion request against one provider
// and reports the outcome exclusively through the handler: OnStart, zero or
// more OnDelta, then exactly one terminal OnComplete or OnError. The call
// blocks until the terminal event has been delivered, so callers normally run
// it on a worker goroutine.
//
// Implementations are stateless per call; one client instance may serve
// concurrent sessions.
type StreamingClient interface {
	// Name returns the provider name for logging.
	Name() string

	// StreamChatCompletion drives one streaming session to its terminal event.
	StreamChatCompletion(ctx context.Context, messages []ChatMessage, cfg StreamConfig, h StreamHandler)
}

// =============================================================================
// SHARED TRANSPORT
// =============================================================================

const (
	// defaultRequestTimeout bounds non-streaming requests.
	defaultRequestTimeout = 60 * time.Second

	// maxErrorBodySize caps how much of an upstream error body is retained.
	maxErrorBodySize = 64 * 1024

	// completionSettleDelay is how long a client waits between observing an
	// in-band finish marker and firing OnComplete, so a throttled downstream
	// consumer can flush its last buffered delta first.
	completionSettleDelay = 200 * time.Millisecond
)

// sharedStreamingClient is used for all streaming requests. No client-level
// timeout: stream lifetime is controlled through the request context.
// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
var sharedStreamingClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
}

// drainErrorBody reads an upstream error response body, capped.
func drainErrorBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return fmt.Sprintf("(unreadable body: %v)", err)
	}
	return string(body)
}

// validateConfig checks the fields every real provider requires. On failure
// it synthesizes the terminal error without invoking OnStart and returns
// false; the caller must bail out.
func validateConfig(cfg StreamConfig, h StreamHandler) bool {
	if cfg.APIKey == "" {
		h.fail(ErrMissingAPIKey)
		return false
	}
	if cfg.ModelID == "" {
		h.fail(ErrMissingModelID)
		return false
	}
	return true
}

// settleThenComplete waits the settle delay (unless the context is already
// cancelled) and fires OnComplete.
func settleThenComplete(ctx context.Context, delay time.Duration, h StreamHandler, final string) {
	if delay > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
	}
	h.complete(final)
}

// =============================================================================
// HANDLER DISPATCH
// =============================================================================

// Dispatcher is a single-goroutine run loop that serializes UI-visible work.
// All persisted message and catalog mutation funnels through one Dispatcher,
// mirroring a main-thread callback context.
type Dispatcher struct {
	work chan func()
	done chan struct{}
}

// NewDispatcher creates and starts a dispatcher.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		work: make(chan func(), 256),
		done: make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	for fn := range d.work {
		fn()
	}
	close(d.done)
}

// Async enqueues fn for execution on the dispatcher goroutine.
func (d *Dispatcher) Async(fn func()) {
	d.work <- fn
}

// Sync runs fn on the dispatcher goroutine and waits for it to finish.
func (d *Dispatcher) Sync(fn func()) {
	doneCh := make(chan struct{})
	d.work <- func() {
		fn()
		close(doneCh)
	}
	<-doneCh
}

// Close stops the dispatcher after draining queued work.
func (d *Dispatcher) Close() {
	close(d.work)
	<-d.done
}

// OnDispatcher wraps a handler so every callback is posted to d instead of
// running on the streaming goroutine. Posting order preserves the per-session
// event order: start, deltas in emission order, terminal event.
func OnDispatcher(d *Dispatcher, h StreamHandler) StreamHandler {
	return StreamHandler{
		OnStart: func() {
			d.Async(func() { h.start() })
		},
		OnDelta: func(delta, accumulated string) {
			d.Async(func() { h.delta(delta, accumulated) })
		},
		OnComplete: func(final string) {
			// Sync so StreamChatCompletion does not return until the
			// terminal event has been observably applied.
			d.Sync(func() { h.complete(final) })
		},
		OnError: func(err error) {
			d.Sync(func() { h.fail(err) })
		},
	}
}
