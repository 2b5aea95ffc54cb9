// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package event provides the publish/subscribe signals the UI layer observes.
package event

import (
	"log"
	"sync"
)

// =============================================================================
// SIGNALS
// =============================================================================

// Signal names the UI-observable events emitted by the core.
type Signal string

const (
	// SignalNewMessage fires when a message is appended to a chat.
	SignalNewMessage Signal = "new"

	// SignalStreamEnded fires when a streaming session completes normally.
	SignalStreamEnded Signal = "eof"

	// SignalStreamError fires when a streaming session ends in error.
	SignalStreamError Signal = "err"

	// SignalCountChanged fires when a chat's message count changes.
	SignalCountChanged Signal = "countChanged"
)

// Event is one published occurrence of a signal.
type Event struct {
	Signal Signal
	ChatID string
	// Payload carries signal-specific detail (message id, error text).
	Payload string
}

// =============================================================================
// BUS
// =============================================================================

// Handler receives published events.
type Handler func(Event)

// subscription delivers events to one handler through a dedicated goroutine,
// preserving FIFO order per subscriber. Cross-subscriber ordering is not
// guaranteed.
type subscription struct {
	id      int
	signals map[Signal]bool
	ch      chan Event
}

// Bus routes core events to registered subscribers.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]*subscription
	nextID int
	closed bool
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscription)}
}

// Subscribe registers a handler for the given signals (all signals when none
// are listed). Returns an id for Unsubscribe.
func (b *Bus) Subscribe(handler Handler, signals ...Signal) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscription{
		id:      b.nextID,
		signals: make(map[Signal]bool, len(signals)),
		ch:      make(chan Event, 64),
	}
	for _, s := range signals {
		sub.signals[s] = true
	}
	b.subs[sub.id] = sub

	go func() {
		for ev := range sub.ch {
			handler(ev)
		}
	}()

	return sub.id
}

// Unsubscribe removes a subscription and stops its delivery goroutine.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Publish delivers the event to every matching subscriber. Delivery is
// asynchronous; a subscriber whose buffer is full drops the event rather
// than blocking the publisher.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if len(sub.signals) > 0 && !sub.signals[ev.Signal] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			log.Printf("[EventBus] subscriber %d buffer full, dropping %s", sub.id, ev.Signal)
		}
	}
}

// Close stops all subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
