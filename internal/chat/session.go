// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"
	"time"
)

// =============================================================================
// THROTTLE TUNING
// =============================================================================

// Flush intervals scale with cumulative delivered volume: short replies feel
// instant, very long replies stop hammering the store on every chunk. The
// interval choice never affects the total delivered text, only its cadence.
const (
	flushIntervalShort  = 50 * time.Millisecond
	flushIntervalMedium = 150 * time.Millisecond
	flushIntervalLong   = 400 * time.Millisecond

	shortVolumeLimit  = 4 * 1024
	mediumVolumeLimit = 32 * 1024
)

// flushIntervalFor picks the flush interval for the given cumulative volume.
func flushIntervalFor(totalBytes int) time.Duration {
	switch {
	case totalBytes < shortVolumeLimit:
		return flushIntervalShort
	case totalBytes < mediumVolumeLimit:
		return flushIntervalMedium
	default:
		return flushIntervalLong
	}
}

// =============================================================================
// SESSION STATE
// =============================================================================

// session is the per-send state: the pending delta buffer, its flush timer,
// and the ids of the records this stream mutates. All fields are touched only
// from the dispatcher goroutine, so no locking is needed; isolation between
// concurrent sends comes from each send owning its own session keyed by a
// unique id in the registry.
type session struct {
	id          string
	chatID      string
	userMsgID   string
	assistantID string

	// buffer holds delta text received but not yet flushed into the
	// persisted assistant message.
	buffer strings.Builder

	// totalBytes counts all delta text seen, flushed or not. Drives the
	// volume-scaled flush interval.
	totalBytes int

	// flushPending is true while a trailing-edge flush timer is armed.
	flushPending bool

	timer *time.Timer

	started bool
}

// bufferDelta merges one delta into the pending buffer. No delta is ever
// dropped: within a throttle window deltas coalesce here until the next
// flush.
func (s *session) bufferDelta(delta string) {
	s.buffer.WriteString(delta)
	s.totalBytes += len(delta)
}

// takeBuffer drains and returns the pending buffer.
func (s *session) takeBuffer() string {
	text := s.buffer.String()
	s.buffer.Reset()
	return text
}

// stopTimer cancels a pending flush timer, if any.
func (s *session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.flushPending = false
}

// =============================================================================
// SESSION REGISTRY
// =============================================================================

// sessionRegistry maps live session ids to their state. Created on send,
// torn down on the terminal callback, so no stale buffer outlives its
// stream. Dispatcher-confined like the sessions themselves.
type sessionRegistry struct {
	sessions map[string]*session
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]*session)}
}

func (r *sessionRegistry) add(s *session) {
	r.sessions[s.id] = s
}

func (r *sessionRegistry) get(id string) *session {
	return r.sessions[id]
}

// remove tears down a session, cancelling any armed flush timer.
func (r *sessionRegistry) remove(id string) {
	if s, ok := r.sessions[id]; ok {
		s.stopTimer()
		delete(r.sessions, id)
	}
}

func (r *sessionRegistry) len() int {
	return len(r.sessions)
}
