// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat turns one user send into persisted records and a live
// streaming session.
//
// # Key Types
//
//   - Orchestrator: persists the user/assistant message pair, opens the
//     stream, and folds throttled deltas into the assistant record
//   - session: per-send delta buffer, flush timer, and record ids
//   - TitleGenerator: one-shot title derivation over recent messages
//
// # Flow
//
// SendMessage persists both records before any network call, then hands a
// dispatcher-wrapped handler to the provider client. Deltas coalesce in the
// session buffer and flush on a trailing-edge timer whose interval scales
// with delivered volume. Terminal events flush first, so no received text is
// ever dropped, then finalize the assistant record and publish the matching
// bus signal. Message status only ever moves forward: a terminal status is
// never overwritten by a late callback.
package chat
