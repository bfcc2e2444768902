// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session binds the engine's single shared sequence to one
// conversation at a time.
//
// # Key Types
//
//   - Binder: owns the current engine.Session and the id it is bound to
//
// # Usage
//
//	b := session.NewBinder(handle.Sequence(), logger)
//	defer b.Close()
//
//	s, err := b.EnsureBound(ctx, conv.ID, trimmed, systemPrompt)
//
// Prompting the same conversation repeatedly reuses its session, so only the
// new turn is processed. Switching conversations disposes the old session and
// seeds a fresh one from the trimmed history. The shared context and sequence
// are never disposed by the binder.
package session
