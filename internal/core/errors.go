// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package core

import "errors"

// Soft rejection reasons. They are logged, never emitted as error events.
var (
	// ErrBusy means another generation is in flight.
	ErrBusy = errors.New("generation already in progress")

	// ErrNotReady means the engine is not loaded, failed to load, or the
	// orchestrator is shutting down.
	ErrNotReady = errors.New("engine not ready")

	// ErrEmptyPrompt means the prompt had no visible characters.
	ErrEmptyPrompt = errors.New("empty prompt")
)
