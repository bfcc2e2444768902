// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine abstracts the local inference engine and brings it online.
//
// A Backend loads a Model; a Model creates one fixed-capacity Context; the
// Context exposes a single reusable Sequence from which conversational
// Sessions are built. Only Sessions are cheap; everything above them is
// created once per process by the Loader.
//
// # Loading
//
// LoadWithFallback tries maximal GPU offload first and, on any failure,
// retries the same model CPU-only. The outcome is reported explicitly:
//
//	handle, outcome, err := engine.LoadWithFallback(ctx, backend, opts, observe)
//	switch outcome {
//	case engine.OutcomeGPU, engine.OutcomeCPUFallback:
//	    // handle is ready
//	case engine.OutcomeBothFailed:
//	    // errors.Is(err, engine.ErrLoadFailed)
//	}
//
// Loader wraps this in a sync.Once and tracks the process-wide State.
package engine
