// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

// State is the lifecycle state of the process-wide engine.
type State int32

const (
	StateUninitialized State = iota
	StateLoadingGPU
	StateLoadingCPU
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoadingGPU:
		return "loading-gpu"
	case StateLoadingCPU:
		return "loading-cpu"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateReady || s == StateFailed
}

// LoadOutcome records which load path succeeded.
type LoadOutcome int

const (
	OutcomeGPU LoadOutcome = iota
	OutcomeCPUFallback
	OutcomeBothFailed
)

func (o LoadOutcome) String() string {
	switch o {
	case OutcomeGPU:
		return "gpu"
	case OutcomeCPUFallback:
		return "cpu-fallback"
	case OutcomeBothFailed:
		return "both-failed"
	default:
		return "unknown"
	}
}
