// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
)

// GPULayersAll requests that every layer be offloaded to the GPU.
const GPULayersAll = -1

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrLoadFailed means both the GPU and the CPU load attempts failed.
	ErrLoadFailed = errors.New("engine load failed")

	// ErrStreaming wraps failures raised while a response is being produced.
	ErrStreaming = errors.New("streaming failure")

	// ErrContextExceeded means the session would overflow the context capacity.
	ErrContextExceeded = errors.New("context window exceeded")

	// ErrUnavailable means the backend is not compiled in or cannot run here.
	ErrUnavailable = errors.New("backend unavailable")
)

// =============================================================================
// BACKEND CONTRACTS
// =============================================================================

// Message is one prior turn in the engine's native history format.
type Message struct {
	Role    string
	Content string
}

// Backend is an inference engine implementation.
type Backend interface {
	Name() string
	LoadModel(ctx context.Context, opts ModelOptions) (Model, error)
	Close() error
}

// ModelOptions selects the model artifact and the GPU offload.
type ModelOptions struct {
	// Path is the model artifact: a GGUF file or a registry model name.
	Path string
	// GPULayers is the number of layers to offload; GPULayersAll for all, 0 for CPU only.
	GPULayers int
}

// CPUOnly reports whether the options forbid GPU offload.
func (o ModelOptions) CPUOnly() bool {
	return o.GPULayers == 0
}

// Model is a loaded set of weights.
type Model interface {
	Name() string
	NewContext(ctx context.Context, opts ContextOptions) (Context, error)
	Close() error
}

// ContextOptions sizes the shared inference context.
type ContextOptions struct {
	// Size is the fixed capacity in tokens.
	Size      int
	BatchSize int
	Threads   int
}

// Context is the shared, fixed-capacity inference context.
type Context interface {
	Size() int
	Sequence() Sequence
	Close() error
}

// Sequence is the single reusable slot sessions are built on.
type Sequence interface {
	NewSession(ctx context.Context, opts SessionOptions) (Session, error)
}

// SessionOptions seeds a new session.
type SessionOptions struct {
	SystemPrompt string
	History      []Message
}

// PromptOptions carries per-request generation limits and sampling parameters.
type PromptOptions struct {
	MaxTokens     int
	Temperature   float64
	TopK          int
	TopP          float64
	RepeatPenalty float64
	Stop          []string
}

// Session is a conversational binding to the shared context.
//
// Prompt streams fragments to onToken in generation order and returns the
// full answer. A successful prompt appends the turn to the session's own
// history. When ctx is cancelled Prompt returns the text produced so far
// together with ctx.Err().
type Session interface {
	Prompt(ctx context.Context, text string, opts PromptOptions, onToken func(string)) (string, error)
	Dispose() error
}
