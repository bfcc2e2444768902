// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
package ollama

import "time"

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Message represents a chat message in the conversation.
type Message struct {
	Role    string `json:"role"`    // "system", "user", "assistant"
	Content string `json:"content"` // The message content
}

// ChatRequest is the request body for /api/chat endpoint.
type ChatRequest struct {
	Model     string    `json:"model"`                // Model name (e.g., "llama3.2:3b")
	Messages  []Message `json:"messages"`             // Conversation history
	Stream    bool      `json:"stream"`               // Enable streaming
	Options   *Options  `json:"options,omitempty"`    // Model parameters
	KeepAlive string    `json:"keep_alive,omitempty"` // How long the model stays loaded
}

// Options contains model parameters for inference.
type Options struct {
	// Sampling parameters
	Temperature   float64 `json:"temperature,omitempty"`    // 0.0-2.0
	TopK          int     `json:"top_k,omitempty"`          // Default 40
	TopP          float64 `json:"top_p,omitempty"`          // 0.0-1.0
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"` // Default 1.1

	// Context parameters
	NumCtx     int `json:"num_ctx,omitempty"`     // Context window size
	NumPredict int `json:"num_predict,omitempty"` // Max tokens to generate

	// Performance parameters. NumGPU is a pointer because 0 (CPU only)
	// must be sent explicitly.
	NumGPU    *int `json:"num_gpu,omitempty"`
	NumThread int  `json:"num_thread,omitempty"`
	NumBatch  int  `json:"num_batch,omitempty"`

	// Stopping
	Stop []string `json:"stop,omitempty"`
}

// GenerateRequest is the request body for /api/generate endpoint.
// An empty prompt only loads (or, with keep_alive 0, unloads) the model.
type GenerateRequest struct {
	Model     string   `json:"model"`
	Prompt    string   `json:"prompt"`
	Stream    bool     `json:"stream"`
	Options   *Options `json:"options,omitempty"`
	KeepAlive *string  `json:"keep_alive,omitempty"`
}

// ShowModelRequest is the request for /api/show endpoint.
type ShowModelRequest struct {
	Model string `json:"model"`
	Name  string `json:"name,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// GenerateResponse is the response from /api/generate endpoint.
type GenerateResponse struct {
	Model      string    `json:"model"`
	CreatedAt  time.Time `json:"created_at"`
	Response   string    `json:"response"`
	Done       bool      `json:"done"`
	DoneReason string    `json:"done_reason,omitempty"`
}

// ShowModelResponse is the response from /api/show endpoint.
type ShowModelResponse struct {
	Template   string       `json:"template"`
	Parameters string       `json:"parameters"`
	Details    ModelDetails `json:"details"`
}

// ModelDetails contains detailed information about a model.
type ModelDetails struct {
	Format            string `json:"format"`
	Family            string `json:"family"`
	ParameterSize     string `json:"parameter_size"`
	QuantizationLevel string `json:"quantization_level"`
}

// RunningModel is an entry of /api/ps.
type RunningModel struct {
	Name      string    `json:"name"`
	Model     string    `json:"model"`
	Size      int64     `json:"size"`
	SizeVRAM  int64     `json:"size_vram"`
	ExpiresAt time.Time `json:"expires_at"`
}

// OnGPU reports whether any part of the model is resident in VRAM.
func (m RunningModel) OnGPU() bool {
	return m.SizeVRAM > 0
}

// PsResponse is the response from /api/ps endpoint.
type PsResponse struct {
	Models []RunningModel `json:"models"`
}

// =============================================================================
// STREAMING TYPES
// =============================================================================

// StreamChunk represents a single chunk from streaming response.
type StreamChunk struct {
	// Content from this chunk (message.content)
	Content string

	// Set on the final chunk
	Done               bool
	DoneReason         string
	TotalDuration      time.Duration
	PromptEvalDuration time.Duration
	EvalDuration       time.Duration
	PromptTokens       int
	CompletionTokens   int

	Model string
}

// =============================================================================
// ERROR TYPES
// =============================================================================

// OllamaError represents an error from the Ollama API.
type OllamaError struct {
	Error string `json:"error"`
}

// =============================================================================
// HELPER METHODS
// =============================================================================

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}

// intPtr returns a pointer to n.
func intPtr(n int) *int {
	return &n
}
