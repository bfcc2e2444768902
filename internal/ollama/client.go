// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the Ollama client.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is matches on error type so wrapped sentinels compare equal.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	if !ok {
		return false
	}
	return t.Type == e.Type && t.Type != ErrTypeUnknown
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeModelNotFound
	ErrTypeContextExceeded
	ErrTypeConnection
	ErrTypeInvalidResponse
)

// Sentinel errors for easy checking.
var (
	ErrNotRunning      = &ClientError{Type: ErrTypeNotRunning, Message: "Ollama is not running"}
	ErrTimeout         = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrModelNotFound   = &ClientError{Type: ErrTypeModelNotFound, Message: "model not found"}
	ErrContextExceeded = &ClientError{Type: ErrTypeContextExceeded, Message: "context window exceeded"}
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the Ollama client.
type ClientConfig struct {
	// BaseURL is the Ollama API base URL (default: http://127.0.0.1:11434)
	// Note: Uses explicit IPv4 address instead of localhost to avoid IPv6 resolution issues on Windows
	BaseURL string

	// Timeout for non-streaming requests (default: 30s). Model loads use
	// the caller's context instead.
	Timeout time.Duration

	// StartupTimeout bounds waiting for a spawned "ollama serve" (default: 10s).
	StartupTimeout time.Duration

	// PollInterval is the readiness polling rate while starting (default: 500ms).
	PollInterval time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:        "http://127.0.0.1:11434",
		Timeout:        30 * time.Second,
		StartupTimeout: 10 * time.Second,
		PollInterval:   500 * time.Millisecond,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the Ollama API.
//
// The Client is thread-safe for concurrent use.
//
// Example:
//
//	client := ollama.NewClient()
//	if err := client.EnsureRunning(ctx); err != nil {
//	    log.Fatal("Ollama not available:", err)
//	}
//	err := client.ChatStream(ctx, req, func(chunk ollama.StreamChunk) { ... })
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
	// streamClient has no overall timeout; streams are bounded by ctx.
	streamClient *http.Client
	logger       *slog.Logger
}

// NewClientWithConfig creates a new Ollama client with custom configuration.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.StartupTimeout == 0 {
		config.StartupTimeout = defaults.StartupTimeout
	}
	if config.PollInterval == 0 {
		config.PollInterval = defaults.PollInterval
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Client{
		config:       config,
		httpClient:   &http.Client{Timeout: config.Timeout},
		streamClient: &http.Client{},
		logger:       logger,
	}
}

// CloseIdleConnections releases pooled connections.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
	c.streamClient.CloseIdleConnections()
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckRunning verifies that Ollama is reachable and running.
func (c *Client) CheckRunning(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL, nil)
	if err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &ClientError{
			Type:    ErrTypeConnection,
			Message: "unexpected status from Ollama: " + resp.Status,
		}
	}
	return nil
}

// EnsureRunning checks if Ollama is running, and starts it if not.
// The actual start logic is platform-specific (see start_windows.go and start_unix.go).
func (c *Client) EnsureRunning(ctx context.Context) error {
	if err := c.CheckRunning(ctx); err == nil {
		return nil
	}
	return c.startOllamaProcess(ctx)
}

// =============================================================================
// MODEL OPERATIONS
// =============================================================================

// ShowModel retrieves information about a locally available model.
func (c *Client) ShowModel(ctx context.Context, name string) (*ShowModelResponse, error) {
	var result ShowModelResponse
	if err := c.postJSON(ctx, c.httpClient, "/api/show", ShowModelRequest{Model: name, Name: name}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Preload loads the model into memory with the given options and keeps it
// resident for keepAlive. Blocks until the load finishes; bound it with ctx.
func (c *Client) Preload(ctx context.Context, model string, opts *Options, keepAlive string) error {
	req := GenerateRequest{Model: model, Stream: false, Options: opts}
	if keepAlive != "" {
		req.KeepAlive = &keepAlive
	}
	var result GenerateResponse
	return c.postJSON(ctx, c.streamClient, "/api/generate", req, &result)
}

// Unload evicts the model from memory immediately.
func (c *Client) Unload(ctx context.Context, model string) error {
	zero := "0"
	var result GenerateResponse
	return c.postJSON(ctx, c.httpClient, "/api/generate", GenerateRequest{Model: model, KeepAlive: &zero}, &result)
}

// Running lists the models currently loaded (/api/ps).
func (c *Client) Running(ctx context.Context) ([]RunningModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/ps", nil)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, "failed to list running models")
	}
	var result PsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return result.Models, nil
}

// FindRunning returns the running entry for model, matching with or
// without an implicit ":latest" tag.
func (c *Client) FindRunning(ctx context.Context, model string) (RunningModel, bool, error) {
	running, err := c.Running(ctx)
	if err != nil {
		return RunningModel{}, false, err
	}
	for _, m := range running {
		if sameModel(m.Name, model) || sameModel(m.Model, model) {
			return m, true, nil
		}
	}
	return RunningModel{}, false, nil
}

func sameModel(a, b string) bool {
	norm := func(s string) string {
		if !strings.Contains(s, ":") {
			return s + ":latest"
		}
		return s
	}
	return a != "" && norm(a) == norm(b)
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// StreamCallback is called for each chunk received during streaming.
type StreamCallback func(chunk StreamChunk)

// ChatStream sends a streaming chat request and calls the callback for each chunk.
// The callback is called synchronously in the order chunks are received.
// Returns when streaming is complete, ctx is cancelled, or an error occurs.
func (c *Client) ChatStream(ctx context.Context, chatReq ChatRequest, callback StreamCallback) error {
	chatReq.Stream = true
	body, err := json.Marshal(chatReq)
	if err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	// SECURITY: TLS not required - Ollama runs locally on localhost (127.0.0.1) over HTTP
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp, "stream request failed")
	}

	reader := NewStreamReader(resp.Body)
	if err := reader.Process(ctx, callback); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// postJSON posts body to path and decodes a JSON response into out.
func (c *Client) postJSON(ctx context.Context, hc *http.Client, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return statusError(resp, "request to "+path+" failed")
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return nil
}

// transportError classifies a failed round trip.
func transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClientError{Type: ErrTypeTimeout, Message: "request timed out", Cause: err}
	}
	return &ClientError{Type: ErrTypeNotRunning, Message: "Ollama is not running", Cause: err}
}

// statusError converts a non-200 response into a ClientError, preferring
// Ollama's own error message.
func statusError(resp *http.Response, what string) error {
	var ollamaErr OllamaError
	msg := ""
	if err := json.NewDecoder(resp.Body).Decode(&ollamaErr); err == nil {
		msg = ollamaErr.Error
	}

	lower := strings.ToLower(msg)
	switch {
	case resp.StatusCode == http.StatusNotFound || strings.Contains(lower, "not found"):
		if msg == "" {
			msg = "model not found"
		}
		return &ClientError{Type: ErrTypeModelNotFound, Message: msg}
	case strings.Contains(lower, "context") && (strings.Contains(lower, "exceed") || strings.Contains(lower, "too long")):
		return &ClientError{Type: ErrTypeContextExceeded, Message: msg}
	case msg != "":
		return &ClientError{Type: ErrTypeInvalidResponse, Message: msg}
	default:
		return &ClientError{Type: ErrTypeInvalidResponse, Message: what + ": " + resp.Status}
	}
}

// IsModelNotFound checks if an error is a model not found error.
func IsModelNotFound(err error) bool {
	return errors.Is(err, ErrModelNotFound)
}

// IsNotRunning checks if an error indicates Ollama is not running.
func IsNotRunning(err error) bool {
	return errors.Is(err, ErrNotRunning)
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// drainAndClose lets the connection be reused.
func drainAndClose(r io.ReadCloser) {
	_, _ = io.Copy(io.Discard, r)
	r.Close()
}
