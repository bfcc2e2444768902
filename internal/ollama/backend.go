// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jeranaias/cleanllm/internal/engine"
)

// gpuAllLayers is the num_gpu value Ollama reads as "offload everything".
const gpuAllLayers = 999

// unloadTimeout bounds the keep_alive=0 request made on Close.
const unloadTimeout = 5 * time.Second

// BackendConfig configures the Ollama engine backend.
type BackendConfig struct {
	// AutoStart spawns "ollama serve" when the server is not reachable.
	AutoStart bool
	// KeepAlive is how long Ollama keeps the model resident between requests.
	KeepAlive string
	Logger    *slog.Logger
}

// Backend adapts the Ollama server to engine.Backend.
type Backend struct {
	client *Client
	cfg    BackendConfig
	logger *slog.Logger
}

// NewBackend creates an Ollama-backed engine.
func NewBackend(client *Client, cfg BackendConfig) *Backend {
	logger := cfg.Logger
	if logger == nil {
		logger = client.logger
	}
	return &Backend{client: client, cfg: cfg, logger: logger}
}

// Name implements engine.Backend.
func (b *Backend) Name() string { return "ollama" }

// LoadModel makes sure the server is up and the model is pulled, then loads
// it with the requested offload. A GPU request that Ollama placed entirely
// in system memory is reported as a failure so the caller can fall back.
func (b *Backend) LoadModel(ctx context.Context, opts engine.ModelOptions) (engine.Model, error) {
	if opts.Path == "" {
		return nil, errors.New("no model configured")
	}

	if b.cfg.AutoStart {
		if err := b.client.EnsureRunning(ctx); err != nil {
			return nil, err
		}
	} else if err := b.client.CheckRunning(ctx); err != nil {
		if IsNotRunning(err) {
			return nil, fmt.Errorf("%w (start it with \"ollama serve\" or set engine.auto_start)", err)
		}
		return nil, err
	}

	if _, err := b.client.ShowModel(ctx, opts.Path); err != nil {
		if IsModelNotFound(err) {
			return nil, fmt.Errorf("model %q is not available locally (run: ollama pull %s): %w", opts.Path, opts.Path, err)
		}
		if IsTimeout(err) {
			return nil, fmt.Errorf("ollama did not describe model %q in time, the server may be overloaded: %w", opts.Path, err)
		}
		return nil, err
	}

	m := &Model{
		backend: b,
		name:    opts.Path,
		numGPU:  numGPU(opts),
	}
	if err := m.load(ctx, &Options{NumGPU: intPtr(m.numGPU)}); err != nil {
		return nil, err
	}
	return m, nil
}

// Close implements engine.Backend. A server spawned by EnsureRunning keeps
// running; it is shared with other Ollama clients.
func (b *Backend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

func numGPU(opts engine.ModelOptions) int {
	switch {
	case opts.CPUOnly():
		return 0
	case opts.GPULayers < 0:
		return gpuAllLayers
	default:
		return opts.GPULayers
	}
}

// =============================================================================
// MODEL
// =============================================================================

// Model is a model resident in the Ollama server.
type Model struct {
	backend *Backend
	name    string
	numGPU  int

	closeOnce sync.Once
}

// Name implements engine.Model.
func (m *Model) Name() string { return m.name }

// load preloads the model with opts and, for GPU loads, verifies that
// Ollama actually used VRAM.
func (m *Model) load(ctx context.Context, opts *Options) error {
	b := m.backend
	if err := b.client.Preload(ctx, m.name, opts, b.cfg.KeepAlive); err != nil {
		return fmt.Errorf("preload %s: %w", m.name, err)
	}
	if m.numGPU == 0 {
		return nil
	}

	running, ok, err := b.client.FindRunning(ctx, m.name)
	if err != nil {
		return fmt.Errorf("verify gpu offload: %w", err)
	}
	if !ok {
		return fmt.Errorf("model %s not resident after preload", m.name)
	}
	if !running.OnGPU() {
		return fmt.Errorf("model %s loaded without GPU offload (size_vram=0)", m.name)
	}
	b.logger.Debug("gpu offload verified", "model", m.name, "size_vram", running.SizeVRAM, "size", running.Size)
	return nil
}

// NewContext reloads the model with the context geometry so the first chat
// request does not pay for a runner restart.
func (m *Model) NewContext(ctx context.Context, opts engine.ContextOptions) (engine.Context, error) {
	if opts.Size <= 0 {
		return nil, errors.New("context size must be positive")
	}
	base := Options{
		NumCtx:    opts.Size,
		NumBatch:  opts.BatchSize,
		NumThread: opts.Threads,
		NumGPU:    intPtr(m.numGPU),
	}
	if err := m.load(ctx, &base); err != nil {
		return nil, err
	}
	return &Context{model: m, size: opts.Size, base: base}, nil
}

// Close unloads the model from the server.
func (m *Model) Close() error {
	var err error
	m.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), unloadTimeout)
		defer cancel()
		err = m.backend.client.Unload(ctx, m.name)
	})
	return err
}

// =============================================================================
// CONTEXT / SEQUENCE
// =============================================================================

// Context is the fixed-capacity request geometry shared by every session.
// Ollama owns the actual KV cache, so the single sequence is the context itself.
type Context struct {
	model *Model
	size  int
	base  Options
}

// Size implements engine.Context.
func (c *Context) Size() int { return c.size }

// Sequence implements engine.Context.
func (c *Context) Sequence() engine.Sequence { return c }

// Close implements engine.Context.
func (c *Context) Close() error { return nil }

// NewSession implements engine.Sequence.
func (c *Context) NewSession(ctx context.Context, opts engine.SessionOptions) (engine.Session, error) {
	msgs := make([]Message, 0, len(opts.History)+1)
	if opts.SystemPrompt != "" {
		msgs = append(msgs, NewSystemMessage(opts.SystemPrompt))
	}
	for _, h := range opts.History {
		msgs = append(msgs, Message{Role: h.Role, Content: h.Content})
	}
	return &Session{ctx: c, messages: msgs}, nil
}

// =============================================================================
// SESSION
// =============================================================================

// Session holds a conversation's chat history and replays it on each turn.
type Session struct {
	ctx *Context

	mu       sync.Mutex
	messages []Message
	// used is the token count of the last full exchange as reported by Ollama.
	used     int
	disposed bool
}

// Prompt implements engine.Session.
func (s *Session) Prompt(ctx context.Context, text string, opts engine.PromptOptions, onToken func(string)) (string, error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: session disposed", engine.ErrStreaming)
	}
	// Ollama silently drops the oldest tokens on overflow; refuse instead so
	// the caller rebuilds from a trimmed history.
	if s.used > 0 && s.used+estimateTokens(text) >= s.ctx.size {
		s.mu.Unlock()
		return "", engine.ErrContextExceeded
	}
	msgs := make([]Message, len(s.messages), len(s.messages)+1)
	copy(msgs, s.messages)
	s.mu.Unlock()
	msgs = append(msgs, NewUserMessage(text))

	o := s.ctx.base
	o.NumPredict = opts.MaxTokens
	o.Temperature = opts.Temperature
	o.TopK = opts.TopK
	o.TopP = opts.TopP
	o.RepeatPenalty = opts.RepeatPenalty
	o.Stop = opts.Stop

	req := ChatRequest{
		Model:     s.ctx.model.name,
		Messages:  msgs,
		Options:   &o,
		KeepAlive: s.ctx.model.backend.cfg.KeepAlive,
	}

	var (
		out  strings.Builder
		last StreamChunk
	)
	err := s.ctx.model.backend.client.ChatStream(ctx, req, func(chunk StreamChunk) {
		if chunk.Content != "" {
			out.WriteString(chunk.Content)
			onToken(chunk.Content)
		}
		if chunk.Done {
			last = chunk
		}
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out.String(), ctxErr
		}
		if errors.Is(err, ErrContextExceeded) {
			return out.String(), fmt.Errorf("%w: %w", engine.ErrContextExceeded, err)
		}
		return out.String(), fmt.Errorf("%w: %w", engine.ErrStreaming, err)
	}

	answer := out.String()
	s.mu.Lock()
	s.messages = append(s.messages, NewUserMessage(text), NewAssistantMessage(answer))
	s.used = last.PromptTokens + last.CompletionTokens
	s.mu.Unlock()
	return answer, nil
}

// Dispose implements engine.Session.
func (s *Session) Dispose() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
	s.messages = nil
	return nil
}

// estimateTokens is a conservative token estimate for text not yet seen by
// the tokenizer.
func estimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 2) / 3
}
