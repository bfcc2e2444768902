// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package enginetest provides a scriptable in-memory engine.Backend for tests.
package enginetest

import (
	"context"
	"strings"
	"sync"

	"github.com/jeranaias/cleanllm/internal/engine"
)

// PromptCall describes one Session.Prompt invocation.
type PromptCall struct {
	Text         string
	SystemPrompt string
	History      []engine.Message
	Options      engine.PromptOptions
}

// Reply scripts the answer to a prompt.
type Reply struct {
	Tokens []string
	// Err is returned after Tokens have been streamed.
	Err error
	// Hold, when non-nil, blocks after Tokens until closed or ctx is done.
	Hold <-chan struct{}
	// Panic, when non-nil, panics inside Prompt.
	Panic any
}

// Backend is a fake engine.Backend.
type Backend struct {
	// GPUErr fails GPU load attempts; CPUErr fails CPU-only attempts.
	GPUErr error
	CPUErr error
	// ContextErr fails context creation.
	ContextErr error
	// Script produces the reply for each prompt. Defaults to echoing the
	// prompt word by word.
	Script func(PromptCall) Reply
	// Capacity overrides the context size reported by Context.Size.
	Capacity int
	// OnSession, when set, runs at the start of every NewSession call.
	OnSession func(engine.SessionOptions)

	mu       sync.Mutex
	loads    []engine.ModelOptions
	sessions []*Session
	prompts  []PromptCall
	closed   bool
	model    *Model
	context  *Context
}

// Name implements engine.Backend.
func (b *Backend) Name() string { return "fake" }

// LoadModel implements engine.Backend.
func (b *Backend) LoadModel(ctx context.Context, opts engine.ModelOptions) (engine.Model, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loads = append(b.loads, opts)
	if opts.CPUOnly() && b.CPUErr != nil {
		return nil, b.CPUErr
	}
	if !opts.CPUOnly() && b.GPUErr != nil {
		return nil, b.GPUErr
	}
	b.model = &Model{backend: b, name: opts.Path}
	return b.model, nil
}

// Close implements engine.Backend.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Loads returns the model options of every load attempt.
func (b *Backend) Loads() []engine.ModelOptions {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]engine.ModelOptions(nil), b.loads...)
}

// Sessions returns every session built so far.
func (b *Backend) Sessions() []*Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Session(nil), b.sessions...)
}

// Prompts returns every prompt received so far.
func (b *Backend) Prompts() []PromptCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]PromptCall(nil), b.prompts...)
}

// Closed reports whether Close was called.
func (b *Backend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// LoadedModel returns the last model loaded, if any.
func (b *Backend) LoadedModel() *Model {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.model
}

// LoadedContext returns the last context created, if any.
func (b *Backend) LoadedContext() *Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.context
}

// =============================================================================
// MODEL / CONTEXT / SEQUENCE
// =============================================================================

// Model is a fake engine.Model.
type Model struct {
	backend *Backend
	name    string

	mu     sync.Mutex
	closed bool
}

func (m *Model) Name() string { return m.name }

func (m *Model) NewContext(ctx context.Context, opts engine.ContextOptions) (engine.Context, error) {
	b := m.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ContextErr != nil {
		return nil, b.ContextErr
	}
	size := opts.Size
	if b.Capacity > 0 {
		size = b.Capacity
	}
	b.context = &Context{backend: b, size: size}
	return b.context, nil
}

func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *Model) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Context is a fake engine.Context whose Sequence is itself.
type Context struct {
	backend *Backend
	size    int

	mu     sync.Mutex
	closed bool
}

func (c *Context) Size() int { return c.size }

func (c *Context) Sequence() engine.Sequence { return c }

func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close was called.
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// NewSession implements engine.Sequence.
func (c *Context) NewSession(ctx context.Context, opts engine.SessionOptions) (engine.Session, error) {
	if c.backend.OnSession != nil {
		c.backend.OnSession(opts)
	}
	s := &Session{
		backend: c.backend,
		system:  opts.SystemPrompt,
		history: append([]engine.Message(nil), opts.History...),
	}
	c.backend.mu.Lock()
	c.backend.sessions = append(c.backend.sessions, s)
	c.backend.mu.Unlock()
	return s, nil
}

// =============================================================================
// SESSION
// =============================================================================

// Session is a fake engine.Session.
type Session struct {
	backend *Backend
	system  string

	mu       sync.Mutex
	history  []engine.Message
	disposed bool
}

// Prompt implements engine.Session.
func (s *Session) Prompt(ctx context.Context, text string, opts engine.PromptOptions, onToken func(string)) (string, error) {
	s.mu.Lock()
	call := PromptCall{
		Text:         text,
		SystemPrompt: s.system,
		History:      append([]engine.Message(nil), s.history...),
		Options:      opts,
	}
	s.mu.Unlock()

	b := s.backend
	b.mu.Lock()
	b.prompts = append(b.prompts, call)
	script := b.Script
	b.mu.Unlock()

	reply := Echo(call)
	if script != nil {
		reply = script(call)
	}
	if reply.Panic != nil {
		panic(reply.Panic)
	}

	var out strings.Builder
	for _, tok := range reply.Tokens {
		if err := ctx.Err(); err != nil {
			return out.String(), err
		}
		out.WriteString(tok)
		onToken(tok)
	}
	if reply.Hold != nil {
		select {
		case <-reply.Hold:
		case <-ctx.Done():
			return out.String(), ctx.Err()
		}
	}
	if reply.Err != nil {
		return out.String(), reply.Err
	}

	s.mu.Lock()
	s.history = append(s.history,
		engine.Message{Role: "user", Content: text},
		engine.Message{Role: "assistant", Content: out.String()},
	)
	s.mu.Unlock()
	return out.String(), nil
}

// Dispose implements engine.Session.
func (s *Session) Dispose() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
	return nil
}

// Disposed reports whether Dispose was called.
func (s *Session) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// History returns the session's accumulated turns.
func (s *Session) History() []engine.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.Message(nil), s.history...)
}

// SystemPrompt returns the prompt the session was seeded with.
func (s *Session) SystemPrompt() string { return s.system }

// Echo replies with the prompt split into word tokens.
func Echo(call PromptCall) Reply {
	var toks []string
	for i, w := range strings.Fields(call.Text) {
		if i > 0 {
			w = " " + w
		}
		toks = append(toks, w)
	}
	return Reply{Tokens: toks}
}
