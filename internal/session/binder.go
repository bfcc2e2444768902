// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jeranaias/cleanllm/internal/engine"
	"github.com/jeranaias/cleanllm/internal/model"
)

// ErrClosed is returned by EnsureBound after Close.
var ErrClosed = errors.New("session binder closed")

// =============================================================================
// BINDER
// =============================================================================

// Binder tracks which conversation the shared sequence is bound to.
// A non-nil session is always bound to exactly one conversation id.
type Binder struct {
	mu      sync.Mutex
	seq     engine.Sequence
	logger  *slog.Logger
	boundID string
	session engine.Session
	rebinds int
	closed  bool
}

// NewBinder creates an unbound binder over seq.
func NewBinder(seq engine.Sequence, logger *slog.Logger) *Binder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Binder{seq: seq, logger: logger}
}

// EnsureBound returns the session for conversationID, building a new one
// from history and systemPrompt when the binder is unbound or bound to a
// different conversation. The previous session is disposed first.
func (b *Binder) EnsureBound(ctx context.Context, conversationID string, history []model.Message, systemPrompt string) (engine.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if b.session != nil && b.boundID == conversationID {
		return b.session, nil
	}

	b.disposeLocked()

	s, err := b.seq.NewSession(ctx, engine.SessionOptions{
		SystemPrompt: systemPrompt,
		History:      toEngine(history),
	})
	if err != nil {
		return nil, fmt.Errorf("bind conversation %s: %w", conversationID, err)
	}
	b.session = s
	b.boundID = conversationID
	b.rebinds++
	b.logger.Debug("session bound", "conversation", conversationID, "history", len(history), "rebinds", b.rebinds)
	return s, nil
}

// Clear drops the current binding.
func (b *Binder) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disposeLocked()
}

// ClearIf drops the binding only when it is bound to id.
func (b *Binder) ClearIf(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil || b.boundID != id {
		return false
	}
	b.disposeLocked()
	return true
}

// BoundID returns the bound conversation id, or "" when unbound.
func (b *Binder) BoundID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.boundID
}

// Rebinds returns how many sessions have been built.
func (b *Binder) Rebinds() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rebinds
}

// Close disposes the current session and rejects further binds.
// Safe to call more than once.
func (b *Binder) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disposeLocked()
	b.closed = true
}

func (b *Binder) disposeLocked() {
	if b.session == nil {
		return
	}
	if err := b.session.Dispose(); err != nil {
		b.logger.Warn("dispose session", "conversation", b.boundID, "error", err)
	}
	b.session = nil
	b.boundID = ""
}

// toEngine maps stored messages to the engine's history format.
func toEngine(msgs []model.Message) []engine.Message {
	out := make([]engine.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, engine.Message{Role: m.Role.String(), Content: m.Content})
	}
	return out
}
