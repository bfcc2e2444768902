// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/jeranaias/cleanllm/internal/budget"
	"github.com/jeranaias/cleanllm/internal/engine"
	"github.com/jeranaias/cleanllm/internal/model"
	"github.com/jeranaias/cleanllm/internal/session"
	"github.com/jeranaias/cleanllm/internal/storage"
	"github.com/jeranaias/cleanllm/internal/util"
)

// =============================================================================
// GENERATION REQUESTS
// =============================================================================

// StartGeneration sends prompt to the conversation and returns immediately.
// Progress arrives on Events; every call ends with exactly one done event.
func (o *Orchestrator) StartGeneration(conversationID, prompt string) {
	ctx, cancel, binder, err := o.acquire(prompt)
	if err != nil {
		o.logger.Debug("generation rejected", "conversation", conversationID, "reason", err)
		o.events.push(Event{Kind: EventDone})
		return
	}
	go o.run(ctx, cancel, binder, conversationID, prompt)
}

// StopGeneration cancels the in-flight generation, if any. The text produced
// so far is kept as a partial answer.
func (o *Orchestrator) StopGeneration() {
	o.mu.Lock()
	cancel := o.cancelGen
	o.mu.Unlock()
	if cancel != nil {
		o.logger.Debug("generation stop requested")
		cancel()
	}
}

// acquire performs the admission checks, takes the single-flight guard and
// registers the generation's cancel func.
func (o *Orchestrator) acquire(prompt string) (context.Context, context.CancelFunc, *session.Binder, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, nil, nil, ErrEmptyPrompt
	}
	binder := o.binder.Load()
	if o.loader.State() != engine.StateReady || binder == nil {
		return nil, nil, nil, ErrNotReady
	}
	if !o.busy.CompareAndSwap(false, true) {
		return nil, nil, nil, ErrBusy
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closing {
		o.busy.Store(false)
		return nil, nil, nil, ErrNotReady
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.cancelGen = cancel
	o.genWG.Add(1)
	return ctx, cancel, binder, nil
}

// =============================================================================
// PIPELINE
// =============================================================================

// run executes one accepted generation.
func (o *Orchestrator) run(ctx context.Context, cancel context.CancelFunc, binder *session.Binder, id, prompt string) {
	started := time.Now()
	logger := o.logger.With("conversation", id)

	defer func() {
		// RELIABILITY: a panicking backend must not take the process down
		if r := recover(); r != nil {
			logger.Error("generation panic", "panic", r, "stack", string(debug.Stack()))
			binder.ClearIf(id)
			o.emitError(id, fmt.Errorf("%w: %v", engine.ErrStreaming, r))
		}

		cancel()
		o.mu.Lock()
		o.cancelGen = nil
		o.mu.Unlock()

		o.busy.Store(false)
		o.genWG.Done()
		o.events.push(Event{Kind: EventDone, ConversationID: id})
	}()

	conv, err := o.store.Load(id)
	if err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) {
			logger.Debug("conversation not found, aborting generation")
			return
		}
		o.emitError(id, fmt.Errorf("failed to load conversation: %w", err))
		return
	}

	cfg := o.cfg
	plan := budget.Compute(conv.Messages, util.RuneLen(prompt), budget.Params{
		Capacity:        o.loader.Handle().Capacity(),
		CharsPerToken:   cfg.Budget.CharsPerToken,
		HistoryFraction: cfg.Budget.HistoryFraction,
		AnswerMargin:    cfg.Budget.AnswerMargin,
		MinAnswer:       cfg.Budget.MinAnswer,
	})
	if dropped := plan.Dropped(len(conv.Messages)); dropped > 0 {
		logger.Debug("history trimmed", "dropped", dropped, "kept", len(plan.History), "chars", plan.CharsUsed)
	}

	rebinds := binder.Rebinds()
	sess, err := binder.EnsureBound(ctx, id, plan.History, cfg.Generation.SystemPrompt)
	if err != nil {
		o.emitError(id, fmt.Errorf("%w: %w", engine.ErrStreaming, err))
		return
	}

	// The user turn is durable before any token is generated. It is applied
	// to a fresh copy so a concurrent rename or delete is not undone.
	_, err = o.store.Update(id, func(c *model.Conversation) error {
		if c.UserTurns() == 0 {
			if title := util.MakeTitle(prompt, cfg.Generation.TitleMaxWidth); title != "" {
				c.Title = title
			}
		}
		c.Append(model.NewUserMessage(prompt))
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) {
			binder.ClearIf(id)
			logger.Debug("conversation deleted before prompting, aborting generation")
			return
		}
		o.emitError(id, fmt.Errorf("failed to save conversation: %w", err))
		return
	}

	opts := engine.PromptOptions{
		MaxTokens:     plan.MaxAnswerTokens,
		Temperature:   cfg.Generation.Temperature,
		TopK:          cfg.Generation.TopK,
		TopP:          cfg.Generation.TopP,
		RepeatPenalty: cfg.Generation.RepeatPenalty,
		Stop:          cfg.Generation.Stop,
	}
	var out strings.Builder
	onToken := func(tok string) {
		out.WriteString(tok)
		o.events.push(Event{Kind: EventToken, Text: tok, ConversationID: id})
	}
	answer, err := sess.Prompt(ctx, prompt, opts, onToken)

	// A reused session keeps every turn since it was bound, so it can outgrow
	// the window while the trimmed history still fits. Rebuild once, and only
	// if nothing was streamed yet.
	reused := binder.Rebinds() == rebinds
	if errors.Is(err, engine.ErrContextExceeded) && reused && out.Len() == 0 {
		logger.Debug("bound session exceeded the context, rebinding", "kept", len(plan.History))
		binder.ClearIf(id)
		if sess, err = binder.EnsureBound(ctx, id, plan.History, cfg.Generation.SystemPrompt); err == nil {
			answer, err = sess.Prompt(ctx, prompt, opts, onToken)
		}
	}
	if answer == "" {
		answer = out.String()
	}

	switch {
	case err == nil:
		o.persistAnswer(id, model.NewAssistantMessage(answer), logger)
		logger.Info("generation complete",
			"chars", util.RuneLen(answer),
			"max_tokens", plan.MaxAnswerTokens,
			"duration", time.Since(started).Round(time.Millisecond))

	case errors.Is(err, context.Canceled):
		// The session may hold turns the store does not; rebuild next time.
		binder.ClearIf(id)
		if answer != "" {
			msg := model.NewAssistantMessage(answer)
			msg.Partial = true
			o.persistAnswer(id, msg, logger)
		}
		logger.Info("generation stopped", "chars", util.RuneLen(answer))

	case errors.Is(err, engine.ErrContextExceeded):
		binder.ClearIf(id)
		o.emitError(id, err)

	default:
		binder.ClearIf(id)
		if !errors.Is(err, engine.ErrStreaming) {
			err = fmt.Errorf("%w: %w", engine.ErrStreaming, err)
		}
		o.emitError(id, err)
	}
}

// persistAnswer appends msg to the freshly loaded conversation. A
// conversation deleted during generation is left deleted.
func (o *Orchestrator) persistAnswer(id string, msg model.Message, logger *slog.Logger) {
	modelName := o.ModelName()
	_, err := o.store.Update(id, func(c *model.Conversation) error {
		c.Append(msg)
		c.Model = modelName
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrConversationNotFound):
		logger.Debug("conversation deleted during generation, answer discarded")
	default:
		o.emitError(id, fmt.Errorf("failed to save conversation: %w", err))
	}
}

func (o *Orchestrator) emitError(id string, err error) {
	o.logger.Warn("generation failed", "conversation", id, "error", err)
	o.events.push(Event{Kind: EventError, Text: err.Error(), ConversationID: id})
}
