// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/cleanllm/internal/config"
	"github.com/jeranaias/cleanllm/internal/engine"
	"github.com/jeranaias/cleanllm/internal/logging"
	"github.com/jeranaias/cleanllm/internal/model"
	"github.com/jeranaias/cleanllm/internal/session"
	"github.com/jeranaias/cleanllm/internal/storage"
)

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Options configures an Orchestrator.
type Options struct {
	Config  *config.Config
	Backend engine.Backend
	Store   *storage.ConversationStore
	Logger  *slog.Logger
}

// Orchestrator drives engine loading, session binding and generation.
type Orchestrator struct {
	cfg    *config.Config
	store  *storage.ConversationStore
	logger *slog.Logger
	events *eventQueue

	backend engine.Backend
	loader  *engine.Loader
	binder  atomic.Pointer[session.Binder]

	startOnce sync.Once
	ready     chan struct{}
	initDone  chan struct{}
	initStop  context.CancelFunc

	// busy is the single-flight guard.
	busy atomic.Bool

	mu        sync.Mutex
	cancelGen context.CancelFunc
	closing   bool
	genWG     sync.WaitGroup

	unsubscribe  func()
	shutdownOnce sync.Once
	shutdownDone chan struct{}
	shutdownErr  error
}

// New creates an orchestrator. Nothing is loaded until Start.
func New(opts Options) (*Orchestrator, error) {
	if opts.Config == nil {
		return nil, errors.New("core: config is required")
	}
	if opts.Backend == nil {
		return nil, errors.New("core: backend is required")
	}
	if opts.Store == nil {
		return nil, errors.New("core: store is required")
	}

	o := &Orchestrator{
		cfg:          opts.Config,
		store:        opts.Store,
		logger:       logging.Component(opts.Logger, "core"),
		events:       newEventQueue(),
		backend:      opts.Backend,
		ready:        make(chan struct{}),
		initDone:     make(chan struct{}),
		shutdownDone: make(chan struct{}),
	}

	cfg := opts.Config
	o.loader = engine.NewLoader(opts.Backend, engine.LoadOptions{
		ModelPath: cfg.ModelArtifact(),
		Context: engine.ContextOptions{
			Size:      cfg.Engine.ContextSize,
			BatchSize: cfg.Engine.BatchSize,
			Threads:   cfg.Engine.Threads,
		},
		ForceCPU:       cfg.Engine.ForceCPU,
		AttemptTimeout: cfg.LoadTimeout(),
		Logger:         logging.Component(opts.Logger, "engine"),
	}, o.onEngineState)

	o.store.SetDeleteHook(func(id string) {
		if b := o.binder.Load(); b != nil && b.ClearIf(id) {
			o.logger.Debug("cleared binding of deleted conversation", "conversation", id)
		}
	})
	o.unsubscribe = o.store.Subscribe(func(s []model.Summary) {
		o.events.push(Event{Kind: EventHistory, History: s})
	})
	return o, nil
}

// Start ensures a conversation exists and begins loading the engine in the
// background. Only the first call has any effect.
func (o *Orchestrator) Start(ctx context.Context) error {
	var err error
	o.startOnce.Do(func() {
		err = o.ensureConversation()

		loadCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		o.initStop = cancel
		go func() {
			defer close(o.initDone)
			defer cancel()
			if _, lerr := o.loader.Initialize(loadCtx); lerr != nil {
				o.logger.Error("engine unavailable, running degraded", "error", lerr)
			}
		}()
	})
	return err
}

// ensureConversation creates the first conversation when the store is empty.
func (o *Orchestrator) ensureConversation() error {
	list, err := o.store.List()
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	if len(list) > 0 {
		return nil
	}
	if _, err := o.store.Create(); err != nil {
		return fmt.Errorf("create initial conversation: %w", err)
	}
	return nil
}

// onEngineState runs for every loader transition.
func (o *Orchestrator) onEngineState(s engine.State) {
	if s == engine.StateReady {
		o.binder.Store(session.NewBinder(o.loader.Handle().Sequence(), logging.Component(o.logger, "session")))
		o.logger.Info("engine ready",
			"backend", o.backend.Name(),
			"outcome", o.loader.Outcome().String(),
			"context", o.loader.Handle().Capacity())
	}
	o.events.push(Event{Kind: EventEngine, Text: s.String()})
	if s.Terminal() {
		close(o.ready)
	}
}

// Events returns the event channel. It is closed by Shutdown after the
// remaining events have been delivered.
func (o *Orchestrator) Events() <-chan Event {
	return o.events.out
}

// Ready is closed once engine loading has finished, successfully or not.
// Check EngineState for the result.
func (o *Orchestrator) Ready() <-chan struct{} {
	return o.ready
}

// EngineState returns the current engine state.
func (o *Orchestrator) EngineState() engine.State {
	return o.loader.State()
}

// LoadOutcome returns how the engine was loaded. Meaningful once Ready is closed.
func (o *Orchestrator) LoadOutcome() engine.LoadOutcome {
	return o.loader.Outcome()
}

// Capacity returns the context capacity in tokens, or 0 before Ready.
func (o *Orchestrator) Capacity() int {
	if h := o.loader.Handle(); h != nil {
		return h.Capacity()
	}
	return 0
}

// ModelName returns the loaded model's name, or "" before Ready.
func (o *Orchestrator) ModelName() string {
	if h := o.loader.Handle(); h != nil {
		return h.Model.Name()
	}
	return ""
}

// Busy reports whether a generation is in flight.
func (o *Orchestrator) Busy() bool {
	return o.busy.Load()
}

// =============================================================================
// CONVERSATION REQUESTS
// =============================================================================

// GetHistory returns the conversation listing, most recent first.
func (o *Orchestrator) GetHistory() ([]model.Summary, error) {
	return o.store.List()
}

// CreateConversation creates and persists an empty conversation.
func (o *Orchestrator) CreateConversation() (*model.Conversation, error) {
	return o.store.Create()
}

// LoadConversation returns a stored conversation.
func (o *Orchestrator) LoadConversation(id string) (*model.Conversation, error) {
	return o.store.Load(id)
}

// RenameConversation changes a conversation's title.
func (o *Orchestrator) RenameConversation(id, title string) error {
	return o.store.Rename(id, title)
}

// DeleteConversation removes a conversation, clearing the binding if it was
// bound, and returns the updated listing.
func (o *Orchestrator) DeleteConversation(id string) ([]model.Summary, error) {
	if err := o.store.Delete(id); err != nil {
		return nil, err
	}
	return o.store.List()
}

// ExportConversation renders a conversation as markdown, json or yaml.
func (o *Orchestrator) ExportConversation(id, format string) ([]byte, error) {
	return o.store.Export(id, format)
}

// =============================================================================
// SHUTDOWN
// =============================================================================

// Shutdown stops any generation, releases the engine in dependency order,
// closes the store and finally the event channel. Every call waits for the
// same teardown; ctx bounds only the caller's wait.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.shutdownOnce.Do(func() {
		go func() {
			o.shutdownErr = o.teardown()
			close(o.shutdownDone)
		}()
	})
	select {
	case <-o.shutdownDone:
		return o.shutdownErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) teardown() error {
	timeout := o.cfg.ShutdownTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	o.mu.Lock()
	o.closing = true
	cancel := o.cancelGen
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	var errs []error

	genDone := make(chan struct{})
	go func() {
		o.genWG.Wait()
		close(genDone)
	}()
	select {
	case <-genDone:
	case <-deadline.C:
		errs = append(errs, errors.New("timed out waiting for generation to stop"))
	}

	started := false
	o.startOnce.Do(func() {}) // a later Start becomes a no-op
	if o.initStop != nil {
		started = true
		o.initStop()
		select {
		case <-o.initDone:
		case <-deadline.C:
			errs = append(errs, errors.New("timed out waiting for engine load to stop"))
		}
	}

	// Dispose in dependency order: session, then context, model, backend.
	if b := o.binder.Load(); b != nil {
		b.Close()
	}
	if h := o.loader.Handle(); h != nil {
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
	} else if !started {
		if err := o.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close backend: %w", err))
		}
	}

	o.unsubscribe()
	if err := o.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	o.events.close()
	err := errors.Join(errs...)
	if err != nil {
		o.logger.Warn("shutdown finished with errors", "error", err)
	} else {
		o.logger.Debug("shutdown complete")
	}
	return err
}
