// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// HANDLE
// =============================================================================

// Handle owns the loaded model and its shared context.
type Handle struct {
	Backend Backend
	Model   Model
	Context Context
	Outcome LoadOutcome

	closeOnce sync.Once
	closeErr  error
}

// Sequence returns the shared sequence sessions are built from.
func (h *Handle) Sequence() Sequence {
	return h.Context.Sequence()
}

// Capacity returns the context capacity in tokens.
func (h *Handle) Capacity() int {
	return h.Context.Size()
}

// Close releases the context, then the model, then the backend. It is safe
// to call more than once. Sessions must be disposed by their owner first.
func (h *Handle) Close() error {
	if h == nil {
		return nil
	}
	h.closeOnce.Do(func() {
		var errs []error
		if h.Context != nil {
			if err := h.Context.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close context: %w", err))
			}
		}
		if h.Model != nil {
			if err := h.Model.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close model: %w", err))
			}
		}
		if h.Backend != nil {
			if err := h.Backend.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close backend: %w", err))
			}
		}
		h.closeErr = errors.Join(errs...)
	})
	return h.closeErr
}

// =============================================================================
// FALLBACK POLICY
// =============================================================================

// LoadOptions configures a load.
type LoadOptions struct {
	// ModelPath is the artifact handed to Backend.LoadModel on both attempts.
	ModelPath string
	Context   ContextOptions
	// ForceCPU skips the GPU attempt.
	ForceCPU bool
	// AttemptTimeout bounds each attempt (0 = unbounded).
	AttemptTimeout time.Duration
	Logger         *slog.Logger
}

// LoadWithFallback loads the model with maximal GPU offload and, on any
// failure, retries CPU-only with the same artifact. observe (optional) is
// told about each state transition. On OutcomeBothFailed the returned error
// wraps ErrLoadFailed and both causes; the backend is closed.
func LoadWithFallback(ctx context.Context, backend Backend, opts LoadOptions, observe func(State)) (*Handle, LoadOutcome, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	notify := func(s State) {
		if observe != nil {
			observe(s)
		}
	}

	var gpuErr error
	if !opts.ForceCPU {
		notify(StateLoadingGPU)
		h, err := attempt(ctx, backend, opts, GPULayersAll)
		if err == nil {
			h.Outcome = OutcomeGPU
			logger.Info("model loaded", "backend", backend.Name(), "outcome", OutcomeGPU, "capacity", h.Capacity())
			notify(StateReady)
			return h, OutcomeGPU, nil
		}
		gpuErr = err
		logger.Warn("gpu load failed, retrying on cpu", "backend", backend.Name(), "error", err)
	} else {
		gpuErr = errors.New("gpu attempt skipped (force_cpu)")
	}

	notify(StateLoadingCPU)
	h, err := attempt(ctx, backend, opts, 0)
	if err == nil {
		h.Outcome = OutcomeCPUFallback
		logger.Info("model loaded", "backend", backend.Name(), "outcome", OutcomeCPUFallback, "capacity", h.Capacity())
		notify(StateReady)
		return h, OutcomeCPUFallback, nil
	}
	logger.Error("cpu load failed", "backend", backend.Name(), "error", err)

	if cerr := backend.Close(); cerr != nil {
		logger.Debug("backend close after failed load", "error", cerr)
	}
	notify(StateFailed)
	return nil, OutcomeBothFailed, fmt.Errorf("%w: %w", ErrLoadFailed,
		errors.Join(fmt.Errorf("gpu: %w", gpuErr), fmt.Errorf("cpu: %w", err)))
}

// attempt loads the model and creates the shared context. The model is
// released if the context cannot be created.
func attempt(ctx context.Context, backend Backend, opts LoadOptions, gpuLayers int) (*Handle, error) {
	if opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.AttemptTimeout)
		defer cancel()
	}

	m, err := backend.LoadModel(ctx, ModelOptions{Path: opts.ModelPath, GPULayers: gpuLayers})
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	c, err := m.NewContext(ctx, opts.Context)
	if err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("create context: %w", err)
	}
	return &Handle{Backend: backend, Model: m, Context: c}, nil
}

// =============================================================================
// LOADER
// =============================================================================

// Loader brings the engine online exactly once and tracks its State.
type Loader struct {
	backend Backend
	opts    LoadOptions
	observe func(State)

	state atomic.Int32

	once    sync.Once
	handle  *Handle
	outcome LoadOutcome
	err     error
}

// NewLoader creates a loader. observe (optional) receives every transition.
func NewLoader(backend Backend, opts LoadOptions, observe func(State)) *Loader {
	return &Loader{backend: backend, opts: opts, observe: observe}
}

// Initialize loads the engine. Only the first call does any work; later
// calls return the first call's result.
func (l *Loader) Initialize(ctx context.Context) (*Handle, error) {
	l.once.Do(func() {
		// Terminal states are published only after the handle is stored.
		l.handle, l.outcome, l.err = LoadWithFallback(ctx, l.backend, l.opts, func(s State) {
			if !s.Terminal() {
				l.setState(s)
			}
		})
		if l.err != nil {
			l.setState(StateFailed)
		} else {
			l.setState(StateReady)
		}
	})
	return l.handle, l.err
}

func (l *Loader) setState(s State) {
	l.state.Store(int32(s))
	if l.observe != nil {
		l.observe(s)
	}
}

// State returns the current engine state.
func (l *Loader) State() State {
	return State(l.state.Load())
}

// Outcome returns the load outcome. Meaningful once State is terminal.
func (l *Loader) Outcome() LoadOutcome {
	return l.outcome
}

// Handle returns the loaded handle, or nil before Ready.
func (l *Loader) Handle() *Handle {
	if l.State() != StateReady {
		return nil
	}
	return l.handle
}
