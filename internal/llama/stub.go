// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !yzma

package llama

import (
	"context"
	"fmt"

	"github.com/jeranaias/cleanllm/internal/engine"
)

// Backend is the placeholder used when the native backend is not compiled in.
type Backend struct {
	cfg Config
}

// NewBackend returns a backend whose loads always fail.
func NewBackend(cfg Config) *Backend {
	return &Backend{cfg: cfg}
}

// Name returns the backend identifier.
func (b *Backend) Name() string { return Name }

// LoadModel always fails with engine.ErrUnavailable.
func (b *Backend) LoadModel(_ context.Context, opts engine.ModelOptions) (engine.Model, error) {
	b.cfg.logger().Warn("native backend not compiled in", "model", opts.Path, "build_tag", "yzma")
	return nil, fmt.Errorf("%w: rebuild with -tags yzma to use the llama.cpp backend", engine.ErrUnavailable)
}

// Close is a no-op.
func (b *Backend) Close() error { return nil }
