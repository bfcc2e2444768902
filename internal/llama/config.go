// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llama

import "log/slog"

// Name is the backend identifier used in configuration.
const Name = "llama"

// gpuAllLayers is passed to llama.cpp when every layer should be offloaded.
const gpuAllLayers = 999

// Config configures the native backend.
type Config struct {
	// LibPath is the directory holding the llama.cpp shared libraries.
	LibPath string
	Logger  *slog.Logger
}

func (c Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Logger
}

// gpuLayers maps the engine's layer request to llama.cpp's n_gpu_layers.
func gpuLayers(n int) int32 {
	if n < 0 || n > gpuAllLayers {
		return gpuAllLayers
	}
	return int32(n)
}
