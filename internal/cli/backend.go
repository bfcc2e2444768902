// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"log/slog"
	"strings"

	"github.com/jeranaias/cleanllm/internal/config"
	"github.com/jeranaias/cleanllm/internal/engine"
	"github.com/jeranaias/cleanllm/internal/llama"
	"github.com/jeranaias/cleanllm/internal/logging"
	"github.com/jeranaias/cleanllm/internal/ollama"
)

// NewBackend builds the engine backend named by engine.backend.
func NewBackend(cfg *config.Config, logger *slog.Logger) (engine.Backend, error) {
	switch strings.ToLower(cfg.Engine.Backend) {
	case "ollama", "":
		log := logging.Component(logger, "ollama")
		client := ollama.NewClientWithConfig(&ollama.ClientConfig{
			BaseURL: cfg.Engine.OllamaURL,
			Logger:  log,
		})
		return ollama.NewBackend(client, ollama.BackendConfig{
			AutoStart: cfg.Engine.AutoStart,
			KeepAlive: cfg.Engine.KeepAlive,
			Logger:    log,
		}), nil

	case llama.Name:
		return llama.NewBackend(llama.Config{
			LibPath: cfg.Engine.LibPath,
			Logger:  logging.Component(logger, "llama"),
		}), nil
	}
	return nil, &UsageError{
		Field:   "engine.backend",
		Value:   cfg.Engine.Backend,
		Reason:  "must be one of: ollama, llama",
		Example: "cleanllm --backend ollama",
	}
}
