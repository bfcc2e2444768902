// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for cleanllm.
//
// # Key Types
//
//   - Config: main configuration structure with all settings
//   - EngineConfig: backend selection, model, context capacity
//   - GenerationConfig: system prompt and sampling parameters
//   - BudgetConfig: context-window budget parameters
//   - StorageConfig: conversation persistence backend
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (CLEANLLM_*)
//   - $CLEANLLM_HOME/config.toml
//   - $CLEANLLM_HOME/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	capacity := cfg.Engine.ContextSize
package config
