// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"fmt"
	"log/slog"

	"github.com/jeranaias/cleanllm/internal/config"
)

// Backend names accepted in storage.backend.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Open builds the store described by cfg.Storage. For the file backend with
// watching enabled the data directory is watched for external edits.
func Open(cfg *config.Config, logger *slog.Logger) (*ConversationStore, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	opts := Options{CacheTTL: cfg.CacheTTL(), Logger: logger}

	switch cfg.Storage.Backend {
	case BackendSQLite:
		path, err := cfg.DatabasePath()
		if err != nil {
			return nil, err
		}
		kv, err := NewSQLiteKV(path)
		if err != nil {
			return nil, err
		}
		logger.Debug("conversation store opened", "backend", BackendSQLite, "path", path)
		return NewConversationStore(kv, opts), nil

	case BackendFile, "":
		dir, err := cfg.ConversationsDir()
		if err != nil {
			return nil, err
		}
		kv, err := NewFileKV(dir)
		if err != nil {
			return nil, err
		}
		store := NewConversationStore(kv, opts)
		if cfg.Storage.Watch {
			if _, err := store.Watch(dir, DefaultDebounce); err != nil {
				// Listing still works without live reload.
				logger.Warn("cannot watch conversation directory", "dir", dir, "error", err)
			}
		}
		logger.Debug("conversation store opened", "backend", BackendFile, "dir", dir)
		return store, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
