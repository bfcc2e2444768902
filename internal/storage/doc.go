// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides conversation persistence for cleanllm.
//
// Conversations are stored as JSON records behind a small key-value
// abstraction so the same store runs on top of plain files or an embedded
// SQLite database.
//
// # Key Types
//
//   - ConversationStore: list, load, save, create, rename and delete
//   - KV: record storage; FileKV and SQLiteKV implement it
//   - Watcher: reports edits made to the data directory by other programs
//
// # Usage
//
//	store, err := storage.Open(cfg, logger)
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	conv, err := store.Create()
//	summaries, err := store.List()
//
// Subscribers registered with Subscribe receive the fresh listing after
// every save, delete and external change.
//
// # Storage Location
//
// By default records live in ~/.cleanllm/conversations/<id>.json, or in
// ~/.cleanllm/conversations.db with the sqlite backend.
package storage
