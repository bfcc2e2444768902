// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// This package defines the domain types shared by the store, the context
// budgeter, the session binder and the generation pipeline.
//
// # Key Types
//
//   - Conversation: persisted chat with id, title, timestamp and ordered messages
//   - Message: single user or assistant turn
//   - Summary: lightweight listing projection of a Conversation
//   - Role: message role enumeration (user, assistant)
//
// # Usage
//
//	conv := model.NewConversation()
//	conv.Append(model.NewUserMessage("Hello!"))
//	summary := conv.Summary()
package model
