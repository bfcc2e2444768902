// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTitle is the placeholder title of a conversation that has no
// user turn yet.
const DefaultTitle = "New Chat"

// previewRunes bounds the preview shown in listings.
const previewRunes = 80

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds a complete chat conversation with history and metadata.
//
// Timestamp is the last-modified instant and is refreshed by the store on
// every save. Messages are append-only and never reordered.
type Conversation struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	CreatedAt time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	Model     string    `json:"model,omitempty" yaml:"model,omitempty"`
	Messages  []Message `json:"messages" yaml:"messages"`
}

// NewConversation creates an empty conversation with a fresh unique id and
// the placeholder title.
func NewConversation() *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        NewConversationID(),
		Title:     DefaultTitle,
		Timestamp: now,
		CreatedAt: now,
		Messages:  make([]Message, 0),
	}
}

// NewConversationID returns a new opaque conversation id.
func NewConversationID() string {
	return "conv_" + uuid.NewString()
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// Append adds a message to the end of the conversation.
func (c *Conversation) Append(msg Message) {
	c.Messages = append(c.Messages, msg)
}

// UserTurns returns the number of user messages.
func (c *Conversation) UserTurns() int {
	n := 0
	for _, m := range c.Messages {
		if m.IsUser() {
			n++
		}
	}
	return n
}

// Clone returns a deep copy safe to mutate independently of c.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Messages = make([]Message, len(c.Messages))
	copy(clone.Messages, c.Messages)
	return &clone
}

// =============================================================================
// SUMMARY
// =============================================================================

// Summary contains the metadata shown in conversation listings.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Timestamp    time.Time `json:"timestamp"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"`
}

// Summary projects the conversation onto its listing metadata.
func (c *Conversation) Summary() Summary {
	return Summary{
		ID:           c.ID,
		Title:        c.Title,
		Timestamp:    c.Timestamp,
		MessageCount: len(c.Messages),
		Preview:      c.preview(),
	}
}

// preview returns the first user message, single-lined and rune-truncated.
func (c *Conversation) preview() string {
	for _, msg := range c.Messages {
		if !msg.IsUser() || msg.Content == "" {
			continue
		}
		p := strings.Join(strings.Fields(msg.Content), " ")
		runes := []rune(p)
		if len(runes) > previewRunes {
			p = string(runes[:previewRunes-3]) + "..."
		}
		return p
	}
	return ""
}
