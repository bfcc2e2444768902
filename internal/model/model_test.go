// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"strings"
	"testing"
)

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestMessage_LenCountsRunes(t *testing.T) {
	msg := NewUserMessage("héllo wörld")
	if got := msg.Len(); got != 11 {
		t.Errorf("Len() = %d, want 11", got)
	}
}

func TestRole_DisplayName(t *testing.T) {
	tests := []struct {
		role Role
		want string
	}{
		{RoleUser, "You"},
		{RoleAssistant, "Assistant"},
		{Role("system"), "system"},
	}
	for _, tc := range tests {
		if got := tc.role.DisplayName(); got != tc.want {
			t.Errorf("%q.DisplayName() = %q, want %q", tc.role, got, tc.want)
		}
	}
}

func TestRole_Valid(t *testing.T) {
	if !RoleUser.Valid() || !RoleAssistant.Valid() {
		t.Error("user and assistant roles should be valid")
	}
	if Role("tool").Valid() {
		t.Error("tool role should not be valid")
	}
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestNewConversation(t *testing.T) {
	a := NewConversation()
	b := NewConversation()

	if a.ID == b.ID {
		t.Errorf("expected unique ids, both were %q", a.ID)
	}
	if !strings.HasPrefix(a.ID, "conv_") {
		t.Errorf("ID = %q, want conv_ prefix", a.ID)
	}
	if a.Title != DefaultTitle {
		t.Errorf("Title = %q, want %q", a.Title, DefaultTitle)
	}
	if len(a.Messages) != 0 {
		t.Error("new conversation should be empty")
	}
	if a.Messages == nil {
		t.Error("Messages should be an empty slice, not nil")
	}
}

func TestConversation_CloneIsIndependent(t *testing.T) {
	conv := NewConversation()
	conv.Append(NewUserMessage("one"))

	clone := conv.Clone()
	clone.Append(NewAssistantMessage("two"))
	clone.Messages[0].Content = "changed"

	if len(conv.Messages) != 1 {
		t.Errorf("original has %d messages, want 1", len(conv.Messages))
	}
	if conv.Messages[0].Content != "one" {
		t.Errorf("original content mutated to %q", conv.Messages[0].Content)
	}
}

func TestConversation_Summary(t *testing.T) {
	conv := NewConversation()
	conv.Title = "Greetings"
	conv.Append(NewUserMessage("hello\nthere   friend"))
	conv.Append(NewAssistantMessage("hi"))

	s := conv.Summary()
	if s.ID != conv.ID || s.Title != "Greetings" {
		t.Errorf("unexpected summary identity: %+v", s)
	}
	if s.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", s.MessageCount)
	}
	if s.Preview != "hello there friend" {
		t.Errorf("Preview = %q", s.Preview)
	}
}

func TestConversation_SummaryPreviewTruncated(t *testing.T) {
	conv := NewConversation()
	conv.Append(NewUserMessage(strings.Repeat("x", 200)))

	p := conv.Summary().Preview
	if len([]rune(p)) != previewRunes {
		t.Errorf("preview length = %d, want %d", len([]rune(p)), previewRunes)
	}
	if !strings.HasSuffix(p, "...") {
		t.Errorf("preview %q should end with ...", p)
	}
}

func TestConversation_UserTurns(t *testing.T) {
	conv := NewConversation()
	if got := conv.UserTurns(); got != 0 {
		t.Errorf("UserTurns() on empty conversation = %d, want 0", got)
	}
	conv.Append(NewUserMessage("q1"))
	conv.Append(NewAssistantMessage("a1"))
	conv.Append(NewUserMessage("q2"))

	if got := conv.UserTurns(); got != 2 {
		t.Errorf("UserTurns() = %d, want 2", got)
	}
	if last := conv.Messages[len(conv.Messages)-1]; last.Content != "q2" {
		t.Errorf("last message = %+v, want q2", last)
	}
}
