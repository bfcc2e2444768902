// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/cleanllm/internal/core"
	"github.com/jeranaias/cleanllm/internal/model"
)

// =============================================================================
// MESSAGES
// =============================================================================

// EventMsg carries one orchestrator event into the update loop.
type EventMsg struct {
	Event core.Event
}

// EventsClosedMsg is sent when the orchestrator closed its event channel.
type EventsClosedMsg struct{}

// ConversationLoadedMsg is the result of opening a conversation.
type ConversationLoadedMsg struct {
	Conversation *model.Conversation
	Err          error
}

// HistoryMsg is the result of a listing request.
type HistoryMsg struct {
	History []model.Summary
	Err     error
}

// StatusMsg replaces the status line.
type StatusMsg struct {
	Text  string
	Error bool
}

// =============================================================================
// COMMANDS
// =============================================================================

// waitForEvent reads the next event. It is re-issued after every EventMsg so
// exactly one read is outstanding at a time.
func waitForEvent(events <-chan core.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return EventsClosedMsg{}
		}
		return EventMsg{Event: ev}
	}
}

func loadConversationCmd(o Orchestrator, id string) tea.Cmd {
	return func() tea.Msg {
		conv, err := o.LoadConversation(id)
		return ConversationLoadedMsg{Conversation: conv, Err: err}
	}
}

func historyCmd(o Orchestrator) tea.Cmd {
	return func() tea.Msg {
		list, err := o.GetHistory()
		return HistoryMsg{History: list, Err: err}
	}
}

func createConversationCmd(o Orchestrator) tea.Cmd {
	return func() tea.Msg {
		conv, err := o.CreateConversation()
		return ConversationLoadedMsg{Conversation: conv, Err: err}
	}
}

func renameCmd(o Orchestrator, id, title string) tea.Cmd {
	return func() tea.Msg {
		if err := o.RenameConversation(id, title); err != nil {
			return StatusMsg{Text: "rename failed: " + err.Error(), Error: true}
		}
		return StatusMsg{Text: "renamed to " + title}
	}
}

func deleteCmd(o Orchestrator, id string) tea.Cmd {
	return func() tea.Msg {
		list, err := o.DeleteConversation(id)
		if err != nil {
			return StatusMsg{Text: "delete failed: " + err.Error(), Error: true}
		}
		return HistoryMsg{History: list}
	}
}
