// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/cleanllm/internal/engine"
	"github.com/jeranaias/cleanllm/internal/model"
	"github.com/jeranaias/cleanllm/internal/util"
)

// View renders the chat view.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	main := lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		m.renderInput(),
		m.renderStatus(),
		m.renderHelp(),
	)
	return lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(), main)
}

// =============================================================================
// LAYOUT
// =============================================================================

func (m Model) mainWidth() int {
	return max(m.width-m.sidebarWidth, 20)
}

// layout sizes the viewport, input and markdown renderer for the window.
// Rows: header, viewport, input (with border), status, help.
func (m *Model) layout() {
	w := m.mainWidth()
	m.viewport.Width = w
	m.viewport.Height = max(m.height-1-(inputHeight+2)-2, minViewportHeight)
	m.input.SetWidth(w - 2)
	m.rename.Width = max(w-len(m.rename.Prompt)-2, 10)

	if m.markdown && m.rendererWidth != w {
		r, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(m.theme.GlamourStyle()),
			glamour.WithWordWrap(w-2),
		)
		if err != nil {
			m.markdown = false
			m.setStatus("markdown rendering disabled: "+err.Error(), statusWarn)
			return
		}
		m.renderer, m.rendererWidth = r, w
	}
}

// refreshViewport re-renders the conversation, following the bottom when
// the view was already there.
func (m *Model) refreshViewport() {
	follow := m.viewport.AtBottom() || m.streaming
	m.viewport.SetContent(m.renderMessages(m.viewport.Width))
	if follow {
		m.viewport.GotoBottom()
	}
}

// =============================================================================
// RENDERING
// =============================================================================

func (m Model) renderHeader() string {
	title := "cleanllm"
	if m.conv != nil {
		title = m.conv.Title
	}
	w := m.mainWidth()
	left := m.theme.HeaderTitle.Render(util.TruncateWidth(util.SingleLine(title), max(w/2, 10)))
	right := m.renderEngineBadge()
	gap := max(w-lipgloss.Width(left)-lipgloss.Width(right)-2, 1)
	return m.theme.Header.Render(left + strings.Repeat(" ", gap) + right)
}

func (m Model) renderEngineBadge() string {
	name := m.orch.ModelName()
	switch m.engineState {
	case engine.StateReady:
		if m.streaming {
			return m.spinner.View() + " " + m.theme.EngineReady.Render(name)
		}
		return m.theme.EngineReady.Render(name)
	case engine.StateFailed:
		return m.theme.EngineFailed.Render("model unavailable")
	case engine.StateLoadingGPU:
		return m.spinner.View() + " " + m.theme.EngineLoading.Render("loading model (gpu)")
	case engine.StateLoadingCPU:
		return m.spinner.View() + " " + m.theme.EngineLoading.Render("loading model (cpu)")
	default:
		return m.theme.EngineLoading.Render("starting")
	}
}

func (m Model) renderSidebar() string {
	style := m.theme.Sidebar
	if m.focus == focusSidebar || m.focus == focusRename || m.focus == focusConfirmDelete {
		style = m.theme.SidebarFocused
	}
	inner := m.sidebarWidth - style.GetHorizontalFrameSize()
	rows := max(m.height-style.GetVerticalFrameSize()-2, 1)

	var b strings.Builder
	b.WriteString(m.theme.SidebarTitle.Render("Conversations"))
	b.WriteString("\n")

	start := 0
	if m.cursor >= rows {
		start = m.cursor - rows + 1
	}
	end := min(start+rows, len(m.history))
	for i := start; i < end; i++ {
		s := m.history[i]
		marker := "  "
		if s.ID == m.activeID {
			marker = "> "
		}
		line := marker + util.TruncateWidth(util.SingleLine(s.Title), max(inner-len(marker)-len(util.Ellipsis), 1))
		switch {
		case i == m.cursor && m.focus != focusInput:
			line = m.theme.SidebarSelected.Width(inner).Render(line)
		case s.ID == m.activeID:
			line = m.theme.SidebarActive.Render(line)
		default:
			line = m.theme.SidebarItem.Render(line)
		}
		b.WriteString(line)
		if i < end-1 {
			b.WriteString("\n")
		}
	}
	return style.Width(inner).Height(m.height - style.GetVerticalFrameSize()).Render(b.String())
}

// renderMessages renders the active conversation for a viewport of width.
func (m Model) renderMessages(width int) string {
	msgs := m.messages()
	streamingHere := m.streaming && m.conv != nil && m.streamID == m.conv.ID
	if len(msgs) == 0 && !streamingHere {
		return m.theme.Muted.Render("Start typing below. Enter sends, alt+enter adds a line.")
	}

	var b strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.renderMessage(msg, width))
	}
	if streamingHere {
		b.WriteString("\n\n")
		b.WriteString(m.theme.AssistantLabel.Render(model.RoleAssistant.DisplayName()))
		b.WriteString("\n")
		text := m.partial
		if text == "" {
			text = m.spinner.View()
		}
		b.WriteString(m.theme.UserText.Width(width).Render(text))
	}
	return b.String()
}

func (m Model) renderMessage(msg model.Message, width int) string {
	if msg.IsUser() {
		return m.theme.UserLabel.Render(msg.Role.DisplayName()) + "\n" +
			m.theme.UserText.Width(width).Render(msg.Content)
	}
	body := m.renderMarkdown(msg.Content, width)
	if msg.Partial {
		body += "\n" + m.theme.Partial.Render("  (stopped)")
	}
	return m.theme.AssistantLabel.Render(msg.Role.DisplayName()) + "\n" + body
}

func (m Model) renderMarkdown(content string, width int) string {
	if m.markdown && m.renderer != nil {
		if out, err := m.renderer.Render(content); err == nil {
			return strings.Trim(out, "\n")
		}
	}
	return m.theme.UserText.Width(width).Render(content)
}

func (m Model) renderInput() string {
	style := m.theme.InputContainer
	if m.focus == focusInput {
		style = m.theme.InputFocused
	}
	return style.Render(m.input.View())
}

func (m Model) renderStatus() string {
	if m.focus == focusRename {
		return m.theme.StatusBar.Render(m.rename.View())
	}
	if m.status == "" {
		return m.theme.StatusBar.Render(m.theme.Muted.Render(m.summaryLine()))
	}
	switch m.statusLevel {
	case statusError:
		return m.theme.StatusBar.Render(m.theme.RenderError(m.status))
	case statusWarn:
		return m.theme.StatusBar.Render(m.theme.RenderWarning(m.status))
	case statusInfo:
		return m.theme.StatusBar.Render(m.theme.RenderInfo(m.status))
	}
	return m.theme.StatusBar.Render(m.theme.Muted.Render(m.status))
}

func (m Model) summaryLine() string {
	if m.conv == nil {
		return ""
	}
	return fmt.Sprintf("%d messages, last updated %s",
		len(m.conv.Messages), m.conv.Timestamp.Local().Format("2006-01-02 15:04"))
}

func (m Model) renderHelp() string {
	bindings := m.keys.inputHelp()
	if m.focus != focusInput {
		bindings = m.keys.sidebarHelp()
	}
	parts := make([]string, 0, len(bindings))
	for _, k := range bindings {
		h := k.Help()
		parts = append(parts, m.theme.ShortcutKey.Render(h.Key)+" "+m.theme.ShortcutDesc.Render(h.Desc))
	}
	return m.theme.StatusBar.Render(strings.Join(parts, "  "))
}
