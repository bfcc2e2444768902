// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Shared styling for the cleanllm CLI commands.
//
// Colours follow ConfigureColor, so piped output and NO_COLOR render plain.

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/cleanllm/internal/ui/styles"
)

// =============================================================================
// SHARED STYLES FOR ALL CLI COMMANDS
// =============================================================================

var (
	// TitleStyle is used for command titles and headers
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(styles.Cyan)

	// LabelStyle is used for field labels
	LabelStyle = lipgloss.NewStyle().
			Foreground(styles.TextSecondary).
			Width(14)

	// SuccessStyle is used for success messages
	SuccessStyle = lipgloss.NewStyle().
			Foreground(styles.Emerald).
			Bold(true)

	// ErrorStyle is used for error messages
	ErrorStyle = lipgloss.NewStyle().
			Foreground(styles.Rose).
			Bold(true)

	// WarningStyle is used for warnings and cancellations
	WarningStyle = lipgloss.NewStyle().
			Foreground(styles.Amber)

	// DimStyle is used for secondary information
	DimStyle = lipgloss.NewStyle().
			Foreground(styles.TextMuted)

	// PromptStyle renders the REPL prompt
	PromptStyle = lipgloss.NewStyle().
			Foreground(styles.Cyan).
			Bold(true)

	// AssistantStyle labels streamed answers
	AssistantStyle = lipgloss.NewStyle().
			Foreground(styles.Purple).
			Bold(true)

	// CommandStyle highlights slash commands in help output
	CommandStyle = lipgloss.NewStyle().
			Foreground(styles.Emerald)
)

// RenderSeparator renders a horizontal rule of the given width.
func RenderSeparator(width int) string {
	return DimStyle.Render(strings.Repeat("-", max(width, 1)))
}

// RenderKeyValue renders a label and value pair.
func RenderKeyValue(label, value string) string {
	return LabelStyle.Render(label) + " " + value
}
