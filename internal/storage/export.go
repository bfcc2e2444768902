// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/cleanllm/internal/model"
	"github.com/jeranaias/cleanllm/internal/util"
)

// =============================================================================
// CONVERSATION EXPORT
// =============================================================================

// Export formats.
const (
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
	FormatYAML     = "yaml"
)

// ParseFormat normalises a user-supplied export format name.
func ParseFormat(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "md", "markdown", "":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown export format %q (want md, json or yaml)", s)
}

// Export renders the stored conversation id in format.
func (s *ConversationStore) Export(id, format string) ([]byte, error) {
	conv, err := s.Load(id)
	if err != nil {
		return nil, err
	}
	return Export(conv, format)
}

// Export renders conv in format.
func Export(conv *model.Conversation, format string) ([]byte, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}
	switch f {
	case FormatJSON:
		return json.MarshalIndent(conv, "", "  ")
	case FormatYAML:
		return yaml.Marshal(conv)
	default:
		return []byte(ExportMarkdown(conv)), nil
	}
}

// ExportMarkdown exports the conversation as a Markdown formatted string.
// Includes metadata, timestamps, and all messages with role labels.
func ExportMarkdown(c *model.Conversation) string {
	var sb strings.Builder
	sb.WriteString("# " + c.Title + "\n\n")
	sb.WriteString("- ID: `" + c.ID + "`\n")
	if !c.CreatedAt.IsZero() {
		sb.WriteString("- Created: " + c.CreatedAt.Format(time.RFC3339) + "\n")
	}
	sb.WriteString("- Updated: " + c.Timestamp.Format(time.RFC3339) + "\n")
	if c.Model != "" {
		sb.WriteString("- Model: " + c.Model + "\n")
	}
	sb.WriteString("\n---\n\n")

	for _, msg := range c.Messages {
		sb.WriteString("**" + msg.Role.DisplayName() + "**")
		if !msg.Timestamp.IsZero() {
			sb.WriteString(" (" + msg.Timestamp.Format("2006-01-02 15:04") + ")")
		}
		if msg.Partial {
			sb.WriteString(" _(stopped)_")
		}
		sb.WriteString(":\n\n")
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n---\n\n")
	}
	return sb.String()
}

// =============================================================================
// LIST FORMATTING
// =============================================================================

// FormatList formats summaries as a plain-text table for terminal output.
func FormatList(summaries []model.Summary) string {
	if len(summaries) == 0 {
		return "No conversations found.\n"
	}

	const idWidth, titleWidth = 41, 24
	var sb strings.Builder
	sb.WriteString(pad("ID", idWidth) + " " + pad("Title", titleWidth) + " " + pad("Updated", 16) + " Messages\n")
	sb.WriteString(strings.Repeat("-", idWidth+titleWidth+16+12) + "\n")
	for _, s := range summaries {
		sb.WriteString(pad(s.ID, idWidth) + " " +
			pad(util.TruncateWidth(s.Title, titleWidth-len(util.Ellipsis)), titleWidth) + " " +
			pad(s.Timestamp.Local().Format("2006-01-02 15:04"), 16) + " " +
			fmt.Sprintf("%d", s.MessageCount) + "\n")
	}
	return sb.String()
}

// pad pads s with spaces to width display cells.
func pad(s string, width int) string {
	return runewidth.FillRight(s, width)
}
