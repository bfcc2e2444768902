// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llama

import (
	"strings"

	"github.com/jeranaias/cleanllm/internal/engine"
)

// =============================================================================
// CHATML FORMATTING
// =============================================================================

const (
	turnStart = "<|im_start|>"
	turnEnd   = "<|im_end|>"
)

// formatTurn renders one complete ChatML turn.
func formatTurn(role, content string) string {
	return turnStart + role + "\n" + content + turnEnd + "\n"
}

// formatSeed renders the system prompt and prior history that a new session
// decodes before its first prompt.
func formatSeed(systemPrompt string, history []engine.Message) string {
	var sb strings.Builder
	if systemPrompt != "" {
		sb.WriteString(formatTurn("system", systemPrompt))
	}
	for _, m := range history {
		sb.WriteString(formatTurn(m.Role, m.Content))
	}
	return sb.String()
}

// formatPrompt renders a user turn followed by the opening of the
// assistant's reply.
func formatPrompt(text string) string {
	return formatTurn("user", text) + turnStart + "assistant\n"
}

// closeReply terminates an assistant reply whose end token was sampled but
// never decoded.
func closeReply() string {
	return turnEnd + "\n"
}

// =============================================================================
// STOP SEQUENCES
// =============================================================================

// stopFilter withholds output that might be the beginning of a stop sequence
// so a stop string is never streamed to the caller.
type stopFilter struct {
	stops []string
	held  string
}

func newStopFilter(stops []string) *stopFilter {
	f := &stopFilter{}
	for _, s := range stops {
		if s != "" {
			f.stops = append(f.stops, s)
		}
	}
	return f
}

// push adds a generated piece. It returns the text that is safe to emit and
// whether a stop sequence was reached. After a stop, the text before the stop
// is emitted and everything after it is dropped.
func (f *stopFilter) push(piece string) (string, bool) {
	buf := f.held + piece
	cut := -1
	for _, s := range f.stops {
		if i := strings.Index(buf, s); i >= 0 && (cut < 0 || i < cut) {
			cut = i
		}
	}
	if cut >= 0 {
		f.held = ""
		return buf[:cut], true
	}

	keep := 0
	for _, s := range f.stops {
		for n := min(len(s)-1, len(buf)); n > keep; n-- {
			if strings.HasSuffix(buf, s[:n]) {
				keep = n
				break
			}
		}
	}
	f.held = buf[len(buf)-keep:]
	return buf[:len(buf)-keep], false
}

// flush returns any withheld text once generation has ended.
func (f *stopFilter) flush() string {
	out := f.held
	f.held = ""
	return out
}
