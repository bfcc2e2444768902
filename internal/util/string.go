// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across cleanllm.
package util

import (
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"
	"golang.org/x/text/unicode/norm"
)

// Ellipsis is appended to truncated strings.
const Ellipsis = "..."

// TruncateWidth cuts s to at most maxWidth display cells of content and
// appends "..." when anything was removed. Wide (CJK) characters count as
// two cells and are never split.
func TruncateWidth(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	return runewidth.Truncate(s, maxWidth, "") + Ellipsis
}

// SingleLine folds newlines, tabs and repeated spaces into single spaces
// and trims the result.
func SingleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// MakeTitle derives a conversation title from a user prompt: NFC
// normalised, folded to one line, and truncated to maxWidth display cells
// with a trailing ellipsis. An empty result means the caller should keep
// its existing title.
func MakeTitle(prompt string, maxWidth int) string {
	title := SingleLine(norm.NFC.String(prompt))
	if title == "" {
		return ""
	}
	return TruncateWidth(title, maxWidth)
}

// RuneLen returns the number of runes in a string.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}
