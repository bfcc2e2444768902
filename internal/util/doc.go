// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the storage, pipeline and
// presentation layers.
//
// # Key Functions
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - TruncateWidth: display-cell truncation (CJK aware) via go-runewidth
//   - SingleLine: fold newlines and runs of whitespace into single spaces
//   - MakeTitle: derive a conversation title from a first prompt
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync + rename
//
// # Usage
//
//	title := util.MakeTitle(prompt, 22)
//	err := util.AtomicWriteFile(path, data, 0600)
package util
