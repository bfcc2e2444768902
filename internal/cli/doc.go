// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the cleanllm command line.
//
// The command tree is built with cobra. Every command shares one setup step
// that loads the configuration, applies the global flags and builds the
// logger; commands then either work on the conversation store directly or
// start an orchestrator.
//
// # Commands
//
//   - (none), tui: full-screen chat
//   - chat: line-mode chat with slash commands
//   - list, show, new, rename, delete, export: conversation management
//   - config: show, get, set, path
//
// # Exit Codes
//
// GetExitCode maps errors onto stable exit codes: 2 for usage errors, 3 for
// configuration errors, 5 when the engine is unavailable, 7 for a missing
// conversation and 8 for timeouts.
package cli
