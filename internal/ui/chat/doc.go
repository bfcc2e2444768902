// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package chat provides the full-screen chat view for cleanllm.

The view is a Bubble Tea model over the orchestrator's request surface. It
never talks to the engine or the store directly: requests go through the
Orchestrator interface and progress comes back as core events, which a
single pump command turns into Bubble Tea messages one at a time.

# Layout

	+-- Conversations --+  model-name  [ready]
	| > Explain Go ch...|
	|   hello           |  You
	|                   |    hello
	|                   |  Assistant
	|                   |    Hi! How can I help?
	+-------------------+  [ message input            ]
	 enter send  esc stop  ctrl+n new  tab sidebar  ctrl+c quit

Answers are rendered as markdown with glamour; the answer being streamed is
shown raw until its done event arrives.

# Keys

With the input focused, enter sends and alt+enter inserts a newline. Tab
moves focus to the sidebar, where up/down select, enter opens, r renames and
d deletes (after confirmation). Esc stops a running generation.
*/
package chat
