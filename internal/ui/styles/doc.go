// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the colour palette and theme used by the cleanllm
terminal interfaces.

All colours are Lip Gloss AdaptiveColor values so light and dark terminals
both stay readable:

  - Purple - assistant messages and selections
  - Cyan - brand colour, prompts and the active conversation
  - Emerald - success and the ready engine state
  - Amber - warnings and loading states
  - Rose - errors

Text uses a three-step hierarchy (TextPrimary, TextSecondary, TextMuted) on
layered surfaces (Surface, SurfaceDim, Overlay).

# Theme

NewTheme detects the terminal's colour profile with termenv and builds the
styles for the chat view:

	theme := styles.NewTheme(styles.ThemeOptions{Name: "dark"})
	fmt.Println(theme.Error.Render("model failed to load"))

With NoColor set, or on a terminal without colour support, every style
renders plain text and GlamourStyle returns "notty".
*/
package styles
