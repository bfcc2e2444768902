// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// ThemeOptions selects the theme variant.
type ThemeOptions struct {
	// Name is "dark", "light" or "auto" (query the terminal background).
	Name string
	// NoColor renders every style as plain text.
	NoColor bool
}

// Theme holds all the styled components for the application.
// It detects the terminal's color capability and adjusts accordingly.
type Theme struct {
	// Terminal capabilities
	IsDark       bool
	HasTrueColor bool
	ColorProfile termenv.Profile

	renderer *lipgloss.Renderer

	// ==========================================================================
	// HEADER STYLES
	// ==========================================================================

	Header         lipgloss.Style
	HeaderTitle    lipgloss.Style
	HeaderSubtitle lipgloss.Style

	// ==========================================================================
	// SIDEBAR STYLES
	// ==========================================================================

	Sidebar         lipgloss.Style
	SidebarTitle    lipgloss.Style
	SidebarItem     lipgloss.Style
	SidebarSelected lipgloss.Style
	SidebarActive   lipgloss.Style
	SidebarFocused  lipgloss.Style

	// ==========================================================================
	// MESSAGE STYLES
	// ==========================================================================

	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	UserText       lipgloss.Style
	Partial        lipgloss.Style

	// ==========================================================================
	// INPUT AND STATUS STYLES
	// ==========================================================================

	InputContainer lipgloss.Style
	InputFocused   lipgloss.Style
	StatusBar      lipgloss.Style
	ShortcutKey    lipgloss.Style
	ShortcutDesc   lipgloss.Style

	EngineReady   lipgloss.Style
	EngineLoading lipgloss.Style
	EngineFailed  lipgloss.Style

	// ACCESSIBILITY: paired with StatusIndicators
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style
	Muted   lipgloss.Style
}

// NewTheme creates a new theme with all styles configured.
func NewTheme(opts ThemeOptions) *Theme {
	profile := termenv.Ascii
	if !opts.NoColor {
		profile = termenv.ColorProfile()
	}

	var isDark bool
	switch strings.ToLower(opts.Name) {
	case "light":
		isDark = false
	case "dark", "":
		isDark = true
	default:
		isDark = termenv.HasDarkBackground()
	}

	r := lipgloss.NewRenderer(os.Stdout)
	r.SetColorProfile(profile)
	r.SetHasDarkBackground(isDark)

	t := &Theme{
		IsDark:       isDark,
		HasTrueColor: profile == termenv.TrueColor,
		ColorProfile: profile,
		renderer:     r,
	}
	t.initStyles()
	return t
}

// NewStyle returns an empty style bound to the theme's renderer.
func (t *Theme) NewStyle() lipgloss.Style {
	return t.renderer.NewStyle()
}

// GlamourStyle names the glamour standard style matching the theme.
func (t *Theme) GlamourStyle() string {
	switch {
	case t.ColorProfile == termenv.Ascii:
		return "notty"
	case t.IsDark:
		return "dark"
	default:
		return "light"
	}
}

// initStyles initializes all the lip gloss styles.
func (t *Theme) initStyles() {
	s := t.NewStyle

	t.Header = s().
		Bold(true).
		Foreground(Cyan).
		Padding(0, 1)

	t.HeaderTitle = s().
		Bold(true).
		Foreground(Purple)

	t.HeaderSubtitle = s().
		Foreground(TextSecondary).
		Italic(true)

	// Sidebar
	t.Sidebar = s().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Overlay).
		Padding(0, 1)

	t.SidebarFocused = t.Sidebar.
		BorderForeground(Cyan)

	t.SidebarTitle = s().
		Bold(true).
		Foreground(Purple).
		MarginBottom(1)

	t.SidebarItem = s().
		Foreground(TextSecondary)

	t.SidebarSelected = s().
		Foreground(TextPrimary).
		Background(SelectionBg).
		Bold(true)

	t.SidebarActive = s().
		Foreground(Cyan).
		Bold(true)

	// Messages
	t.UserLabel = s().
		Foreground(Cyan).
		Bold(true)

	t.AssistantLabel = s().
		Foreground(Purple).
		Bold(true)

	t.UserText = s().
		Foreground(TextPrimary).
		PaddingLeft(2)

	t.Partial = s().
		Foreground(TextMuted).
		Italic(true)

	// Input area
	t.InputContainer = s().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Overlay)

	t.InputFocused = t.InputContainer.
		BorderForeground(Cyan)

	// Status bar
	t.StatusBar = s().
		Foreground(TextSecondary).
		Padding(0, 1)

	t.ShortcutKey = s().
		Foreground(Cyan).
		Bold(true)

	t.ShortcutDesc = s().
		Foreground(TextMuted)

	t.EngineReady = s().Foreground(Emerald).Bold(true)
	t.EngineLoading = s().Foreground(Amber).Bold(true)
	t.EngineFailed = s().Foreground(Rose).Bold(true)

	t.Success = s().Foreground(Emerald).Bold(true)
	t.Error = s().Foreground(Rose).Bold(true)
	t.Warning = s().Foreground(Amber).Bold(true)
	t.Info = s().Foreground(Cyan)
	t.Muted = s().Foreground(TextMuted)
}

// =============================================================================
// ACCESSIBILITY: Status messages carry a shape as well as a colour
// =============================================================================

// RenderSuccess renders message with the success indicator.
func (t *Theme) RenderSuccess(message string) string {
	return t.Success.Render(StatusIndicators.Success + " " + message)
}

// RenderError renders message with the error indicator.
func (t *Theme) RenderError(message string) string {
	return t.Error.Render(StatusIndicators.Error + " " + message)
}

// RenderWarning renders message with the warning indicator.
func (t *Theme) RenderWarning(message string) string {
	return t.Warning.Render(StatusIndicators.Warning + " " + message)
}

// RenderInfo renders message with the info indicator.
func (t *Theme) RenderInfo(message string) string {
	return t.Info.Render(StatusIndicators.Info + " " + message)
}
