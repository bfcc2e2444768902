// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"testing"

	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
)

func TestNewThemeNoColor(t *testing.T) {
	theme := NewTheme(ThemeOptions{Name: "dark", NoColor: true})

	assert.Equal(t, termenv.Ascii, theme.ColorProfile)
	assert.False(t, theme.HasTrueColor)
	assert.Equal(t, "notty", theme.GlamourStyle())
	assert.Equal(t, "[X] boom", theme.RenderError("boom"))
	assert.Equal(t, "[OK] saved", theme.RenderSuccess("saved"))
}

func TestNewThemeVariant(t *testing.T) {
	tests := []struct {
		name string
		dark bool
	}{
		{"dark", true},
		{"", true},
		{"light", false},
		{"LIGHT", false},
	}
	for _, tt := range tests {
		theme := NewTheme(ThemeOptions{Name: tt.name, NoColor: true})
		assert.Equal(t, tt.dark, theme.IsDark, "theme %q", tt.name)
	}
}

func TestStatusIndicatorsAreASCII(t *testing.T) {
	for _, s := range []string{
		StatusIndicators.Success, StatusIndicators.Error, StatusIndicators.Warning,
		StatusIndicators.Info, StatusIndicators.Pending, StatusIndicators.Active,
	} {
		for _, r := range s {
			if r > 127 {
				t.Errorf("indicator %q contains non-ASCII rune %q", s, r)
			}
		}
	}
}
