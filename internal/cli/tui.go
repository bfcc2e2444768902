// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/jeranaias/cleanllm/internal/ui/chat"
	"github.com/jeranaias/cleanllm/internal/ui/styles"
)

func (a *App) tuiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "tui",
		Short:       "Start the full-screen chat interface (default)",
		Args:        usageArgs(cobra.NoArgs),
		Annotations: map[string]string{fullscreen: "true"},
		RunE:        a.runTUI,
	}
	cmd.Flags().StringVarP(&a.tuiConversation, "conversation", "c", "", "conversation to open (default: most recent)")
	return cmd
}

// runTUI runs the bubbletea program until the user quits.
func (a *App) runTUI(cmd *cobra.Command, _ []string) (err error) {
	// USABILITY: the alternate screen needs a real terminal on both ends
	if !a.Interactive() || !IsStdoutTTY() {
		return &UsageError{
			Field:   "terminal",
			Reason:  "the full-screen interface needs an interactive terminal",
			Example: "cleanllm chat, or cleanllm list",
		}
	}

	ctx := cmd.Context()
	orch, err := a.startOrchestrator(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if serr := a.shutdown(orch); serr != nil {
			a.logger.Warn("shutdown failed", "error", serr)
			if err == nil {
				err = serr
			}
		}
	}()

	theme := styles.NewTheme(styles.ThemeOptions{
		Name:    a.cfg.UI.Theme,
		NoColor: !ColorsEnabled(a.cfg.UI.NoColor),
	})
	m := chat.New(chat.Options{
		Orchestrator:   orch,
		Theme:          theme,
		ConversationID: a.tuiConversation,
		RenderMarkdown: a.cfg.UI.RenderMarkdown,
		SidebarWidth:   a.cfg.UI.SidebarWidth,
	})

	p := tea.NewProgram(m,
		tea.WithAltScreen(),
		tea.WithContext(ctx),
		tea.WithInput(a.In),
		tea.WithOutput(a.Out),
	)
	if _, err := p.Run(); err != nil {
		// SIGTERM or SIGHUP cancelled ctx; that is a normal exit.
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			a.logger.Info("interface closed by signal")
			return nil
		}
		return fmt.Errorf("run interface: %w", err)
	}
	return nil
}
