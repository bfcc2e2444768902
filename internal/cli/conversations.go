// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// conversations.go - One-shot conversation commands.
//
// Command: list | show | new | rename | delete | export
//
// These commands work on the store directly and never load a model.
//
// Examples:
//   cleanllm list                          List conversations, newest first
//   cleanllm list --json                   Listing as JSON
//   cleanllm show conv_1234                Print a conversation
//   cleanllm new --title "Trip planning"   Create an empty conversation
//   cleanllm rename conv_1234 Trip ideas   Rename a conversation
//   cleanllm delete conv_1234 --force      Delete without confirmation
//   cleanllm export conv_1234 -f json -o trip.json

package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/jeranaias/cleanllm/internal/model"
	"github.com/jeranaias/cleanllm/internal/storage"
	"github.com/jeranaias/cleanllm/internal/util"
)

// withStore opens the store for the duration of fn.
func (a *App) withStore(fn func(*storage.ConversationStore) error) (err error) {
	store, err := a.openStore()
	if err != nil {
		return fmt.Errorf("open conversation store: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close conversation store: %w", cerr)
		}
	}()
	return fn(store)
}

// =============================================================================
// LIST
// =============================================================================

func (a *App) listCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List conversations, most recent first",
		Args:    usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(func(s *storage.ConversationStore) error {
				list, err := s.List()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					if list == nil {
						list = []model.Summary{}
					}
					data, err := json.MarshalIndent(list, "", "  ")
					if err != nil {
						return err
					}
					fmt.Fprintln(out, string(data))
					return nil
				}
				if len(list) == 0 {
					fmt.Fprintln(out, DimStyle.Render("No conversations yet. Start one with 'cleanllm chat'."))
					return nil
				}
				fmt.Fprint(out, storage.FormatList(list))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

// =============================================================================
// SHOW
// =============================================================================

func (a *App) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a conversation",
		Long: `Print a conversation as markdown. On a colour terminal the markdown is
rendered; otherwise it is printed as-is.`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *storage.ConversationStore) error {
				conv, err := s.Load(args[0])
				if err != nil {
					return err
				}
				md := storage.ExportMarkdown(conv)
				out := cmd.OutOrStdout()
				if !a.cfg.UI.RenderMarkdown || !ColorsEnabled(a.cfg.UI.NoColor) {
					fmt.Fprint(out, md)
					return nil
				}
				r, err := glamour.NewTermRenderer(
					glamour.WithAutoStyle(),
					glamour.WithWordWrap(min(GetTerminalWidth(), 120)-2),
				)
				if err != nil {
					fmt.Fprint(out, md)
					return nil
				}
				rendered, err := r.Render(md)
				if err != nil {
					fmt.Fprint(out, md)
					return nil
				}
				fmt.Fprint(out, rendered)
				return nil
			})
		},
	}
}

// =============================================================================
// NEW / RENAME
// =============================================================================

func (a *App) newCmd() *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create an empty conversation and print its id",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(func(s *storage.ConversationStore) error {
				conv, err := s.Create()
				if err != nil {
					return err
				}
				if strings.TrimSpace(title) != "" {
					if err := s.Rename(conv.ID, title); err != nil {
						return err
					}
				}
				fmt.Fprintln(cmd.OutOrStdout(), conv.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "conversation title")
	return cmd
}

func (a *App) renameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <title...>",
		Short: "Rename a conversation",
		Args:  usageArgs(cobra.MinimumNArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.Join(args[1:], " ")
			if strings.TrimSpace(title) == "" {
				return &UsageError{Field: "title", Reason: "must not be empty"}
			}
			return a.withStore(func(s *storage.ConversationStore) error {
				if err := s.Rename(args[0], title); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Renamed %s to %q\n",
					SuccessStyle.Render("[OK]"), args[0], util.SingleLine(title))
				return nil
			})
		},
	}
}

// =============================================================================
// DELETE
// =============================================================================

func (a *App) deleteCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a conversation",
		Long: `Delete a conversation permanently.

Requires confirmation unless --force is used.`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *storage.ConversationStore) error {
				conv, err := s.Load(args[0])
				if err != nil {
					return err
				}
				ok, err := RequireConfirmation("delete this conversation", ConfirmationOptions{
					Force:       force,
					Interactive: a.Interactive(),
					In:          cmd.InOrStdin(),
					Out:         cmd.OutOrStdout(),
					Details: [][2]string{
						{"Title", conv.Title},
						{"ID", conv.ID},
						{"Messages", fmt.Sprint(len(conv.Messages))},
					},
				})
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), WarningStyle.Render("Cancelled."))
					return nil
				}
				if err := s.Delete(conv.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted %s\n", SuccessStyle.Render("[OK]"), conv.ID)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip confirmation")
	return cmd
}

// =============================================================================
// EXPORT
// =============================================================================

func (a *App) exportCmd() *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a conversation as markdown, JSON or YAML",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := storage.ParseFormat(format)
			if err != nil {
				return &UsageError{Field: "format", Value: format, Reason: err.Error(), Example: "--format json"}
			}
			return a.withStore(func(s *storage.ConversationStore) error {
				data, err := s.Export(args[0], f)
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					_, err := cmd.OutOrStdout().Write(data)
					return err
				}
				if err := util.AtomicWriteFile(output, data, 0600); err != nil {
					return fmt.Errorf("write %s: %w", output, err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%s Exported %s to %s\n", SuccessStyle.Render("[OK]"), args[0], output)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", storage.FormatMarkdown, "md, json or yaml")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}
