// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Config command implementation.
//
// Command: config [subcommand]
// Short:   View and modify configuration
//
// Subcommands:
//   show (default)      Display the effective configuration
//   get <key>           Print one value
//   set <key> <value>   Set a value in the config file
//   reset               Write the defaults to the config file
//   path                Show the config file path
//
// Keys use dot notation matching the TOML layout, for example
// engine.model, engine.context_size, generation.temperature, ui.theme.
//
// Examples:
//   cleanllm config                             Show current config
//   cleanllm config show --json                 Config in JSON format
//   cleanllm config get engine.model
//   cleanllm config set engine.model llama3.2:3b
//   cleanllm config set generation.stop "</s>,<|eot_id|>"
//   cleanllm config reset --force
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/cleanllm/internal/config"
)

func (a *App) configCmd() *cobra.Command {
	var asJSON bool
	show := func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		if asJSON {
			data, err := json.MarshalIndent(a.cfg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
			return nil
		}
		data, err := a.cfg.TOML()
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}

	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Args:  usageArgs(cobra.NoArgs),
		RunE:  show,
	}
	cmd.PersistentFlags().BoolVar(&asJSON, "json", false, "output as JSON")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Display the effective configuration",
			Args:  usageArgs(cobra.NoArgs),
			RunE:  show,
		},
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print one configuration value",
			Args:  usageArgs(cobra.ExactArgs(1)),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := a.cfg.Get(args[0])
				if err != nil {
					return &UsageError{Field: "key", Value: args[0], Reason: err.Error(), Example: "engine.model"}
				}
				if asJSON {
					data, err := json.Marshal(v)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), string(data))
					return nil
				}
				if items, ok := v.([]string); ok {
					v = strings.Join(items, ",")
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Set a value in the config file",
			Long: `Set a value in the config file. List values are comma separated.

Only the file is changed; environment overrides still apply on the next run.`,
			Args: usageArgs(cobra.ExactArgs(2)),
			RunE: func(cmd *cobra.Command, args []string) error {
				path, cfg, err := a.fileConfig()
				if err != nil {
					return err
				}
				if err := cfg.Set(args[0], args[1]); err != nil {
					return &UsageError{Field: "key", Value: args[0], Reason: err.Error(), Example: "engine.context_size 8192"}
				}
				if err := cfg.Validate(); err != nil {
					return &ConfigError{Err: err}
				}
				if err := config.SaveTOML(cfg, path); err != nil {
					return &ConfigError{Err: err}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s = %s\n", SuccessStyle.Render("[OK]"), args[0], args[1])
				return nil
			},
		},
		a.configResetCmd(),
		&cobra.Command{
			Use:   "path",
			Short: "Show the config file path",
			Args:  usageArgs(cobra.NoArgs),
			RunE: func(cmd *cobra.Command, _ []string) error {
				path, err := a.configFilePath()
				if err != nil {
					return &ConfigError{Err: err}
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			},
		},
	)
	return cmd
}

func (a *App) configResetCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Write the default configuration to the config file",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := a.configFilePath()
			if err != nil {
				return &ConfigError{Err: err}
			}
			ok, err := RequireConfirmation("reset the configuration", ConfirmationOptions{
				Force:       force,
				Interactive: a.Interactive(),
				In:          cmd.InOrStdin(),
				Out:         cmd.OutOrStdout(),
				Details:     [][2]string{{"File", path}},
			})
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), WarningStyle.Render("Cancelled."))
				return nil
			}
			if err := config.SaveTOML(config.Default(), path); err != nil {
				return &ConfigError{Err: err}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Configuration reset\n", SuccessStyle.Render("[OK]"))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip confirmation")
	return cmd
}

// configFilePath returns the file config set and reset write to.
func (a *App) configFilePath() (string, error) {
	if a.flags.configPath != "" {
		return a.flags.configPath, nil
	}
	return config.ConfigPathTOML()
}

// fileConfig loads only what the config file says, without environment
// overrides or flags, so set does not persist them.
func (a *App) fileConfig() (string, *config.Config, error) {
	path, err := a.configFilePath()
	if err != nil {
		return "", nil, &ConfigError{Err: err}
	}
	if strings.HasSuffix(path, ".json") || strings.HasSuffix(path, ".jsonc") {
		return "", nil, &UsageError{Field: "config", Value: path, Reason: "config set writes TOML files only"}
	}
	cfg := config.Default()
	if _, err := os.Stat(path); err == nil {
		if err := config.LoadTOML(cfg, path); err != nil {
			return "", nil, &ConfigError{Err: err}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", nil, &ConfigError{Err: err}
	}
	return path, cfg, nil
}
