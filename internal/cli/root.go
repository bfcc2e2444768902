// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/cleanllm/internal/config"
	"github.com/jeranaias/cleanllm/internal/core"
	"github.com/jeranaias/cleanllm/internal/engine"
	"github.com/jeranaias/cleanllm/internal/logging"
	"github.com/jeranaias/cleanllm/internal/storage"
)

// Version is set at build time.
var Version = "0.1.0"

// fullscreen marks commands whose stderr log sink must stay silent.
const fullscreen = "fullscreen"

type globalFlags struct {
	configPath string
	noColor    bool
	backend    string
	model      string
	verbose    bool
	forceCPU   bool
}

// App holds the CLI's streams and collaborators. Tests replace the streams,
// the backend factory and the REPL line reader.
type App struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer

	// Interactive reports whether In can be prompted.
	Interactive func() bool
	// NewBackend builds the engine backend for the effective configuration.
	NewBackend func(cfg *config.Config, logger *slog.Logger) (engine.Backend, error)
	// NewLineReader builds the chat REPL's line editor.
	NewLineReader func() (LineReader, error)

	flags           globalFlags
	tuiConversation string
	cfg             *config.Config
	logger          *slog.Logger
	closeLog        func() error
}

// NewApp returns an App bound to the process's standard streams.
func NewApp() *App {
	return &App{
		In:            os.Stdin,
		Out:           os.Stdout,
		Err:           os.Stderr,
		Interactive:   IsTTY,
		NewBackend:    NewBackend,
		NewLineReader: newLinerReader,
	}
}

// Execute runs the CLI with the process arguments and returns the exit code.
func Execute(ctx context.Context) int {
	app := NewApp()
	err := app.Run(ctx, os.Args[1:])
	DisplayError(app.Err, err)
	return GetExitCode(err)
}

// Run executes one command line.
func (a *App) Run(ctx context.Context, args []string) error {
	root := a.Command()
	root.SetArgs(args)
	defer a.close()
	return root.ExecuteContext(ctx)
}

// Command builds the command tree.
func (a *App) Command() *cobra.Command {
	root := &cobra.Command{
		Use:   "cleanllm",
		Short: "Private, local LLM chat",
		Long: `cleanllm is a private chat client for local language models.

Models run on this machine through Ollama or, when built with -tags yzma,
directly through llama.cpp. Conversations are stored under $CLEANLLM_HOME
(default ~/.cleanllm) and never leave it.

Without a subcommand the full-screen interface starts.`,
		Version:           Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		Annotations:       map[string]string{fullscreen: "true"},
		PersistentPreRunE: a.setup,
		RunE:              a.runTUI,
	}
	root.SetIn(a.In)
	root.SetOut(a.Out)
	root.SetErr(a.Err)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &UsageError{Field: "flag", Reason: err.Error()}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configPath, "config", "", "config file (default $CLEANLLM_HOME/config.toml)")
	pf.BoolVar(&a.flags.noColor, "no-color", false, "disable coloured output")
	pf.StringVar(&a.flags.backend, "backend", "", "engine backend: ollama or llama")
	pf.StringVarP(&a.flags.model, "model", "m", "", "Ollama model name, or GGUF path for the llama backend")
	pf.BoolVarP(&a.flags.verbose, "verbose", "v", false, "log debug output to stderr")
	pf.BoolVar(&a.flags.forceCPU, "force-cpu", false, "skip the GPU load attempt")

	root.AddCommand(
		a.tuiCmd(),
		a.chatCmd(),
		a.listCmd(),
		a.showCmd(),
		a.newCmd(),
		a.renameCmd(),
		a.deleteCmd(),
		a.exportCmd(),
		a.configCmd(),
	)
	return root
}

// =============================================================================
// SETUP
// =============================================================================

// setup loads the configuration, applies flags and builds the logger.
func (a *App) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "help" || cmd.Name() == "version" {
		return nil
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return &ConfigError{Err: err}
	}
	a.cfg = cfg
	ConfigureColor(cfg.UI.NoColor)

	if err := config.EnsureConfigDir(); err != nil {
		return &ConfigError{Err: err}
	}
	logPath, err := cfg.LogPath()
	if err != nil {
		return &ConfigError{Err: err}
	}

	var stderr io.Writer = a.Err
	if cmd.Annotations[fullscreen] == "true" && !a.flags.verbose {
		stderr = io.Discard
	}
	logger, closeLog, err := logging.Setup(logging.Options{
		Level:      logging.ParseLevel(cfg.Logging.Level),
		FileLevel:  logging.ParseLevel(cfg.Logging.FileLevel),
		File:       logPath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
		Stderr:     stderr,
	})
	if err != nil {
		fmt.Fprintf(a.Err, "%s %v\n", WarningStyle.Render("Warning:"), err)
	}
	a.logger, a.closeLog = logger, closeLog
	a.logger.Debug("starting", "command", cmd.CommandPath(), "version", Version,
		"backend", cfg.Engine.Backend, "storage", cfg.Storage.Backend)
	return nil
}

func (a *App) loadConfig() (*config.Config, error) {
	if a.flags.configPath != "" {
		cfg, err := config.LoadFromPath(a.flags.configPath)
		if err != nil {
			return nil, &ConfigError{Err: err}
		}
		return cfg, nil
	}
	cfg, err := config.Load()
	if cfg == nil {
		return nil, &ConfigError{Err: err}
	}
	if err != nil {
		// A broken config file falls back to defaults.
		fmt.Fprintf(a.Err, "%s %v (using defaults)\n", WarningStyle.Render("Warning:"), err)
	}
	return cfg, nil
}

func (a *App) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Engine.Backend = strings.ToLower(a.flags.backend)
	}
	if flags.Changed("model") {
		if strings.EqualFold(cfg.Engine.Backend, "llama") {
			cfg.Engine.ModelPath = a.flags.model
		} else {
			cfg.Engine.Model = a.flags.model
		}
	}
	if a.flags.forceCPU {
		cfg.Engine.ForceCPU = true
	}
	if a.flags.noColor {
		cfg.UI.NoColor = true
	}
	if a.flags.verbose {
		cfg.Logging.Level = "debug"
	}
}

func (a *App) close() {
	if a.closeLog != nil {
		if err := a.closeLog(); err != nil {
			fmt.Fprintf(a.Err, "%s failed to close log file: %v\n", WarningStyle.Render("Warning:"), err)
		}
		a.closeLog = nil
	}
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// openStore opens the conversation store for a one-shot command.
func (a *App) openStore() (*storage.ConversationStore, error) {
	cfg := a.cfg.Clone()
	cfg.Storage.Watch = false
	return storage.Open(cfg, logging.Component(a.logger, "storage"))
}

// startOrchestrator wires store, backend and orchestrator and begins loading
// the model in the background.
func (a *App) startOrchestrator(ctx context.Context) (*core.Orchestrator, error) {
	store, err := storage.Open(a.cfg, logging.Component(a.logger, "storage"))
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}
	backend, err := a.NewBackend(a.cfg, a.logger)
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}
	orch, err := core.New(core.Options{
		Config:  a.cfg,
		Backend: backend,
		Store:   store,
		Logger:  a.logger,
	})
	if err != nil {
		return nil, errors.Join(err, backend.Close(), store.Close())
	}
	if err := orch.Start(ctx); err != nil {
		return nil, errors.Join(err, a.shutdown(orch))
	}
	return orch, nil
}

// shutdown tears the orchestrator down within the configured bound.
func (a *App) shutdown(orch *core.Orchestrator) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout()+time.Second)
	defer cancel()
	if err := orch.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	// Nothing reads the remaining events once the front end has stopped.
	for range orch.Events() {
	}
	return nil
}
