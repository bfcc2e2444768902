// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error display and exit codes for the cleanllm CLI.
//
// Commands always return errors; Execute's caller displays them once and
// maps them to an exit code.
//
// ERROR HANDLING: Errors must not be silently ignored

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/cleanllm/internal/config"
	"github.com/jeranaias/cleanllm/internal/engine"
	"github.com/jeranaias/cleanllm/internal/storage"
)

// =============================================================================
// EXIT CODES - Specific codes for different error categories
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitEngineError indicates the model could not be loaded
	ExitEngineError = 5
	// ExitNotFoundError indicates a conversation was not found
	ExitNotFoundError = 7
	// ExitTimeoutError indicates an operation timed out
	ExitTimeoutError = 8
)

// =============================================================================
// ERROR TYPES FOR STRUCTURED ERROR HANDLING
// =============================================================================

// UsageError reports invalid arguments or flag values.
type UsageError struct {
	Field   string
	Value   string
	Reason  string
	Example string
}

func (e *UsageError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (got: %s)", e.Value)
	}
	if e.Example != "" {
		msg += fmt.Sprintf("\nExample: %s", e.Example)
	}
	return msg
}

// ConfigError wraps a failure to load or save configuration.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return "configuration: " + e.Err.Error() }

func (e *ConfigError) Unwrap() error { return e.Err }

// =============================================================================
// DISPLAY
// =============================================================================

// DisplayError prints err to w in the CLI error style.
func DisplayError(w io.Writer, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(w, "%s %v\n", ErrorStyle.Render("Error:"), err)

	var usage *UsageError
	if errors.As(err, &usage) {
		fmt.Fprintln(w, DimStyle.Render("Run 'cleanllm --help' for usage."))
	}
}

// GetExitCode determines the appropriate exit code for an error.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usage *UsageError
	var cfgErr *ConfigError
	var validate config.ValidateErrors
	switch {
	case errors.As(err, &usage):
		return ExitUsageError
	case errors.As(err, &cfgErr), errors.As(err, &validate):
		return ExitConfigError
	case errors.Is(err, storage.ErrConversationNotFound):
		return ExitNotFoundError
	case errors.Is(err, engine.ErrLoadFailed), errors.Is(err, engine.ErrUnavailable):
		return ExitEngineError
	case errors.Is(err, context.DeadlineExceeded):
		return ExitTimeoutError
	}
	return ExitGeneralError
}

// usageArgs reports positional argument mistakes as usage errors.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return &UsageError{Field: "arguments", Reason: err.Error(), Example: cmd.UseLine()}
		}
		return nil
	}
}
