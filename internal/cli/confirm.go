// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// confirm.go - Confirmation handling for destructive CLI commands.
//
// One pattern for every command:
//  1. If --force is present, proceed without prompting
//  2. If stdin is not interactive, refuse (can't prompt)
//  3. Otherwise, show details and an interactive [y/N] prompt

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ConfirmationOptions configures RequireConfirmation.
type ConfirmationOptions struct {
	// Force skips the prompt (--force).
	Force bool
	// Interactive reports whether In can be prompted.
	Interactive bool
	In          io.Reader
	Out         io.Writer
	// Details are printed, in order, before the question.
	Details [][2]string
}

// RequireConfirmation checks that the user confirmed action.
//
// Example:
//
//	ok, err := RequireConfirmation("delete this conversation", ConfirmationOptions{...})
//	if err != nil || !ok {
//	    return err
//	}
func RequireConfirmation(action string, opts ConfirmationOptions) (bool, error) {
	if opts.Force {
		return true, nil
	}

	// USABILITY: TTY detection for proper terminal handling
	if !opts.Interactive {
		return false, errors.New("confirmation required but stdin is not a terminal; use --force")
	}

	out := opts.Out
	if len(opts.Details) > 0 {
		fmt.Fprintln(out)
		for _, d := range opts.Details {
			fmt.Fprintf(out, "  %s\n", RenderKeyValue(d[0]+":", d[1]))
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, WarningStyle.Render("This action cannot be undone."))
	}
	fmt.Fprintf(out, "Are you sure you want to %s? [y/N]: ", action)

	input, err := bufio.NewReader(opts.In).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}

	response := strings.ToLower(strings.TrimSpace(input))
	return response == "y" || response == "yes", nil
}
