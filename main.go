// cleanllm - Private chat with local language models.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeranaias/cleanllm/internal/cli"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

func main() {
	cli.Version = Version
	if GitCommit != "unknown" {
		cli.Version += " (" + GitCommit + ")"
	}

	// Interrupt is left to the commands: the chat REPL uses it to stop a
	// reply and the full-screen interface receives it as a key.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGHUP)
	code := cli.Execute(ctx)
	stop()
	os.Exit(code)
}
