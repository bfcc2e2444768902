// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !windows

package ollama

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

// findOllamaExecutable searches for ollama in common installation paths on Unix.
func findOllamaExecutable() (string, error) {
	if path, err := exec.LookPath("ollama"); err == nil {
		return path, nil
	}

	possiblePaths := []string{
		"/usr/local/bin/ollama",
		"/usr/bin/ollama",
		"/opt/ollama/ollama",
	}
	if home := os.Getenv("HOME"); home != "" {
		possiblePaths = append(possiblePaths,
			filepath.Join(home, ".local", "bin", "ollama"),
			filepath.Join(home, "bin", "ollama"),
		)
	}
	// macOS application bundle location
	possiblePaths = append(possiblePaths, "/Applications/Ollama.app/Contents/Resources/ollama")

	for _, p := range possiblePaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("ollama not found in PATH or common installation directories. " +
		"Please ensure Ollama is installed. Checked: PATH, /usr/local/bin, /usr/bin, ~/.local/bin")
}

// detach puts the server in its own process group so terminal signals
// aimed at cleanllm do not reach it.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = nil, nil, nil
}
