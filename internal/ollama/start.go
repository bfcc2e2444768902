// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"golang.org/x/time/rate"
)

// startOllamaProcess spawns "ollama serve" detached from this process and
// waits for it to answer.
func (c *Client) startOllamaProcess(ctx context.Context) error {
	ollamaPath, err := findOllamaExecutable()
	if err != nil {
		return &ClientError{
			Type:    ErrTypeNotRunning,
			Message: "failed to find Ollama executable",
			Cause:   err,
		}
	}

	cmd := exec.Command(ollamaPath, "serve")
	// CRITICAL: Pass environment variables to the child process
	// so GPU-related settings (OLLAMA_*, CUDA_VISIBLE_DEVICES) reach Ollama
	cmd.Env = os.Environ()
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return &ClientError{
			Type:    ErrTypeNotRunning,
			Message: fmt.Sprintf("failed to start Ollama (path: %s)", ollamaPath),
			Cause:   err,
		}
	}
	c.logger.Info("started ollama serve", "path", ollamaPath, "pid", cmd.Process.Pid)

	// Release the process so it continues running after we exit
	if err := cmd.Process.Release(); err != nil {
		c.logger.Debug("release ollama process", "error", err)
	}

	return c.waitReady(ctx)
}

// waitReady polls CheckRunning at the configured rate until the server
// answers, StartupTimeout elapses, or ctx is cancelled.
func (c *Client) waitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.StartupTimeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(c.config.PollInterval), 1)
	start := time.Now()
	var lastErr error
	for {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		checkCtx, checkCancel := context.WithTimeout(ctx, c.config.PollInterval)
		lastErr = c.CheckRunning(checkCtx)
		checkCancel()
		if lastErr == nil {
			c.logger.Info("ollama ready", "elapsed", time.Since(start).Round(time.Millisecond))
			return nil
		}
		c.logger.Debug("waiting for ollama", "elapsed", time.Since(start).Round(time.Millisecond))
	}

	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return &ClientError{
		Type:    ErrTypeNotRunning,
		Message: fmt.Sprintf("Ollama not responding after %s", time.Since(start).Round(time.Second)),
		Cause:   lastErr,
	}
}
