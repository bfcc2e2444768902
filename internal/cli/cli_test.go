// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/cleanllm/internal/config"
	"github.com/jeranaias/cleanllm/internal/engine"
	"github.com/jeranaias/cleanllm/internal/engine/enginetest"
	"github.com/jeranaias/cleanllm/internal/model"
	"github.com/jeranaias/cleanllm/internal/storage"
)

// =============================================================================
// HARNESS
// =============================================================================

type cliHarness struct {
	t     *testing.T
	home  string
	fake  *enginetest.Backend
	lines []string
	// interactive and stdin apply to the next run.
	interactive bool
	stdin       string
	reader      *scriptReader
}

func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()
	home := t.TempDir()
	t.Setenv(config.HomeEnv, home)
	t.Setenv("NO_COLOR", "1")
	for _, k := range []string{
		"CLEANLLM_BACKEND", "CLEANLLM_MODEL", "CLEANLLM_MODEL_PATH", "CLEANLLM_OLLAMA_URL",
		"CLEANLLM_CONTEXT_SIZE", "CLEANLLM_FORCE_CPU", "CLEANLLM_STORAGE", "CLEANLLM_LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
	return &cliHarness{t: t, home: home, fake: &enginetest.Backend{}}
}

type runResult struct {
	code int
	out  string
	err  string
}

func (h *cliHarness) run(args ...string) runResult {
	h.t.Helper()
	var out, errb bytes.Buffer
	h.reader = &scriptReader{lines: h.lines}
	app := &App{
		In:          strings.NewReader(h.stdin),
		Out:         &out,
		Err:         &errb,
		Interactive: func() bool { return h.interactive },
		NewBackend: func(*config.Config, *slog.Logger) (engine.Backend, error) {
			return h.fake, nil
		},
		NewLineReader: func() (LineReader, error) { return h.reader, nil },
	}
	err := app.Run(context.Background(), args)
	DisplayError(&errb, err)
	return runResult{code: GetExitCode(err), out: out.String(), err: errb.String()}
}

// newConversation creates a conversation through the CLI and returns its id.
func (h *cliHarness) newConversation(title string) string {
	h.t.Helper()
	args := []string{"new"}
	if title != "" {
		args = append(args, "--title", title)
	}
	res := h.run(args...)
	require.Equal(h.t, ExitSuccess, res.code, res.err)
	return strings.TrimSpace(res.out)
}

func (h *cliHarness) list() []model.Summary {
	h.t.Helper()
	res := h.run("list", "--json")
	require.Equal(h.t, ExitSuccess, res.code, res.err)
	var list []model.Summary
	require.NoError(h.t, json.Unmarshal([]byte(res.out), &list))
	return list
}

// scriptReader replays lines and then reports end of input.
type scriptReader struct {
	lines   []string
	prompts []string
	closed  bool
}

func (r *scriptReader) Prompt(p string) (string, error) {
	r.prompts = append(r.prompts, p)
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

func (r *scriptReader) Close() error {
	r.closed = true
	return nil
}

// =============================================================================
// CONVERSATION COMMANDS
// =============================================================================

func TestListEmpty(t *testing.T) {
	h := newCLIHarness(t)

	res := h.run("list")
	assert.Equal(t, ExitSuccess, res.code, res.err)
	assert.Contains(t, res.out, "No conversations yet")

	assert.Empty(t, h.list())
}

func TestNewAndList(t *testing.T) {
	h := newCLIHarness(t)

	first := h.newConversation("")
	second := h.newConversation("Trip planning")
	require.NotEqual(t, first, second)

	list := h.list()
	require.Len(t, list, 2)
	ids := []string{list[0].ID, list[1].ID}
	assert.ElementsMatch(t, []string{first, second}, ids)

	res := h.run("list")
	require.Equal(t, ExitSuccess, res.code)
	assert.Contains(t, res.out, "Trip planning")
	assert.Contains(t, res.out, model.DefaultTitle)
}

func TestRename(t *testing.T) {
	h := newCLIHarness(t)
	id := h.newConversation("")

	res := h.run("rename", id, "Weekend", "plans")
	require.Equal(t, ExitSuccess, res.code, res.err)

	list := h.list()
	require.Len(t, list, 1)
	assert.Equal(t, "Weekend plans", list[0].Title)
}

func TestRenameRequiresTitle(t *testing.T) {
	h := newCLIHarness(t)
	id := h.newConversation("")

	res := h.run("rename", id)
	assert.Equal(t, ExitUsageError, res.code)

	res = h.run("rename", id, " ")
	assert.Equal(t, ExitUsageError, res.code)
}

func TestDeleteForce(t *testing.T) {
	h := newCLIHarness(t)
	id := h.newConversation("")

	res := h.run("delete", id, "--force")
	require.Equal(t, ExitSuccess, res.code, res.err)
	assert.Contains(t, res.out, "Deleted "+id)
	assert.Empty(t, h.list())
}

func TestDeleteRefusesWithoutTerminal(t *testing.T) {
	h := newCLIHarness(t)
	id := h.newConversation("")

	res := h.run("delete", id)
	assert.Equal(t, ExitGeneralError, res.code)
	assert.Contains(t, res.err, "--force")
	assert.Len(t, h.list(), 1)
}

func TestDeleteInteractive(t *testing.T) {
	h := newCLIHarness(t)
	keep := h.newConversation("keep")
	drop := h.newConversation("drop")

	h.interactive = true
	h.stdin = "n\n"
	res := h.run("delete", drop)
	require.Equal(t, ExitSuccess, res.code, res.err)
	assert.Contains(t, res.out, "Cancelled")
	assert.Len(t, h.list(), 2)

	h.stdin = "y\n"
	res = h.run("delete", drop)
	require.Equal(t, ExitSuccess, res.code, res.err)
	assert.Contains(t, res.out, "drop")

	list := h.list()
	require.Len(t, list, 1)
	assert.Equal(t, keep, list[0].ID)
}

func TestMissingConversation(t *testing.T) {
	h := newCLIHarness(t)

	for _, args := range [][]string{
		{"show", "conv_missing"},
		{"rename", "conv_missing", "title"},
		{"delete", "conv_missing", "--force"},
		{"export", "conv_missing"},
	} {
		t.Run(args[0], func(t *testing.T) {
			res := h.run(args...)
			assert.Equal(t, ExitNotFoundError, res.code, res.err)
		})
	}
}

func TestShow(t *testing.T) {
	h := newCLIHarness(t)
	id := h.newConversation("Reading list")

	res := h.run("show", id)
	require.Equal(t, ExitSuccess, res.code, res.err)
	assert.Contains(t, res.out, "# Reading list")
	assert.Contains(t, res.out, id)
}

func TestExportFormats(t *testing.T) {
	h := newCLIHarness(t)
	id := h.newConversation("Export me")

	res := h.run("export", id)
	require.Equal(t, ExitSuccess, res.code, res.err)
	assert.True(t, strings.HasPrefix(res.out, "# Export me"))

	res = h.run("export", id, "--format", "yaml")
	require.Equal(t, ExitSuccess, res.code, res.err)
	assert.Contains(t, res.out, "title: Export me")

	res = h.run("export", id, "-f", "json")
	require.Equal(t, ExitSuccess, res.code, res.err)
	var conv model.Conversation
	require.NoError(t, json.Unmarshal([]byte(res.out), &conv))
	assert.Equal(t, id, conv.ID)
}

func TestExportToFile(t *testing.T) {
	h := newCLIHarness(t)
	id := h.newConversation("Saved")
	path := filepath.Join(t.TempDir(), "saved.json")

	res := h.run("export", id, "-f", "json", "-o", path)
	require.Equal(t, ExitSuccess, res.code, res.err)
	assert.Empty(t, res.out)
	assert.Contains(t, res.err, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var conv model.Conversation
	require.NoError(t, json.Unmarshal(data, &conv))
	assert.Equal(t, "Saved", conv.Title)

	info, err := os.Stat(path)
	require.NoError(t, err)
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}
}

func TestExportBadFormat(t *testing.T) {
	h := newCLIHarness(t)
	id := h.newConversation("")

	res := h.run("export", id, "--format", "pdf")
	assert.Equal(t, ExitUsageError, res.code)
	assert.Contains(t, res.err, "pdf")
}

// =============================================================================
// CONFIG COMMANDS
// =============================================================================

func TestConfigShow(t *testing.T) {
	h := newCLIHarness(t)

	res := h.run("config")
	require.Equal(t, ExitSuccess, res.code, res.err)
	assert.Contains(t, res.out, "[engine]")
	assert.Contains(t, res.out, "context_size = 4096")

	res = h.run("config", "show", "--json")
	require.Equal(t, ExitSuccess, res.code, res.err)
	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(res.out), &cfg))
	assert.Equal(t, 4096, cfg.Engine.ContextSize)
}

func TestConfigGetSet(t *testing.T) {
	h := newCLIHarness(t)

	res := h.run("config", "get", "engine.context_size")
	require.Equal(t, ExitSuccess, res.code, res.err)
	assert.Equal(t, "4096", strings.TrimSpace(res.out))

	res = h.run("config", "set", "engine.context_size", "8192")
	require.Equal(t, ExitSuccess, res.code, res.err)

	res = h.run("config", "get", "engine.context_size")
	require.Equal(t, ExitSuccess, res.code, res.err)
	assert.Equal(t, "8192", strings.TrimSpace(res.out))

	res = h.run("config", "set", "generation.stop", "</s>, <|eot_id|>")
	require.Equal(t, ExitSuccess, res.code, res.err)
	res = h.run("config", "get", "generation.stop")
	assert.Equal(t, "</s>,<|eot_id|>", strings.TrimSpace(res.out))

	data, err := os.ReadFile(filepath.Join(h.home, "config.toml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "context_size = 8192")
}

func TestConfigSetErrors(t *testing.T) {
	h := newCLIHarness(t)

	res := h.run("config", "set", "engine.nonsense", "1")
	assert.Equal(t, ExitUsageError, res.code)

	res = h.run("config", "set", "ui.theme", "purple")
	assert.Equal(t, ExitConfigError, res.code)

	res = h.run("config", "get", "nope")
	assert.Equal(t, ExitUsageError, res.code)
}

func TestConfigPathAndReset(t *testing.T) {
	h := newCLIHarness(t)

	res := h.run("config", "path")
	require.Equal(t, ExitSuccess, res.code, res.err)
	assert.Equal(t, filepath.Join(h.home, "config.toml"), strings.TrimSpace(res.out))

	require.Equal(t, ExitSuccess, h.run("config", "set", "engine.model", "phi3").code)
	res = h.run("config", "reset")
	assert.Equal(t, ExitGeneralError, res.code)

	res = h.run("config", "reset", "--force")
	require.Equal(t, ExitSuccess, res.code, res.err)
	res = h.run("config", "get", "engine.model")
	assert.Equal(t, config.Default().Engine.Model, strings.TrimSpace(res.out))
}

func TestBrokenConfigFallsBackToDefaults(t *testing.T) {
	h := newCLIHarness(t)
	require.NoError(t, os.WriteFile(filepath.Join(h.home, "config.toml"), []byte("[engine\n"), 0600))

	res := h.run("list")
	assert.Equal(t, ExitSuccess, res.code)
	assert.Contains(t, res.err, "using defaults")
}

func TestFlagOverrides(t *testing.T) {
	h := newCLIHarness(t)

	res := h.run("--model", "mistral", "config", "get", "engine.model")
	require.Equal(t, ExitSuccess, res.code, res.err)
	assert.Equal(t, "mistral", strings.TrimSpace(res.out))

	res = h.run("--backend", "llama", "-m", "/models/x.gguf", "config", "get", "engine.model_path")
	require.Equal(t, ExitSuccess, res.code, res.err)
	assert.Equal(t, "/models/x.gguf", strings.TrimSpace(res.out))

	res = h.run("--backend", "vllm", "list")
	assert.Equal(t, ExitConfigError, res.code)
}

// =============================================================================
// ERRORS
// =============================================================================

func TestUsageErrors(t *testing.T) {
	h := newCLIHarness(t)

	res := h.run("list", "--bogus")
	assert.Equal(t, ExitUsageError, res.code)
	assert.Contains(t, res.err, "--help")

	// Without a terminal the full-screen interface refuses to start.
	res = h.run("tui")
	assert.Equal(t, ExitUsageError, res.code)
	res = h.run()
	assert.Equal(t, ExitUsageError, res.code)
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"usage", &UsageError{Field: "x", Reason: "y"}, ExitUsageError},
		{"wrapped usage", fmt.Errorf("outer: %w", &UsageError{}), ExitUsageError},
		{"config", &ConfigError{Err: errors.New("bad")}, ExitConfigError},
		{"validation", config.ValidateErrors{{Field: "ui.theme", Message: "bad"}}, ExitConfigError},
		{"not found", fmt.Errorf("load: %w", storage.ErrConversationNotFound), ExitNotFoundError},
		{"load failed", engine.ErrLoadFailed, ExitEngineError},
		{"unavailable", fmt.Errorf("x: %w", engine.ErrUnavailable), ExitEngineError},
		{"timeout", context.DeadlineExceeded, ExitTimeoutError},
		{"other", errors.New("boom"), ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestRequireConfirmation(t *testing.T) {
	var out bytes.Buffer

	ok, err := RequireConfirmation("do it", ConfirmationOptions{Force: true})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = RequireConfirmation("do it", ConfirmationOptions{})
	assert.Error(t, err)

	ok, err = RequireConfirmation("do it", ConfirmationOptions{
		Interactive: true, In: strings.NewReader("yes\n"), Out: &out,
		Details: [][2]string{{"ID", "conv_1"}},
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, out.String(), "conv_1")

	ok, err = RequireConfirmation("do it", ConfirmationOptions{
		Interactive: true, In: strings.NewReader(""), Out: &out,
	})
	require.NoError(t, err)
	assert.False(t, ok, "EOF answers no")
}
