// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/cleanllm/internal/engine/enginetest"
	"github.com/jeranaias/cleanllm/internal/model"
)

func TestChatSendsAndPersists(t *testing.T) {
	h := newCLIHarness(t)
	h.lines = []string{"hello world", "/quit"}

	res := h.run("chat")
	require.Equal(t, ExitSuccess, res.code, res.err)
	assert.Contains(t, res.out, "assistant> hello world")
	assert.True(t, h.reader.closed)

	list := h.list()
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].MessageCount)
	assert.Equal(t, "hello world", list[0].Title)

	prompts := h.fake.Prompts()
	require.Len(t, prompts, 1)
	assert.Equal(t, "hello world", prompts[0].Text)
}

func TestChatContinuesConversation(t *testing.T) {
	h := newCLIHarness(t)
	older := h.newConversation("older")
	h.newConversation("newer")

	h.lines = []string{"again"}
	res := h.run("chat", "--conversation", older)
	require.Equal(t, ExitSuccess, res.code, res.err)
	assert.Contains(t, res.out, older)

	for _, s := range h.list() {
		if s.ID == older {
			assert.Equal(t, 2, s.MessageCount)
		} else {
			assert.Zero(t, s.MessageCount)
		}
	}
}

func TestChatUnknownConversation(t *testing.T) {
	h := newCLIHarness(t)

	res := h.run("chat", "-c", "conv_missing")
	assert.Equal(t, ExitNotFoundError, res.code)
}

func TestChatSlashCommands(t *testing.T) {
	h := newCLIHarness(t)
	first := h.newConversation("first")
	exportPath := filepath.Join(t.TempDir(), "out.yaml")

	h.lines = []string{
		"/help",
		"/new",
		"/list",
		"/rename Fresh start",
		"/history",
		"/switch 2",
		"/export yaml " + exportPath,
		"/export pdf",
		"/switch 9",
		"/bogus",
	}
	res := h.run("chat", "-c", first)
	require.Equal(t, ExitSuccess, res.code, res.err)

	assert.Contains(t, res.out, "/switch <n|id>")
	assert.Contains(t, res.out, "No messages yet.")
	assert.Contains(t, res.out, `Renamed to "Fresh start"`)
	assert.Contains(t, res.out, "Exported to "+exportPath)
	assert.Contains(t, res.err, "pdf")
	assert.Contains(t, res.err, "pick 1-2")
	assert.Contains(t, res.err, "unknown command")

	data, err := os.ReadFile(exportPath)
	require.NoError(t, err)
	// The listing is most recent first, so entry 2 is the older conversation.
	assert.Contains(t, string(data), "title: first")

	titles := map[string]bool{}
	for _, s := range h.list() {
		titles[s.Title] = true
	}
	assert.Equal(t, map[string]bool{"first": true, "Fresh start": true}, titles)
}

func TestChatDelete(t *testing.T) {
	h := newCLIHarness(t)
	keep := h.newConversation("keep")
	drop := h.newConversation("drop")

	h.interactive = true
	h.lines = []string{"/delete", "n", "/delete", "y"}
	res := h.run("chat", "-c", drop)
	require.Equal(t, ExitSuccess, res.code, res.err)
	assert.Contains(t, res.out, "Cancelled.")
	assert.Contains(t, res.out, "Deleted "+drop)
	assert.Contains(t, res.out, keep)

	list := h.list()
	require.Len(t, list, 1)
	assert.Equal(t, keep, list[0].ID)
}

func TestChatDeleteLastCreatesNew(t *testing.T) {
	h := newCLIHarness(t)
	only := h.newConversation("only")

	h.lines = []string{"/delete"}
	res := h.run("chat", "-c", only)
	require.Equal(t, ExitSuccess, res.code, res.err)

	list := h.list()
	require.Len(t, list, 1)
	assert.NotEqual(t, only, list[0].ID)
	assert.Equal(t, model.DefaultTitle, list[0].Title)
}

func TestChatEngineFailure(t *testing.T) {
	h := newCLIHarness(t)
	h.fake = &enginetest.Backend{GPUErr: errors.New("no vram"), CPUErr: errors.New("no memory")}
	h.lines = []string{"hi", "/list"}

	res := h.run("chat")
	require.Equal(t, ExitSuccess, res.code, res.err)
	assert.Contains(t, res.err, "could not be loaded")
	assert.Contains(t, res.err, "failed to load")
	assert.NotContains(t, res.out, "assistant>")
	assert.Contains(t, res.out, model.DefaultTitle)

	list := h.list()
	require.Len(t, list, 1)
	assert.Zero(t, list[0].MessageCount)
}

func TestChatStreamingError(t *testing.T) {
	h := newCLIHarness(t)
	h.fake = &enginetest.Backend{Script: func(enginetest.PromptCall) enginetest.Reply {
		return enginetest.Reply{Tokens: []string{"par", "tial"}, Err: errors.New("device lost")}
	}}
	h.lines = []string{"question", "/history"}

	res := h.run("chat")
	require.Equal(t, ExitSuccess, res.code, res.err)
	assert.Contains(t, res.out, "assistant> partial")
	assert.Contains(t, res.err, "device lost")

	// The user turn is kept; the failed answer is not.
	list := h.list()
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].MessageCount)
}
