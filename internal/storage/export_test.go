// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/cleanllm/internal/config"
	"github.com/jeranaias/cleanllm/internal/model"
)

func sampleConversation() *model.Conversation {
	conv := model.NewConversation()
	conv.Title = "Rust vs Go"
	conv.Append(model.NewUserMessage("Which one?"))
	answer := model.NewAssistantMessage("It depends")
	answer.Partial = true
	conv.Append(answer)
	return conv
}

func TestParseFormat(t *testing.T) {
	tests := map[string]string{
		"md": FormatMarkdown, "Markdown": FormatMarkdown, "": FormatMarkdown,
		"json": FormatJSON, "YAML": FormatYAML, "yml": FormatYAML,
	}
	for in, want := range tests {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("pdf")
	assert.Error(t, err)
}

func TestExportMarkdown(t *testing.T) {
	md := ExportMarkdown(sampleConversation())

	assert.True(t, strings.HasPrefix(md, "# Rust vs Go\n"))
	assert.Contains(t, md, "**You**")
	assert.Contains(t, md, "Which one?")
	assert.Contains(t, md, "**Assistant**")
	assert.Contains(t, md, "_(stopped)_")
}

func TestExportJSONAndYAML(t *testing.T) {
	conv := sampleConversation()

	data, err := Export(conv, "json")
	require.NoError(t, err)
	var fromJSON model.Conversation
	require.NoError(t, json.Unmarshal(data, &fromJSON))
	assert.Equal(t, conv.ID, fromJSON.ID)
	assert.Len(t, fromJSON.Messages, 2)

	data, err = Export(conv, "yaml")
	require.NoError(t, err)
	var fromYAML map[string]any
	require.NoError(t, yaml.Unmarshal(data, &fromYAML))
	assert.Equal(t, "Rust vs Go", fromYAML["title"])
}

func TestStoreExport(t *testing.T) {
	store, _ := newFileStore(t)
	conv := sampleConversation()
	require.NoError(t, store.Save(conv))

	data, err := store.Export(conv.ID, "md")
	require.NoError(t, err)
	assert.Contains(t, string(data), "Which one?")

	_, err = store.Export("conv_missing", "md")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestFormatList(t *testing.T) {
	assert.Equal(t, "No conversations found.\n", FormatList(nil))

	conv := sampleConversation()
	conv.Title = strings.Repeat("long title ", 5)
	out := FormatList([]model.Summary{conv.Summary()})
	assert.Contains(t, out, conv.ID)
	assert.Contains(t, out, "...")
	assert.Contains(t, out, " 2\n")
}

func TestOpen(t *testing.T) {
	for _, backend := range []string{BackendFile, BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			cfg := config.Default()
			cfg.Storage.Backend = backend
			cfg.Storage.Dir = filepath.Join(t.TempDir(), "conversations")
			cfg.Storage.DBPath = filepath.Join(t.TempDir(), "conversations.db")

			store, err := Open(cfg, nil)
			require.NoError(t, err)
			defer store.Close()

			conv, err := store.Create()
			require.NoError(t, err)
			list, err := store.List()
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, conv.ID, list[0].ID)
		})
	}

	cfg := config.Default()
	cfg.Storage.Backend = "redis"
	_, err := Open(cfg, nil)
	assert.Error(t, err)
}
