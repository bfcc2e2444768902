// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 4096, cfg.Engine.ContextSize)
	assert.Equal(t, 0.7, cfg.Generation.Temperature)
	assert.Equal(t, 40, cfg.Generation.TopK)
	assert.Equal(t, 0.9, cfg.Generation.TopP)
	assert.Equal(t, 1.1, cfg.Generation.RepeatPenalty)
	assert.Equal(t, DefaultStop, cfg.Generation.Stop)
	assert.Equal(t, 22, cfg.Generation.TitleMaxWidth)
	assert.Equal(t, 0.7, cfg.Budget.HistoryFraction)
	assert.Equal(t, 10, cfg.Shutdown.TimeoutSecs)
}

func TestLoad_TOML(t *testing.T) {
	home := t.TempDir()
	t.Setenv(HomeEnv, home)

	data := `
[engine]
model = "qwen2.5:7b"
context_size = 8192

[storage]
backend = "sqlite"
`
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.toml"), []byte(data), 0600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5:7b", cfg.Engine.Model)
	assert.Equal(t, 8192, cfg.Engine.ContextSize)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	// Untouched sections keep defaults.
	assert.Equal(t, "ollama", cfg.Engine.Backend)
	assert.Equal(t, 512, cfg.Engine.BatchSize)
}

func TestLoad_JSONWithComments(t *testing.T) {
	home := t.TempDir()
	t.Setenv(HomeEnv, home)

	data := `{
  // local model
  "engine": {"model": "mistral", "force_cpu": true,},
  /* block comment */
  "budget": {"chars_per_token": 4}
}`
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.json"), []byte(data), 0600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "mistral", cfg.Engine.Model)
	assert.True(t, cfg.Engine.ForceCPU)
	assert.Equal(t, 4.0, cfg.Budget.CharsPerToken)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default().Engine, cfg.Engine)
}

func TestLoad_InvalidValueRejected(t *testing.T) {
	home := t.TempDir()
	t.Setenv(HomeEnv, home)

	data := "[storage]\nbackend = \"postgres\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.toml"), []byte(data), 0600))

	_, err := Load()
	require.Error(t, err)

	var verrs ValidateErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, "storage.backend", verrs[0].Field)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("CLEANLLM_BACKEND", "llama")
	t.Setenv("CLEANLLM_MODEL_PATH", "/models/tiny.gguf")
	t.Setenv("CLEANLLM_CONTEXT_SIZE", "2048")
	t.Setenv("CLEANLLM_FORCE_CPU", "true")
	t.Setenv("CLEANLLM_STORAGE", "sqlite")
	t.Setenv("CLEANLLM_LOG_LEVEL", "debug")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "llama", cfg.Engine.Backend)
	assert.Equal(t, "/models/tiny.gguf", cfg.Engine.ModelPath)
	assert.Equal(t, 2048, cfg.Engine.ContextSize)
	assert.True(t, cfg.Engine.ForceCPU)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "debug", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Engine.Backend = "vllm"
	cfg.Budget.HistoryFraction = 1.5
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)

	verrs, ok := err.(ValidateErrors)
	require.True(t, ok)
	fields := make([]string, 0, len(verrs))
	for _, e := range verrs {
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{"engine.backend", "budget.history_fraction", "logging.level"}, fields)
}

func TestValidate_LlamaNeedsModelPath(t *testing.T) {
	cfg := Default()
	cfg.Engine.Backend = "llama"
	assert.Error(t, cfg.Validate())

	cfg.Engine.ModelPath = "/models/x.gguf"
	assert.NoError(t, cfg.Validate())
}

func TestGetSet(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Set("engine.context_size", "8192"))
	require.NoError(t, cfg.Set("generation.top_p", "0.5"))
	require.NoError(t, cfg.Set("engine.force_cpu", "yes"))
	require.NoError(t, cfg.Set("generation.stop", "</s>, <|im_end|>"))

	v, err := cfg.Get("engine.context_size")
	require.NoError(t, err)
	assert.Equal(t, 8192, v)
	assert.Equal(t, 0.5, cfg.Generation.TopP)
	assert.True(t, cfg.Engine.ForceCPU)
	assert.Equal(t, []string{"</s>", "<|im_end|>"}, cfg.Generation.Stop)

	_, err = cfg.Get("engine.nope")
	assert.Error(t, err)
	_, err = cfg.Get("engine.model.name")
	assert.Error(t, err)
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.Engine.Model = "phi3"
	cfg.Storage.Backend = "sqlite"
	require.NoError(t, SaveTOML(cfg, path))

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "phi3", loaded.Engine.Model)
	assert.Equal(t, "sqlite", loaded.Storage.Backend)
	assert.Equal(t, cfg.Generation.Stop, loaded.Generation.Stop)
}

func TestPaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv(HomeEnv, home)

	cfg := Default()
	dir, err := cfg.ConversationsDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "conversations"), dir)

	db, err := cfg.DatabasePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "conversations.db"), db)

	logPath, err := cfg.LogPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "logs", "cleanllm.log"), logPath)

	cfg.Logging.File = "-"
	logPath, err = cfg.LogPath()
	require.NoError(t, err)
	assert.Empty(t, logPath)
}

func TestClone_Independent(t *testing.T) {
	cfg := Default()
	clone := cfg.Clone()
	clone.Generation.Stop[0] = "changed"
	assert.Equal(t, "<|im_end|>", cfg.Generation.Stop[0])
}
