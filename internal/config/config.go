// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for cleanllm.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - $CLEANLLM_HOME/config.toml
//   - $CLEANLLM_HOME/config.json (comments and trailing commas allowed)
//   - Built-in defaults
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"

	"github.com/jeranaias/cleanllm/internal/util"
)

// HomeEnv names the environment variable that relocates the data directory.
const HomeEnv = "CLEANLLM_HOME"

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete cleanllm configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	Engine     EngineConfig     `toml:"engine" json:"engine"`
	Generation GenerationConfig `toml:"generation" json:"generation"`
	Budget     BudgetConfig     `toml:"budget" json:"budget"`
	Storage    StorageConfig    `toml:"storage" json:"storage"`
	Logging    LoggingConfig    `toml:"logging" json:"logging"`
	Shutdown   ShutdownConfig   `toml:"shutdown" json:"shutdown"`
	UI         UIConfig         `toml:"ui" json:"ui"`
}

// EngineConfig selects and sizes the local inference engine.
type EngineConfig struct {
	// Backend is "ollama" (default) or "llama" (native, needs the yzma build tag).
	Backend string `toml:"backend" json:"backend"`
	// Model is the Ollama model name.
	Model string `toml:"model" json:"model"`
	// ModelPath is the GGUF file loaded by the llama backend.
	ModelPath string `toml:"model_path" json:"model_path"`
	// LibPath is the directory holding the llama.cpp shared libraries.
	LibPath string `toml:"lib_path" json:"lib_path"`
	// OllamaURL is the URL of the Ollama server.
	OllamaURL string `toml:"ollama_url" json:"ollama_url"`
	// AutoStart spawns "ollama serve" when the server is not reachable.
	AutoStart bool `toml:"auto_start" json:"auto_start"`
	// ContextSize is the fixed capacity C of the shared context, in tokens.
	ContextSize int `toml:"context_size" json:"context_size"`
	// BatchSize is the prompt evaluation batch size.
	BatchSize int `toml:"batch_size" json:"batch_size"`
	// Threads is the CPU thread count (0 = backend default).
	Threads int `toml:"threads" json:"threads"`
	// ForceCPU skips the GPU attempt.
	ForceCPU bool `toml:"force_cpu" json:"force_cpu"`
	// KeepAlive is how long Ollama keeps the model resident (Go duration).
	KeepAlive string `toml:"keep_alive" json:"keep_alive"`
	// LoadTimeoutSecs bounds each load attempt.
	LoadTimeoutSecs int `toml:"load_timeout_secs" json:"load_timeout_secs"`
}

// GenerationConfig holds prompting and sampling parameters.
type GenerationConfig struct {
	SystemPrompt  string   `toml:"system_prompt" json:"system_prompt"`
	Temperature   float64  `toml:"temperature" json:"temperature"`
	TopK          int      `toml:"top_k" json:"top_k"`
	TopP          float64  `toml:"top_p" json:"top_p"`
	RepeatPenalty float64  `toml:"repeat_penalty" json:"repeat_penalty"`
	Stop          []string `toml:"stop" json:"stop"`
	// TitleMaxWidth is the width in display cells of auto-generated titles.
	TitleMaxWidth int `toml:"title_max_width" json:"title_max_width"`
}

// BudgetConfig parameterises the context-window budget.
type BudgetConfig struct {
	// CharsPerToken is the characters-per-token ratio R.
	CharsPerToken   float64 `toml:"chars_per_token" json:"chars_per_token"`
	HistoryFraction float64 `toml:"history_fraction" json:"history_fraction"`
	AnswerMargin    int     `toml:"answer_margin" json:"answer_margin"`
	MinAnswer       int     `toml:"min_answer" json:"min_answer"`
}

// StorageConfig selects where conversations are persisted.
type StorageConfig struct {
	// Backend is "file" (one JSON file per conversation) or "sqlite".
	Backend string `toml:"backend" json:"backend"`
	// Dir overrides $CLEANLLM_HOME/conversations for the file backend.
	Dir string `toml:"dir" json:"dir"`
	// DBPath overrides $CLEANLLM_HOME/conversations.db for the sqlite backend.
	DBPath string `toml:"db_path" json:"db_path"`
	// Watch reloads listings when files are edited outside cleanllm.
	Watch bool `toml:"watch" json:"watch"`
	// CacheTTLMins is how long conversation summaries stay cached.
	CacheTTLMins int `toml:"cache_ttl_mins" json:"cache_ttl_mins"`
}

// LoggingConfig controls the stderr and rotated-file log sinks.
type LoggingConfig struct {
	// Level is the stderr level: debug, info, warn, error.
	Level string `toml:"level" json:"level"`
	// FileLevel is the level of the JSON log file.
	FileLevel string `toml:"file_level" json:"file_level"`
	// File overrides $CLEANLLM_HOME/logs/cleanllm.log. "-" disables the file sink.
	File       string `toml:"file" json:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days"`
	Compress   bool   `toml:"compress" json:"compress"`
}

// ShutdownConfig bounds teardown.
type ShutdownConfig struct {
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
}

// UIConfig contains presentation settings.
type UIConfig struct {
	Theme          string `toml:"theme" json:"theme"`
	NoColor        bool   `toml:"no_color" json:"no_color"`
	RenderMarkdown bool   `toml:"render_markdown" json:"render_markdown"`
	SidebarWidth   int    `toml:"sidebar_width" json:"sidebar_width"`
}

// DefaultStop lists the turn-boundary tokens used by common chat templates.
var DefaultStop = []string{"<|im_end|>", "<|eot_id|>", "<|end|>", "</s>", "<|endoftext|>"}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Engine: EngineConfig{
			Backend:         "ollama",
			Model:           "llama3.2:3b",
			OllamaURL:       "http://127.0.0.1:11434",
			AutoStart:       true,
			ContextSize:     4096,
			BatchSize:       512,
			KeepAlive:       "30m",
			LoadTimeoutSecs: 300,
		},

		Generation: GenerationConfig{
			SystemPrompt:  "You are a helpful assistant.",
			Temperature:   0.7,
			TopK:          40,
			TopP:          0.9,
			RepeatPenalty: 1.1,
			Stop:          append([]string(nil), DefaultStop...),
			TitleMaxWidth: 22,
		},

		Budget: BudgetConfig{
			CharsPerToken:   3,
			HistoryFraction: 0.7,
			AnswerMargin:    100,
			MinAnswer:       200,
		},

		Storage: StorageConfig{
			Backend:      "file",
			Watch:        true,
			CacheTTLMins: 60,
		},

		Logging: LoggingConfig{
			Level:      "warn",
			FileLevel:  "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},

		Shutdown: ShutdownConfig{
			TimeoutSecs: 10,
		},

		UI: UIConfig{
			Theme:          "dark",
			RenderMarkdown: true,
			SidebarWidth:   28,
		},
	}
}

// =============================================================================
// PATH HELPERS
// =============================================================================

// ConfigDir returns the cleanllm home directory ($CLEANLLM_HOME or ~/.cleanllm).
func ConfigDir() (string, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".cleanllm"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ConversationsDir returns the directory used by the file storage backend.
func (c *Config) ConversationsDir() (string, error) {
	if c.Storage.Dir != "" {
		return c.Storage.Dir, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "conversations"), nil
}

// DatabasePath returns the SQLite database path used by the sqlite backend.
func (c *Config) DatabasePath() (string, error) {
	if c.Storage.DBPath != "" {
		return c.Storage.DBPath, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "conversations.db"), nil
}

// LogPath returns the rotated log file path, or "" when the file sink is off.
func (c *Config) LogPath() (string, error) {
	switch c.Logging.File {
	case "-":
		return "", nil
	case "":
		dir, err := ConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, "logs", "cleanllm.log"), nil
	default:
		return c.Logging.File, nil
	}
}

// HistoryPath returns the REPL line-history file.
func HistoryPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "chat_history"), nil
}

// ShutdownTimeout returns the teardown bound as a duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Shutdown.TimeoutSecs) * time.Second
}

// LoadTimeout returns the per-attempt engine load bound.
func (c *Config) LoadTimeout() time.Duration {
	return time.Duration(c.Engine.LoadTimeoutSecs) * time.Second
}

// ModelArtifact returns what the selected backend loads: the GGUF path for
// the llama backend, the model name otherwise.
func (c *Config) ModelArtifact() string {
	if c.Engine.Backend == "llama" {
		return c.Engine.ModelPath
	}
	return c.Engine.Model
}

// CacheTTL returns how long summaries stay cached.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Storage.CacheTTLMins) * time.Minute
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	cfg := Default()
	var loadErr error

	tomlPath, err := ConfigPathTOML()
	if err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			if err := LoadTOML(cfg, tomlPath); err != nil {
				loadErr = fmt.Errorf("failed to load TOML config: %w", err)
			} else {
				return finish(cfg)
			}
		}
	}

	jsonPath, err := ConfigPathJSON()
	if err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			if err := LoadJSON(cfg, jsonPath); err != nil {
				loadErr = errors.Join(loadErr, fmt.Errorf("failed to load JSON config: %w", err))
			} else {
				return finish(cfg)
			}
		}
	}

	// Defaults, with any load error returned for informational purposes.
	cfg = Default()
	out, err := finish(cfg)
	if err != nil {
		return nil, err
	}
	return out, loadErr
}

// finish applies env overrides, defaults and validation.
func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	if err := fillDefaults(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML loads configuration from a TOML file.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		fmt.Fprintf(os.Stderr, "Warning: unknown config keys in %s: %s\n", path, strings.Join(keys, ", "))
	}
	return fillDefaults(cfg)
}

// LoadJSON loads configuration from a JSON file. Comments and trailing
// commas are accepted.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return fillDefaults(cfg)
}

// LoadFromPath loads configuration from a specific file path with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") || strings.HasSuffix(path, ".jsonc") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	return finish(cfg)
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) error {
	d := Default()

	if cfg.Version == "" {
		cfg.Version = d.Version
	}

	// Engine
	if cfg.Engine.Backend == "" {
		cfg.Engine.Backend = d.Engine.Backend
	}
	if cfg.Engine.Model == "" {
		cfg.Engine.Model = d.Engine.Model
	}
	if cfg.Engine.OllamaURL == "" {
		cfg.Engine.OllamaURL = d.Engine.OllamaURL
	}
	if cfg.Engine.ContextSize == 0 {
		cfg.Engine.ContextSize = d.Engine.ContextSize
	}
	if cfg.Engine.BatchSize == 0 {
		cfg.Engine.BatchSize = d.Engine.BatchSize
	}
	if cfg.Engine.KeepAlive == "" {
		cfg.Engine.KeepAlive = d.Engine.KeepAlive
	}
	if cfg.Engine.LoadTimeoutSecs == 0 {
		cfg.Engine.LoadTimeoutSecs = d.Engine.LoadTimeoutSecs
	}

	// Generation
	if cfg.Generation.SystemPrompt == "" {
		cfg.Generation.SystemPrompt = d.Generation.SystemPrompt
	}
	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = d.Generation.Temperature
	}
	if cfg.Generation.TopK == 0 {
		cfg.Generation.TopK = d.Generation.TopK
	}
	if cfg.Generation.TopP == 0 {
		cfg.Generation.TopP = d.Generation.TopP
	}
	if cfg.Generation.RepeatPenalty == 0 {
		cfg.Generation.RepeatPenalty = d.Generation.RepeatPenalty
	}
	if cfg.Generation.Stop == nil {
		cfg.Generation.Stop = d.Generation.Stop
	}
	if cfg.Generation.TitleMaxWidth == 0 {
		cfg.Generation.TitleMaxWidth = d.Generation.TitleMaxWidth
	}

	// Budget
	if cfg.Budget.CharsPerToken == 0 {
		cfg.Budget.CharsPerToken = d.Budget.CharsPerToken
	}
	if cfg.Budget.HistoryFraction == 0 {
		cfg.Budget.HistoryFraction = d.Budget.HistoryFraction
	}
	if cfg.Budget.AnswerMargin == 0 {
		cfg.Budget.AnswerMargin = d.Budget.AnswerMargin
	}
	if cfg.Budget.MinAnswer == 0 {
		cfg.Budget.MinAnswer = d.Budget.MinAnswer
	}

	// Storage
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = d.Storage.Backend
	}
	if cfg.Storage.CacheTTLMins == 0 {
		cfg.Storage.CacheTTLMins = d.Storage.CacheTTLMins
	}

	// Logging
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.FileLevel == "" {
		cfg.Logging.FileLevel = d.Logging.FileLevel
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = d.Logging.MaxSizeMB
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = d.Logging.MaxBackups
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = d.Logging.MaxAgeDays
	}

	// Shutdown
	if cfg.Shutdown.TimeoutSecs == 0 {
		cfg.Shutdown.TimeoutSecs = d.Shutdown.TimeoutSecs
	}

	// UI
	if cfg.UI.Theme == "" {
		cfg.UI.Theme = d.UI.Theme
	}
	if cfg.UI.SidebarWidth == 0 {
		cfg.UI.SidebarWidth = d.UI.SidebarWidth
	}

	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file.
// RELIABILITY: Atomic write with fsync prevents data loss on crash
func SaveTOML(cfg *Config, path string) error {
	data, err := cfg.TOML()
	if err != nil {
		return err
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// TOML renders the configuration with a header comment.
func (c *Config) TOML() ([]byte, error) {
	var b strings.Builder
	b.WriteString("# cleanllm configuration file\n")
	b.WriteString("# Generated by cleanllm - edit with care\n\n")
	if err := toml.NewEncoder(&b).Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return []byte(b.String()), nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// ==========================================================================
	// Engine
	// ==========================================================================

	switch strings.ToLower(c.Engine.Backend) {
	case "ollama", "llama":
	default:
		add("engine.backend", "invalid backend '%s', must be one of: ollama, llama", c.Engine.Backend)
	}
	if strings.EqualFold(c.Engine.Backend, "llama") && c.Engine.ModelPath == "" {
		add("engine.model_path", "required when engine.backend is llama")
	}
	if c.Engine.OllamaURL != "" {
		if u, err := url.Parse(c.Engine.OllamaURL); err != nil || u.Scheme == "" || u.Host == "" {
			add("engine.ollama_url", "invalid URL '%s'", c.Engine.OllamaURL)
		}
	}
	if c.Engine.ContextSize < 512 || c.Engine.ContextSize > 1<<20 {
		add("engine.context_size", "must be 512-1048576, got %d", c.Engine.ContextSize)
	}
	if c.Engine.BatchSize < 1 || c.Engine.BatchSize > c.Engine.ContextSize {
		add("engine.batch_size", "must be 1-context_size, got %d", c.Engine.BatchSize)
	}
	if c.Engine.Threads < 0 {
		add("engine.threads", "must be non-negative")
	}
	if _, err := time.ParseDuration(c.Engine.KeepAlive); err != nil {
		add("engine.keep_alive", "invalid duration '%s'", c.Engine.KeepAlive)
	}

	// ==========================================================================
	// Generation
	// ==========================================================================

	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		add("generation.temperature", "must be between 0.0 and 2.0")
	}
	if c.Generation.TopK < 0 {
		add("generation.top_k", "must be non-negative")
	}
	if c.Generation.TopP < 0 || c.Generation.TopP > 1 {
		add("generation.top_p", "must be between 0.0 and 1.0")
	}
	if c.Generation.RepeatPenalty < 0 {
		add("generation.repeat_penalty", "must be non-negative")
	}
	if c.Generation.TitleMaxWidth < 4 {
		add("generation.title_max_width", "must be at least 4, got %d", c.Generation.TitleMaxWidth)
	}

	// ==========================================================================
	// Budget
	// ==========================================================================

	if c.Budget.CharsPerToken <= 0 {
		add("budget.chars_per_token", "must be positive")
	}
	if c.Budget.HistoryFraction <= 0 || c.Budget.HistoryFraction >= 1 {
		add("budget.history_fraction", "must be between 0.0 and 1.0 (exclusive)")
	}
	if c.Budget.AnswerMargin < 0 {
		add("budget.answer_margin", "must be non-negative")
	}
	if c.Budget.MinAnswer < 1 {
		add("budget.min_answer", "must be positive")
	}

	// ==========================================================================
	// Storage, logging, shutdown, UI
	// ==========================================================================

	switch strings.ToLower(c.Storage.Backend) {
	case "file", "sqlite":
	default:
		add("storage.backend", "invalid backend '%s', must be one of: file, sqlite", c.Storage.Backend)
	}
	if c.Storage.CacheTTLMins < 0 {
		add("storage.cache_ttl_mins", "must be non-negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		add("logging.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}
	if !validLevels[strings.ToLower(c.Logging.FileLevel)] {
		add("logging.file_level", "invalid level '%s', must be one of: debug, info, warn, error", c.Logging.FileLevel)
	}

	if c.Shutdown.TimeoutSecs < 1 || c.Shutdown.TimeoutSecs > 300 {
		add("shutdown.timeout_secs", "must be 1-300, got %d", c.Shutdown.TimeoutSecs)
	}

	validThemes := map[string]bool{"dark": true, "light": true, "auto": true}
	if !validThemes[strings.ToLower(c.UI.Theme)] {
		add("ui.theme", "invalid theme '%s', must be one of: dark, light, auto", c.UI.Theme)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - CLEANLLM_BACKEND: overrides engine.backend
//   - CLEANLLM_MODEL: overrides engine.model
//   - CLEANLLM_MODEL_PATH: overrides engine.model_path
//   - CLEANLLM_OLLAMA_URL: overrides engine.ollama_url
//   - CLEANLLM_CONTEXT_SIZE: overrides engine.context_size
//   - CLEANLLM_FORCE_CPU: set to "1" or "true" to skip the GPU attempt
//   - CLEANLLM_STORAGE: overrides storage.backend
//   - CLEANLLM_LOG_LEVEL: overrides logging.level
//
// CLEANLLM_HOME is read directly by ConfigDir.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CLEANLLM_BACKEND"); v != "" {
		c.Engine.Backend = v
	}
	if v := os.Getenv("CLEANLLM_MODEL"); v != "" {
		c.Engine.Model = v
	}
	if v := os.Getenv("CLEANLLM_MODEL_PATH"); v != "" {
		c.Engine.ModelPath = v
	}
	if v := os.Getenv("CLEANLLM_OLLAMA_URL"); v != "" {
		c.Engine.OllamaURL = v
	}
	if v := os.Getenv("CLEANLLM_CONTEXT_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Engine.ContextSize = n
		}
	}
	if v := os.Getenv("CLEANLLM_FORCE_CPU"); v != "" {
		c.Engine.ForceCPU = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("CLEANLLM_STORAGE"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("CLEANLLM_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "engine.context_size").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation (e.g., "engine.context_size").
// String values are converted to the field's type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(part[:1]))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			field.SetBool(strVal == "1" || strings.EqualFold(strVal, "true") || strings.EqualFold(strVal, "yes"))
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				var items []string
				for _, s := range strings.Split(strVal, ",") {
					if s = strings.TrimSpace(s); s != "" {
						items = append(items, s)
					}
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Generation.Stop = append([]string(nil), c.Generation.Stop...)
	return &clone
}
