// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the structured loggers used across cleanllm.
//
// Records fan out to two sinks: human-readable text on stderr, filtered at
// the configured level, and JSON lines in a size-rotated file under
// $CLEANLLM_HOME/logs. Components derive child loggers with Component.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures Setup.
type Options struct {
	// Level filters the stderr sink.
	Level slog.Level
	// FileLevel filters the JSON file sink.
	FileLevel slog.Level
	// File is the rotated log path; empty disables the file sink.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	// Stderr receives the text sink. Defaults to os.Stderr.
	Stderr io.Writer
}

// Setup creates the fan-out logger and returns it with a cleanup function
// that closes the rotated file.
func Setup(opts Options) (*slog.Logger, func() error, error) {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	stderrHandler := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: opts.Level})

	if opts.File == "" {
		return slog.New(stderrHandler), func() error { return nil }, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0700); err != nil {
		// Fall back to stderr-only if the log directory is unusable.
		return slog.New(stderrHandler), func() error { return nil },
			fmt.Errorf("create log directory: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	return fanout(stderrHandler, rotator, opts.FileLevel), rotator.Close, nil
}

// fanout sends every record to the text handler and, as JSON lines, to file.
func fanout(text slog.Handler, file io.Writer, fileLevel slog.Level) *slog.Logger {
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{
		Level:     fileLevel,
		AddSource: fileLevel <= slog.LevelDebug,
	})
	return slog.New(slogmulti.Fanout(text, fileHandler))
}

// ParseLevel maps debug/info/warn/error to a slog level. Unknown names
// yield LevelWarn.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// Component returns a child logger tagged with the component name.
// A nil parent yields a discarding logger.
func Component(parent *slog.Logger, name string) *slog.Logger {
	if parent == nil {
		parent = Discard()
	}
	return parent.With(slog.String("component", name))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
