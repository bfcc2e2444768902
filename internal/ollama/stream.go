// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"
)

// maxLineBytes bounds a single NDJSON line.
const maxLineBytes = 1 << 20

// =============================================================================
// STREAM READER
// =============================================================================

// StreamReader handles line-by-line JSON parsing of streaming responses.
type StreamReader struct {
	reader *bufio.Reader
	model  string
}

// NewStreamReader creates a new stream reader from an io.Reader.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{reader: bufio.NewReader(r)}
}

// Process reads the stream and calls the callback for each chunk.
// Blocks until the stream is complete or the context is cancelled.
// RELIABILITY: a body that ends before the done chunk is an error, so a
// dropped connection is never taken for a finished answer.
func (s *StreamReader) Process(ctx context.Context, callback StreamCallback) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, err := s.readChunk()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return &ClientError{Type: ErrTypeInvalidResponse, Message: "stream ended before done"}
			}
			return err
		}
		if chunk == nil {
			continue
		}
		callback(*chunk)
		if chunk.Done {
			return nil
		}
	}
}

// readChunk reads and parses a single line from the stream. A nil chunk
// with nil error means the line carried nothing.
func (s *StreamReader) readChunk() (*StreamChunk, error) {
	line, err := s.reader.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return nil, err
	}
	if len(line) > maxLineBytes {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "stream line too long"}
	}
	line = []byte(strings.TrimSpace(string(line)))
	if len(line) == 0 {
		return nil, nil
	}

	var response struct {
		Model   string `json:"model"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		Error              string `json:"error,omitempty"`
		Done               bool   `json:"done"`
		DoneReason         string `json:"done_reason,omitempty"`
		TotalDuration      int64  `json:"total_duration,omitempty"`
		PromptEvalCount    int    `json:"prompt_eval_count,omitempty"`
		PromptEvalDuration int64  `json:"prompt_eval_duration,omitempty"`
		EvalCount          int    `json:"eval_count,omitempty"`
		EvalDuration       int64  `json:"eval_duration,omitempty"`
	}
	if err := json.Unmarshal(line, &response); err != nil {
		// Skip malformed lines
		return nil, nil
	}
	if response.Error != "" {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: response.Error}
	}

	if response.Model != "" {
		s.model = response.Model
	}

	chunk := &StreamChunk{
		Content:    response.Message.Content,
		Done:       response.Done,
		DoneReason: response.DoneReason,
		Model:      s.model,
	}
	if response.Done {
		chunk.TotalDuration = time.Duration(response.TotalDuration)
		chunk.PromptEvalDuration = time.Duration(response.PromptEvalDuration)
		chunk.EvalDuration = time.Duration(response.EvalDuration)
		chunk.PromptTokens = response.PromptEvalCount
		chunk.CompletionTokens = response.EvalCount
	}
	return chunk, nil
}
