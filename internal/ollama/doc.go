// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API
// and the engine.Backend built on it.
//
// # Key Types
//
//   - Client: HTTP client for health checks, preloading and streaming chat
//   - Backend: engine.Backend adapter; GPU offload is requested with
//     options.num_gpu and verified through /api/ps
//   - Session: per-conversation chat history replayed on each turn
//   - StreamReader: NDJSON reader for streaming chat responses
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: url})
//	backend := ollama.NewBackend(client, ollama.BackendConfig{AutoStart: true, KeepAlive: "30m"})
//	handle, outcome, err := engine.LoadWithFallback(ctx, backend, opts, nil)
package ollama
