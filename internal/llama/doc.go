// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package llama provides the native llama.cpp inference backend.
//
// The backend talks to llama.cpp through github.com/hybridgroup/yzma, which
// loads the prebuilt shared libraries at runtime without CGO. It is compiled
// in only with the yzma build tag:
//
//	go build -tags yzma .
//
// Without the tag every load attempt fails with engine.ErrUnavailable, so the
// loader ends in the Failed state and the application runs degraded.
//
// Prompts are formatted as ChatML. A session decodes its seed history once
// and afterwards only the tokens of each new turn.
package llama
