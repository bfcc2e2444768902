// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package core is the inference orchestration core of cleanllm.
//
// An Orchestrator owns the engine loader, the session binder and the
// generation pipeline. Presentation layers talk to it through a small
// request surface and receive everything else as Events:
//
//	orch, err := core.New(core.Options{Config: cfg, Backend: backend, Store: store})
//	if err := orch.Start(ctx); err != nil {
//		return err
//	}
//	defer orch.Shutdown(context.Background())
//
//	orch.StartGeneration(convID, "hello")
//	for ev := range orch.Events() {
//		switch ev.Kind {
//		case core.EventToken:
//			fmt.Print(ev.Text)
//		case core.EventDone:
//			return nil
//		}
//	}
//
// At most one generation runs at a time. Requests that cannot run (engine
// not ready, another generation in flight) are soft-rejected: they emit a
// single done event and change nothing.
package core
