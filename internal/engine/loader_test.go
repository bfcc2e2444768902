// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/cleanllm/internal/engine"
	"github.com/jeranaias/cleanllm/internal/engine/enginetest"
)

func loadOpts() engine.LoadOptions {
	return engine.LoadOptions{
		ModelPath: "tiny",
		Context:   engine.ContextOptions{Size: 4096, BatchSize: 512},
	}
}

type stateRecorder struct {
	mu     sync.Mutex
	states []engine.State
}

func (r *stateRecorder) observe(s engine.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) get() []engine.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]engine.State(nil), r.states...)
}

func TestLoadWithFallback_GPU(t *testing.T) {
	b := &enginetest.Backend{}
	rec := &stateRecorder{}

	h, outcome, err := engine.LoadWithFallback(context.Background(), b, loadOpts(), rec.observe)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeGPU, outcome)
	assert.Equal(t, engine.OutcomeGPU, h.Outcome)
	assert.Equal(t, 4096, h.Capacity())
	assert.Equal(t, []engine.State{engine.StateLoadingGPU, engine.StateReady}, rec.get())

	loads := b.Loads()
	require.Len(t, loads, 1)
	assert.Equal(t, engine.GPULayersAll, loads[0].GPULayers)
}

func TestLoadWithFallback_CPUFallbackSameArtifact(t *testing.T) {
	b := &enginetest.Backend{GPUErr: errors.New("out of VRAM")}
	rec := &stateRecorder{}

	h, outcome, err := engine.LoadWithFallback(context.Background(), b, loadOpts(), rec.observe)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, engine.OutcomeCPUFallback, outcome)
	assert.Equal(t,
		[]engine.State{engine.StateLoadingGPU, engine.StateLoadingCPU, engine.StateReady},
		rec.get())

	loads := b.Loads()
	require.Len(t, loads, 2)
	assert.Equal(t, engine.GPULayersAll, loads[0].GPULayers)
	assert.Equal(t, 0, loads[1].GPULayers)
	assert.Equal(t, loads[0].Path, loads[1].Path)
}

func TestLoadWithFallback_ContextFailureFallsBack(t *testing.T) {
	b := &enginetest.Backend{}
	gpuCtxErr := errors.New("context alloc failed")
	b.ContextErr = gpuCtxErr

	_, outcome, err := engine.LoadWithFallback(context.Background(), b, loadOpts(), nil)
	require.Error(t, err)
	assert.Equal(t, engine.OutcomeBothFailed, outcome)
	// The model from each failed attempt is released.
	assert.True(t, b.LoadedModel().Closed())
}

func TestLoadWithFallback_BothFailed(t *testing.T) {
	gpuErr := errors.New("no gpu")
	cpuErr := errors.New("corrupt model file")
	b := &enginetest.Backend{GPUErr: gpuErr, CPUErr: cpuErr}
	rec := &stateRecorder{}

	h, outcome, err := engine.LoadWithFallback(context.Background(), b, loadOpts(), rec.observe)
	assert.Nil(t, h)
	assert.Equal(t, engine.OutcomeBothFailed, outcome)
	require.ErrorIs(t, err, engine.ErrLoadFailed)
	assert.ErrorIs(t, err, gpuErr)
	assert.ErrorIs(t, err, cpuErr)
	assert.True(t, b.Closed())
	assert.Equal(t,
		[]engine.State{engine.StateLoadingGPU, engine.StateLoadingCPU, engine.StateFailed},
		rec.get())
}

func TestLoadWithFallback_ForceCPU(t *testing.T) {
	b := &enginetest.Backend{}
	opts := loadOpts()
	opts.ForceCPU = true

	_, outcome, err := engine.LoadWithFallback(context.Background(), b, opts, nil)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeCPUFallback, outcome)
	require.Len(t, b.Loads(), 1)
	assert.True(t, b.Loads()[0].CPUOnly())
}

func TestLoader_InitializeOnce(t *testing.T) {
	b := &enginetest.Backend{GPUErr: errors.New("no gpu")}
	rec := &stateRecorder{}
	l := engine.NewLoader(b, loadOpts(), rec.observe)
	assert.Equal(t, engine.StateUninitialized, l.State())
	assert.Nil(t, l.Handle())

	var wg sync.WaitGroup
	handles := make([]*engine.Handle, 8)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := l.Initialize(context.Background())
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}
	assert.Len(t, b.Loads(), 2, "second Initialize must not reload")
	assert.Equal(t, engine.StateReady, l.State())
	assert.Equal(t, engine.OutcomeCPUFallback, l.Outcome())
	assert.Same(t, handles[0], l.Handle())
	assert.Equal(t,
		[]engine.State{engine.StateLoadingGPU, engine.StateLoadingCPU, engine.StateReady},
		rec.get())
}

func TestLoader_FailedIsTerminal(t *testing.T) {
	b := &enginetest.Backend{GPUErr: errors.New("a"), CPUErr: errors.New("b")}
	l := engine.NewLoader(b, loadOpts(), nil)

	_, err := l.Initialize(context.Background())
	require.ErrorIs(t, err, engine.ErrLoadFailed)
	assert.Equal(t, engine.StateFailed, l.State())
	assert.True(t, l.State().Terminal())
	assert.Nil(t, l.Handle())

	_, err = l.Initialize(context.Background())
	assert.ErrorIs(t, err, engine.ErrLoadFailed)
}

func TestHandle_CloseOrderAndIdempotent(t *testing.T) {
	b := &enginetest.Backend{}
	h, _, err := engine.LoadWithFallback(context.Background(), b, loadOpts(), nil)
	require.NoError(t, err)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.True(t, b.LoadedContext().Closed())
	assert.True(t, b.LoadedModel().Closed())
	assert.True(t, b.Closed())
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "ready", engine.StateReady.String())
	assert.Equal(t, "loading-gpu", engine.StateLoadingGPU.String())
	assert.Equal(t, "cpu-fallback", engine.OutcomeCPUFallback.String())
}
