// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/cleanllm/internal/model"
)

type summaryRecorder struct {
	mu    sync.Mutex
	lists [][]model.Summary
}

func (r *summaryRecorder) record(s []model.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lists = append(r.lists, s)
}

func (r *summaryRecorder) last() []model.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.lists) == 0 {
		return nil
	}
	return r.lists[len(r.lists)-1]
}

func TestWatcher_ExternalEditInvalidatesCache(t *testing.T) {
	store, dir := newFileStore(t)
	conv, err := store.Create()
	require.NoError(t, err)

	// Prime the cache.
	_, err = store.List()
	require.NoError(t, err)

	_, err = store.Watch(dir, 20*time.Millisecond)
	require.NoError(t, err)

	rec := &summaryRecorder{}
	store.Subscribe(rec.record)

	edited := conv.Clone()
	edited.Title = "Edited elsewhere"
	data, err := json.Marshal(edited)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, conv.ID+".json"), data, 0600))

	require.Eventually(t, func() bool {
		last := rec.last()
		return len(last) == 1 && last[0].Title == "Edited elsewhere"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatcher_NewExternalRecordAppears(t *testing.T) {
	store, dir := newFileStore(t)
	_, err := store.Watch(dir, 20*time.Millisecond)
	require.NoError(t, err)

	rec := &summaryRecorder{}
	store.Subscribe(rec.record)

	conv := model.NewConversation()
	conv.Title = "Imported"
	data, err := json.Marshal(conv)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, conv.ID+".json"), data, 0600))

	require.Eventually(t, func() bool {
		last := rec.last()
		return len(last) == 1 && last[0].ID == conv.ID
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatcher_SettledWaitsForQuietPeriod(t *testing.T) {
	w := &Watcher{
		debounce: 100 * time.Millisecond,
		pending:  make(map[string]time.Time),
		own:      make(map[string]time.Time),
	}
	now := time.Now()

	w.record("conv_a", now)
	w.record("conv_b", now.Add(80*time.Millisecond))

	assert.Empty(t, w.settled(now.Add(120*time.Millisecond)))
	assert.ElementsMatch(t, []string{"conv_a", "conv_b"}, w.settled(now.Add(200*time.Millisecond)))
	assert.Empty(t, w.settled(now.Add(300*time.Millisecond)))
}

func TestWatcher_IgnoresOwnWrites(t *testing.T) {
	w := &Watcher{
		debounce: time.Millisecond,
		pending:  make(map[string]time.Time),
		own:      make(map[string]time.Time),
	}
	w.markOwn("conv_a")
	w.record("conv_a", time.Now())
	assert.Empty(t, w.pending)

	w.record("conv_a", time.Now().Add(2*ownWriteWindow))
	assert.Len(t, w.pending, 1)
}

func TestWatcher_CloseWithStore(t *testing.T) {
	store, dir := newFileStore(t)
	w, err := store.Watch(dir, 0)
	require.NoError(t, err)

	_, err = store.Watch(dir, 0)
	assert.Error(t, err, "second watcher must be refused")

	require.NoError(t, store.Close())
	assert.NoError(t, w.Close())
}
