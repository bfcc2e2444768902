// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/cleanllm/internal/model"
)

// =============================================================================
// HELPERS
// =============================================================================

func newFileStore(t *testing.T) (*ConversationStore, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "conversations")
	kv, err := NewFileKV(dir)
	require.NoError(t, err)
	store := NewConversationStore(kv, Options{})
	t.Cleanup(func() { store.Close() })
	return store, dir
}

// failingKV fails every write.
type failingKV struct {
	KV
}

func (failingKV) Put(string, []byte) error { return errors.New("disk full") }

// =============================================================================
// CONVERSATION STORE TESTS
// =============================================================================

func TestConversationStore_SaveAndLoad(t *testing.T) {
	for name, factory := range kvFactories {
		t.Run(name, func(t *testing.T) {
			store := NewConversationStore(factory(t), Options{})

			conv := model.NewConversation()
			conv.Title = "Greetings"
			conv.Model = "test-model"
			conv.Append(model.NewUserMessage("Hello"))
			conv.Append(model.NewAssistantMessage("Hi there! 日本語"))
			before := conv.Timestamp

			time.Sleep(2 * time.Millisecond)
			require.NoError(t, store.Save(conv))
			assert.True(t, conv.Timestamp.After(before), "Save must refresh the timestamp")

			loaded, err := store.Load(conv.ID)
			require.NoError(t, err)
			assert.Equal(t, conv.ID, loaded.ID)
			assert.Equal(t, "Greetings", loaded.Title)
			assert.Equal(t, "test-model", loaded.Model)
			require.Len(t, loaded.Messages, 2)
			assert.Equal(t, model.RoleUser, loaded.Messages[0].Role)
			assert.Equal(t, "Hi there! 日本語", loaded.Messages[1].Content)
			assert.True(t, conv.Timestamp.Equal(loaded.Timestamp))
		})
	}
}

func TestConversationStore_LoadNotFound(t *testing.T) {
	store, _ := newFileStore(t)

	_, err := store.Load("conv_missing")
	if !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("Load err = %v, want ErrConversationNotFound", err)
	}
}

func TestConversationStore_Create(t *testing.T) {
	store, _ := newFileStore(t)

	conv, err := store.Create()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(conv.ID, "conv_"))
	assert.Equal(t, model.DefaultTitle, conv.Title)
	assert.Empty(t, conv.Messages)

	loaded, err := store.Load(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultTitle, loaded.Title)
	assert.NotNil(t, loaded.Messages)

	other, err := store.Create()
	require.NoError(t, err)
	assert.NotEqual(t, conv.ID, other.ID)
}

func TestConversationStore_List(t *testing.T) {
	for name, factory := range kvFactories {
		t.Run(name, func(t *testing.T) {
			store := NewConversationStore(factory(t), Options{})

			var ids []string
			for i := 0; i < 3; i++ {
				conv, err := store.Create()
				require.NoError(t, err)
				ids = append(ids, conv.ID)
				time.Sleep(2 * time.Millisecond)
			}

			// Touch the oldest so it becomes the newest.
			first, err := store.Load(ids[0])
			require.NoError(t, err)
			first.Append(model.NewUserMessage("  bump\nme  "))
			require.NoError(t, store.Save(first))

			list, err := store.List()
			require.NoError(t, err)
			require.Len(t, list, 3)
			assert.Equal(t, ids[0], list[0].ID)
			assert.Equal(t, ids[2], list[1].ID)
			assert.Equal(t, ids[1], list[2].ID)
			assert.Equal(t, 1, list[0].MessageCount)
			assert.Equal(t, "bump me", list[0].Preview)
		})
	}
}

func TestConversationStore_ListEmpty(t *testing.T) {
	store, _ := newFileStore(t)

	list, err := store.List()
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestConversationStore_ListSkipsCorrupt(t *testing.T) {
	store, dir := newFileStore(t)

	good, err := store.Create()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "conv_broken.json"), []byte("{not json"), 0600))

	list, err := store.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, good.ID, list[0].ID)

	_, err = store.Load("conv_broken")
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestConversationStore_Delete(t *testing.T) {
	store, _ := newFileStore(t)
	conv, err := store.Create()
	require.NoError(t, err)

	var hooked []string
	store.SetDeleteHook(func(id string) { hooked = append(hooked, id) })

	var notified [][]model.Summary
	unsubscribe := store.Subscribe(func(s []model.Summary) { notified = append(notified, s) })
	defer unsubscribe()

	require.NoError(t, store.Delete(conv.ID))
	assert.Equal(t, []string{conv.ID}, hooked)
	require.Len(t, notified, 1)
	assert.Empty(t, notified[0])

	_, err = store.Load(conv.ID)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestConversationStore_DeleteNotFound(t *testing.T) {
	store, _ := newFileStore(t)

	hookCalled := false
	store.SetDeleteHook(func(string) { hookCalled = true })

	err := store.Delete("conv_nonexistent")
	if !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("Delete err = %v, want ErrConversationNotFound", err)
	}
	if hookCalled {
		t.Error("delete hook ran for a missing conversation")
	}
}

func TestConversationStore_Rename(t *testing.T) {
	store, _ := newFileStore(t)
	conv, err := store.Create()
	require.NoError(t, err)

	require.NoError(t, store.Rename(conv.ID, "  Trip\nplanning "))
	loaded, err := store.Load(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Trip planning", loaded.Title)

	assert.Error(t, store.Rename(conv.ID, " \n "))
	assert.ErrorIs(t, store.Rename("conv_missing", "x"), ErrConversationNotFound)
}

func TestConversationStore_UpdateAbortsOnError(t *testing.T) {
	store, _ := newFileStore(t)
	conv, err := store.Create()
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = store.Update(conv.ID, func(c *model.Conversation) error {
		c.Title = "changed"
		return boom
	})
	assert.ErrorIs(t, err, boom)

	loaded, err := store.Load(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultTitle, loaded.Title)
}

func TestConversationStore_ConcurrentUpdatesKeepEveryMessage(t *testing.T) {
	store, _ := newFileStore(t)
	conv, err := store.Create()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(conv.ID, func(c *model.Conversation) error {
				c.Append(model.NewUserMessage("x"))
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	loaded, err := store.Load(conv.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Messages, 10)
}

func TestConversationStore_SaveFailure(t *testing.T) {
	kv, err := NewFileKV(t.TempDir())
	require.NoError(t, err)
	store := NewConversationStore(failingKV{kv}, Options{})

	err = store.Save(model.NewConversation())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Contains(t, err.Error(), "disk full")

	_, err = store.Create()
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestConversationStore_SubscribeAndUnsubscribe(t *testing.T) {
	store, _ := newFileStore(t)

	calls := 0
	unsubscribe := store.Subscribe(func([]model.Summary) { calls++ })

	conv, err := store.Create()
	require.NoError(t, err)
	require.NoError(t, store.Rename(conv.ID, "renamed"))
	assert.Equal(t, 2, calls)

	unsubscribe()
	require.NoError(t, store.Delete(conv.ID))
	assert.Equal(t, 2, calls)
}

func TestConversationStore_SummaryCacheTracksSaves(t *testing.T) {
	store, _ := newFileStore(t)
	conv, err := store.Create()
	require.NoError(t, err)

	_, err = store.List()
	require.NoError(t, err)

	conv.Title = "Updated"
	require.NoError(t, store.Save(conv))

	list, err := store.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Updated", list[0].Title)
}

func TestConversationStore_CloseIdempotent(t *testing.T) {
	store, _ := newFileStore(t)
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}

func TestConversationError_Is(t *testing.T) {
	wrapped := persistenceError("write", "conv_a", errors.New("io"))
	if !errors.Is(wrapped, ErrPersistence) {
		t.Error("wrapped error should match ErrPersistence")
	}
	if errors.Is(wrapped, ErrConversationNotFound) {
		t.Error("persistence error should not match ErrConversationNotFound")
	}
	if !errors.Is(&ConversationError{Message: "conversation not found"}, ErrConversationNotFound) {
		t.Error("errors with the same message should match")
	}
}
