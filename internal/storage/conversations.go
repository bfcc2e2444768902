// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/jeranaias/cleanllm/internal/model"
	"github.com/jeranaias/cleanllm/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrConversationNotFound is returned when a conversation doesn't exist.
// Use errors.Is(err, ErrConversationNotFound) to check for this error.
var ErrConversationNotFound = &ConversationError{Message: "conversation not found"}

// ErrPersistence wraps failures to read or write the underlying records.
var ErrPersistence = &ConversationError{Message: "persistence failure"}

// ConversationError represents a conversation-related error.
// It implements the error interface and can be compared using errors.Is.
type ConversationError struct {
	Message string
}

// Error implements the error interface.
func (e *ConversationError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing conversation errors.
func (e *ConversationError) Is(target error) bool {
	t, ok := target.(*ConversationError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

func persistenceError(op, id string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrPersistence, op, id, err)
}

// =============================================================================
// CONVERSATION STORE
// =============================================================================

// Options configures a ConversationStore.
type Options struct {
	// CacheTTL bounds how long a summary stays cached (0 = no expiry).
	CacheTTL time.Duration
	Logger   *slog.Logger
}

// ConversationStore handles conversation persistence.
//
// Writes are serialized by the store. Reads go straight to the KV and may
// run concurrently with writes; each record is replaced atomically so a
// reader never observes a torn record.
type ConversationStore struct {
	kv     KV
	cache  *cache.Cache
	logger *slog.Logger

	// writeMu serializes load-modify-save cycles.
	writeMu sync.Mutex

	mu       sync.Mutex
	subs     map[int]func([]model.Summary)
	nextSub  int
	onDelete func(id string)
	watcher  *Watcher
	closed   bool
}

// NewConversationStore creates a store over kv.
func NewConversationStore(kv KV, opts Options) *ConversationStore {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &ConversationStore{
		kv:     kv,
		cache:  cache.New(ttl, 10*time.Minute),
		logger: logger,
		subs:   make(map[int]func([]model.Summary)),
	}
}

// SetDeleteHook registers fn to run after a conversation is deleted.
func (s *ConversationStore) SetDeleteHook(fn func(id string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDelete = fn
}

// Subscribe registers fn to receive the listing after every change.
// fn runs on the goroutine that made the change and must not block.
func (s *ConversationStore) Subscribe(fn func([]model.Summary)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// =============================================================================
// LIST / LOAD
// =============================================================================

// List returns summaries of all conversations, most recent first.
// Records that cannot be decoded are skipped.
func (s *ConversationStore) List() ([]model.Summary, error) {
	ids, err := s.kv.List()
	if err != nil {
		return nil, persistenceError("list", "", err)
	}

	summaries := make([]model.Summary, 0, len(ids))
	for _, id := range ids {
		if cached, ok := s.cache.Get(id); ok {
			summaries = append(summaries, cached.(model.Summary))
			continue
		}
		conv, err := s.Load(id)
		if err != nil {
			// Skip corrupted records
			s.logger.Warn("skipping unreadable conversation", "id", id, "error", err)
			continue
		}
		sum := conv.Summary()
		s.cache.Set(id, sum, cache.DefaultExpiration)
		summaries = append(summaries, sum)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		if summaries[i].Timestamp.Equal(summaries[j].Timestamp) {
			return summaries[i].ID < summaries[j].ID
		}
		return summaries[i].Timestamp.After(summaries[j].Timestamp)
	})
	return summaries, nil
}

// Load retrieves a conversation by ID.
func (s *ConversationStore) Load(id string) (*model.Conversation, error) {
	data, err := s.kv.Get(id)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, persistenceError("load", id, err)
	}

	var conv model.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, persistenceError("decode", id, err)
	}
	if conv.ID == "" {
		conv.ID = id
	}
	if conv.Messages == nil {
		conv.Messages = make([]model.Message, 0)
	}
	return &conv, nil
}

// =============================================================================
// SAVE / CREATE / UPDATE
// =============================================================================

// Save overwrites the stored conversation with conv, stamping its
// Timestamp with the current time, and notifies subscribers.
func (s *ConversationStore) Save(conv *model.Conversation) error {
	s.writeMu.Lock()
	err := s.saveLocked(conv)
	s.writeMu.Unlock()
	if err != nil {
		return err
	}
	s.notify()
	return nil
}

func (s *ConversationStore) saveLocked(conv *model.Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("%w: conversation has no id", ErrPersistence)
	}
	conv.Timestamp = time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = conv.Timestamp
	}

	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return persistenceError("encode", conv.ID, err)
	}
	s.markOwn(conv.ID)
	if err := s.kv.Put(conv.ID, data); err != nil {
		return persistenceError("write", conv.ID, err)
	}
	s.cache.Set(conv.ID, conv.Summary(), cache.DefaultExpiration)
	return nil
}

// Create persists a new empty conversation with the placeholder title.
func (s *ConversationStore) Create() (*model.Conversation, error) {
	conv := model.NewConversation()
	if err := s.Save(conv); err != nil {
		return nil, err
	}
	return conv.Clone(), nil
}

// Update loads id, applies fn and saves the result as one step with
// respect to other writers. If fn returns an error nothing is written.
func (s *ConversationStore) Update(id string, fn func(*model.Conversation) error) (*model.Conversation, error) {
	s.writeMu.Lock()
	conv, err := s.Load(id)
	if err == nil {
		err = fn(conv)
	}
	if err == nil {
		err = s.saveLocked(conv)
	}
	s.writeMu.Unlock()
	if err != nil {
		return nil, err
	}
	s.notify()
	return conv, nil
}

// Rename changes the title of a conversation.
func (s *ConversationStore) Rename(id, title string) error {
	title = util.SingleLine(title)
	if title == "" {
		return errors.New("title must not be empty")
	}
	_, err := s.Update(id, func(c *model.Conversation) error {
		c.Title = title
		return nil
	})
	return err
}

// =============================================================================
// DELETE
// =============================================================================

// Delete removes a conversation by ID, runs the delete hook and notifies
// subscribers.
func (s *ConversationStore) Delete(id string) error {
	s.writeMu.Lock()
	s.markOwn(id)
	err := s.kv.Delete(id)
	s.writeMu.Unlock()
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return ErrConversationNotFound
		}
		return persistenceError("delete", id, err)
	}
	s.cache.Delete(id)

	s.mu.Lock()
	hook := s.onDelete
	s.mu.Unlock()
	if hook != nil {
		hook(id)
	}

	s.notify()
	return nil
}

// =============================================================================
// CHANGE NOTIFICATION
// =============================================================================

// invalidate drops cached summaries for ids, or all of them when ids is empty.
func (s *ConversationStore) invalidate(ids ...string) {
	if len(ids) == 0 {
		s.cache.Flush()
		return
	}
	for _, id := range ids {
		s.cache.Delete(id)
	}
}

// markOwn tells the watcher that the next change to id comes from this store.
func (s *ConversationStore) markOwn(id string) {
	s.mu.Lock()
	w := s.watcher
	s.mu.Unlock()
	if w != nil {
		w.markOwn(id)
	}
}

func (s *ConversationStore) notify() {
	s.mu.Lock()
	if len(s.subs) == 0 || s.closed {
		s.mu.Unlock()
		return
	}
	subs := make([]func([]model.Summary), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	summaries, err := s.List()
	if err != nil {
		s.logger.Warn("listing after change failed", "error", err)
		return
	}
	for _, fn := range subs {
		fn(summaries)
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Close stops the watcher, if any, and closes the KV. Safe to call twice.
func (s *ConversationStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()

	var errs []error
	if w != nil {
		errs = append(errs, w.Close())
	}
	s.writeMu.Lock()
	errs = append(errs, s.kv.Close())
	s.writeMu.Unlock()
	return errors.Join(errs...)
}
