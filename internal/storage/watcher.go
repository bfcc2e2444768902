// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// DefaultDebounce is how long the watcher waits for a burst of changes
	// to settle before reloading.
	DefaultDebounce = 250 * time.Millisecond

	// ownWriteWindow is how long events for a record written by this
	// process are ignored.
	ownWriteWindow = time.Second

	pollInterval = 50 * time.Millisecond
)

// =============================================================================
// FSNOTIFY WATCHER
// =============================================================================

// Watcher observes a FileKV directory for edits made by other programs.
// Each settled burst of changes invalidates the affected cached summaries
// and notifies the store's subscribers once.
type Watcher struct {
	store    *ConversationStore
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]time.Time // id -> last change
	own     map[string]time.Time // id -> last write by this process

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// Watch starts watching dir on behalf of s. The watcher is stopped by
// s.Close.
func (s *ConversationStore) Watch(dir string, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		store:    s,
		watcher:  fsw,
		debounce: debounce,
		logger:   s.logger.With("watch", dir),
		pending:  make(map[string]time.Time),
		own:      make(map[string]time.Time),
		ctx:      ctx,
		cancel:   cancel,
	}

	s.mu.Lock()
	if s.closed || s.watcher != nil {
		s.mu.Unlock()
		cancel()
		fsw.Close()
		return nil, errors.New("store closed or already watched")
	}
	s.watcher = w
	s.mu.Unlock()

	w.wg.Add(2)
	go w.processEvents()
	go w.processPending()
	return w, nil
}

func (w *Watcher) markOwn(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.own[id] = time.Now()
}

// processEvents records changes to record files.
func (w *Watcher) processEvents() {
	defer w.wg.Done()
	// RELIABILITY: a panic here must not take the process down
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("watcher panic", "panic", r)
		}
	}()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			id, ok := recordID(filepath.Base(event.Name))
			if !ok {
				continue
			}
			w.record(id, time.Now())

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) record(id string, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.own[id]; ok {
		if now.Sub(t) < ownWriteWindow {
			return
		}
		delete(w.own, id)
	}
	w.pending[id] = now
}

// processPending flushes settled changes.
func (w *Watcher) processPending() {
	defer w.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case now := <-ticker.C:
			if ids := w.settled(now); len(ids) > 0 {
				w.logger.Debug("external change", "ids", ids)
				w.store.invalidate(ids...)
				w.store.notify()
			}
		}
	}
}

// settled removes and returns the ids whose last change is older than the
// debounce interval. Nothing is returned while any change is still fresh.
func (w *Watcher) settled(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return nil
	}
	for _, t := range w.pending {
		if now.Sub(t) < w.debounce {
			return nil
		}
	}
	ids := make([]string, 0, len(w.pending))
	for id := range w.pending {
		ids = append(ids, id)
	}
	clear(w.pending)
	for id, t := range w.own {
		if now.Sub(t) >= ownWriteWindow {
			delete(w.own, id)
		}
	}
	return ids
}

// Close stops watching. Safe to call twice.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		w.cancel()
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}
