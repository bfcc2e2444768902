// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package core

import (
	"sync"

	"github.com/jeranaias/cleanllm/internal/model"
)

// EventKind identifies an event on the orchestrator's channel.
type EventKind string

const (
	// EventToken carries one streamed fragment in Text.
	EventToken EventKind = "token"
	// EventDone ends every generation request, accepted or not.
	EventDone EventKind = "done"
	// EventError carries a user-facing message in Text. Always followed by done.
	EventError EventKind = "error"
	// EventHistory carries the refreshed conversation listing in History.
	EventHistory EventKind = "history"
	// EventEngine reports an engine state transition; Text is the state name.
	EventEngine EventKind = "engine"
)

// Event is delivered on Orchestrator.Events.
type Event struct {
	Kind EventKind
	Text string
	// ConversationID is set on token, done and error events of accepted
	// generations.
	ConversationID string
	History        []model.Summary
}

// =============================================================================
// EVENT QUEUE
// =============================================================================

// eventQueue is an unbounded FIFO in front of the consumer channel, so
// producers never block and no event is dropped.
type eventQueue struct {
	mu     sync.Mutex
	items  []Event
	closed bool
	signal chan struct{}
	out    chan Event
}

func newEventQueue() *eventQueue {
	q := &eventQueue{
		signal: make(chan struct{}, 1),
		out:    make(chan Event),
	}
	go q.pump()
	return q
}

// push enqueues ev. Events pushed after close are discarded.
func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()
	q.wake()
}

func (q *eventQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// pump delivers queued events in order and closes out once the queue is
// closed and drained.
func (q *eventQueue) pump() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				close(q.out)
				return
			}
			<-q.signal
			continue
		}
		ev := q.items[0]
		q.items[0] = Event{}
		q.items = q.items[1:]
		q.mu.Unlock()

		q.out <- ev
	}
}

// close stops accepting events. Already queued events are still delivered.
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}
