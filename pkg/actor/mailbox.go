// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package actor

import (
	"sync"

	"github.com/edwingeng/deque"
	"github.com/pingcap/tiactor/pkg/actor/message"
)

// EnqueueResult is the outcome of putting a message into a mailbox.
type EnqueueResult int

// Enqueue results.
const (
	// EnqueueSuccess means the message is queued and the actor is already
	// scheduled or running.
	EnqueueSuccess EnqueueResult = iota
	// EnqueueUnblockedReader means the actor was idle, the caller must
	// schedule it.
	EnqueueUnblockedReader
	// EnqueueClosed means the actor has terminated and the message was not
	// queued.
	EnqueueClosed
)

func (r EnqueueResult) String() string {
	switch r {
	case EnqueueSuccess:
		return "success"
	case EnqueueUnblockedReader:
		return "unblocked_reader"
	case EnqueueClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Mailbox is a multi-producer single-consumer queue with two priority
// classes. Urgent messages are dequeued before normal ones, each class is
// FIFO.
//
// The reader side is either running or blocked. A new mailbox is blocked,
// the first enqueue unblocks it and tells the caller to schedule the
// reader. This gives at most one scheduled reader at any time.
type Mailbox struct {
	mu      sync.Mutex
	urgent  deque.Deque
	normal  deque.Deque
	blocked bool
	closed  bool
}

// NewMailbox creates an empty, blocked mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{
		urgent:  deque.NewDeque(),
		normal:  deque.NewDeque(),
		blocked: true,
	}
}

// Enqueue is safe to call from any goroutine.
func (m *Mailbox) Enqueue(msg message.Message) EnqueueResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return EnqueueClosed
	}
	if msg.IsUrgent() {
		m.urgent.PushBack(msg)
	} else {
		m.normal.PushBack(msg)
	}
	if m.blocked {
		m.blocked = false
		return EnqueueUnblockedReader
	}
	return EnqueueSuccess
}

// TryDequeue must only be called by the reader.
func (m *Mailbox) TryDequeue() (message.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.urgent.Empty() {
		return m.urgent.PopFront().(message.Message), true
	}
	if !m.normal.Empty() {
		return m.normal.PopFront().(message.Message), true
	}
	return message.Message{}, false
}

// TryBlock marks the reader as blocked if the mailbox is empty. It returns
// false if there are messages left, in which case the reader keeps
// running.
func (m *Mailbox) TryBlock() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.urgent.Empty() || !m.normal.Empty() {
		return false
	}
	m.blocked = true
	return true
}

// Close rejects all further messages and returns the ones still queued,
// urgent ones first. Closing is permanent.
func (m *Mailbox) Close() []message.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	pending := make([]message.Message, 0, m.urgent.Len()+m.normal.Len())
	for !m.urgent.Empty() {
		pending = append(pending, m.urgent.PopFront().(message.Message))
	}
	for !m.normal.Empty() {
		pending = append(pending, m.normal.PopFront().(message.Message))
	}
	return pending
}

// Len returns the number of queued messages.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.urgent.Len() + m.normal.Len()
}

// Closed returns true if the mailbox has been closed.
func (m *Mailbox) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Blocked returns true if the reader is idle.
func (m *Mailbox) Blocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocked
}
