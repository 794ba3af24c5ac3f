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

package basp

import (
	"sync"
)

// MessageQueue restores the arrival order of messages decoded in
// parallel. Ids are handed out in arrival order and deliveries run
// strictly in id order, each exactly once.
type MessageQueue struct {
	mu      sync.Mutex
	nextID  uint64
	next    uint64
	pending map[uint64]func()
}

// NewMessageQueue creates an empty queue.
func NewMessageQueue() *MessageQueue {
	return &MessageQueue{pending: make(map[uint64]func())}
}

// NewID reserves the next position.
func (q *MessageQueue) NewID() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.nextID
	q.nextID++
	return id
}

// Push completes position id. deliver runs once all lower positions are
// completed, nil drops the position. Deliveries run under the queue lock
// and must not block.
func (q *MessageQueue) Push(id uint64, deliver func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if id != q.next {
		if deliver == nil {
			deliver = func() {}
		}
		q.pending[id] = deliver
		return
	}
	if deliver != nil {
		deliver()
	}
	q.next++
	for {
		fn, ok := q.pending[q.next]
		if !ok {
			return
		}
		delete(q.pending, q.next)
		fn()
		q.next++
	}
}

// Drop completes position id without delivering anything.
func (q *MessageQueue) Drop(id uint64) {
	q.Push(id, nil)
}

// Pending returns the number of completed positions waiting for lower
// ones.
func (q *MessageQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
