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

package scheduler

import (
	"sync"

	"github.com/edwingeng/deque"
)

// RoundResult summarizes one round of a worker.
type RoundResult struct {
	// ConsumedItems is true if at least one resumable ran.
	ConsumedItems bool
	// StopAll is true if the worker has to stop.
	StopAll bool
}

// hub is the queue of pending resumables shared by all workers.
type hub struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  deque.Deque
	closed bool
}

func newHub() *hub {
	h := &hub{queue: deque.NewDeque()}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// push appends r and wakes up one waiting worker. It returns false if the
// hub is closed.
func (h *hub) push(r Resumable) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.queue.PushBack(r)
	h.mu.Unlock()
	h.cond.Signal()
	return true
}

// tryPop pops the front resumable without waiting.
func (h *hub) tryPop() (Resumable, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.queue.Empty() {
		return nil, false
	}
	return h.queue.PopFront().(Resumable), true
}

// takeBatch waits until the hub is not empty and moves up to n resumables
// into batch. A shutdown helper ends the batch so that every worker
// receives exactly one. It returns false if the hub is closed and empty.
func (h *hub) takeBatch(batch []Resumable, n int) ([]Resumable, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for h.queue.Empty() {
		if h.closed {
			return batch, false
		}
		h.cond.Wait()
	}
	for len(batch) < n && !h.queue.Empty() {
		r := h.queue.PopFront().(Resumable)
		batch = append(batch, r)
		if _, ok := r.(shutdownHelper); ok {
			break
		}
	}
	return batch, true
}

func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.queue.Len()
}

// close rejects further pushes and wakes up all waiting workers.
func (h *hub) close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.cond.Broadcast()
}
