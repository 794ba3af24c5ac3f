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

	"github.com/pingcap/tiactor/pkg/actor/message"
	"github.com/pingcap/tiactor/pkg/node"
	"github.com/pingcap/tiactor/pkg/scheduler"
)

// Job is a received actor message waiting for decoding.
type Job struct {
	LastHop node.ID
	Header  Header
	Source  message.Addr
	Content []byte
}

// Decoder turns a job into a delivery, or nil to drop it. job is only
// valid during the call, the delivery must not refer to it.
type Decoder func(job *Job) func()

// Worker decodes one job at a time on an execution unit and completes
// its position in the message queue.
type Worker struct {
	hub *WorkerHub
	id  uint64
	job Job
}

// Launch decodes job in the background. job.Content is copied.
func (w *Worker) Launch(id uint64, job *Job) {
	w.id = id
	w.job = *job
	w.job.Content = append(w.job.Content[:0:0], job.Content...)
	if err := w.hub.sched.Enqueue(w); err != nil {
		w.Resume(nil, 0)
	}
}

// Resume implements scheduler.Resumable.
func (w *Worker) Resume(scheduler.ExecutionUnit, int) scheduler.ResumeResult {
	deliver := w.hub.decode(&w.job)
	w.hub.queue.Push(w.id, deliver)
	w.job = Job{}
	w.hub.push(w)
	return scheduler.ResumeDone
}

// Enqueuer schedules resumables, e.g. a scheduler.Coordinator.
type Enqueuer interface {
	Enqueue(r scheduler.Resumable) error
}

// WorkerHub keeps a fixed set of idle workers. Jobs whose worker cannot
// be scheduled are decoded on the calling goroutine.
type WorkerHub struct {
	queue  *MessageQueue
	sched  Enqueuer
	decode Decoder

	mu      sync.Mutex
	cond    *sync.Cond
	idle    []*Worker
	workers int
}

// NewWorkerHub creates n workers scheduled on sched.
func NewWorkerHub(n int, queue *MessageQueue, sched Enqueuer, decode Decoder) *WorkerHub {
	h := &WorkerHub{queue: queue, sched: sched, decode: decode, workers: n}
	h.cond = sync.NewCond(&h.mu)
	for i := 0; i < n; i++ {
		h.idle = append(h.idle, &Worker{hub: h})
	}
	return h
}

// Pop returns an idle worker, or nil if all are busy.
func (h *WorkerHub) Pop() *Worker {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.idle)
	if n == 0 {
		return nil
	}
	w := h.idle[n-1]
	h.idle = h.idle[:n-1]
	return w
}

func (h *WorkerHub) push(w *Worker) {
	h.mu.Lock()
	h.idle = append(h.idle, w)
	h.mu.Unlock()
	h.cond.Broadcast()
}

// Busy returns the number of running workers.
func (h *WorkerHub) Busy() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.workers - len(h.idle)
}

// AwaitIdle blocks until no worker is running.
func (h *WorkerHub) AwaitIdle() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for len(h.idle) < h.workers {
		h.cond.Wait()
	}
}
