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
	"runtime/debug"
	"sync"
	"time"

	"github.com/pingcap/log"
	"github.com/pingcap/tiactor/pkg/actor/message"
	"github.com/pingcap/tiactor/pkg/scheduler"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// localActor is the resumable that runs an Actor.
type localActor struct {
	sys     *System
	self    Ref
	actor   Actor
	mailbox *Mailbox
	ctx     Context
	batch   []message.Message

	mu         sync.Mutex
	attached   []attachable
	terminated bool
	reason     message.ExitReason

	// resuming guards against concurrent invocations.
	resuming atomic.Int32
}

var _ scheduler.Resumable = (*localActor)(nil)

func (a *localActor) enqueue(msg message.Message) EnqueueResult {
	res := a.mailbox.Enqueue(msg)
	mailboxEnqueueCounter.WithLabelValues(res.String()).Inc()
	switch res {
	case EnqueueUnblockedReader:
		a.sys.sched.Exec(a)
	case EnqueueClosed:
		a.sys.Bounce(msg, a.self.addr)
	}
	return res
}

// Resume implements scheduler.Resumable.
func (a *localActor) Resume(_ scheduler.ExecutionUnit, maxThroughput int) scheduler.ResumeResult {
	if a.resuming.Inc() != 1 {
		log.Panic("actor resumed concurrently", zap.Stringer("actor", a.self))
	}
	defer a.resuming.Dec()

	if a.isTerminated() {
		return scheduler.ResumeDone
	}
	if maxThroughput <= 0 {
		maxThroughput = 1
	}

	a.batch = a.batch[:0]
	for i := 0; i < maxThroughput; i++ {
		msg, ok := a.mailbox.TryDequeue()
		if !ok {
			break
		}
		if exit, ok := msg.Content.(message.ExitMsg); ok && !a.trapsExit() {
			if exit.Reason == message.ExitNormal {
				continue
			}
			if len(a.batch) > 0 && !a.poll() {
				return scheduler.ResumeDone
			}
			a.terminate(exit.Reason)
			return scheduler.ResumeDone
		}
		a.batch = append(a.batch, msg)
	}
	if len(a.batch) > 0 && !a.poll() {
		return scheduler.ResumeDone
	}
	if a.mailbox.TryBlock() {
		return scheduler.ResumeDone
	}
	return scheduler.ResumeLater
}

// poll passes the current batch to the actor. It returns false if the
// actor has terminated.
func (a *localActor) poll() (running bool) {
	a.ctx = Context{self: a.self}
	defer func() {
		for i := range a.batch {
			a.batch[i] = message.Message{}
		}
		a.batch = a.batch[:0]
	}()

	startTime := time.Now()
	running, panicked := a.safePoll()
	pollDuration.Observe(time.Since(startTime).Seconds())
	switch {
	case panicked:
		a.terminate(message.ExitUnhandledError)
		return false
	case a.ctx.quit:
		a.terminate(a.ctx.exit)
		return false
	case !running:
		a.terminate(message.ExitNormal)
		return false
	}
	return true
}

func (a *localActor) safePoll() (running bool, panicked bool) {
	defer func() {
		if v := recover(); v != nil {
			log.Error("actor panicked",
				zap.Stringer("actor", a.self),
				zap.Any("panic", v),
				zap.ByteString("stack", debug.Stack()))
			panicked = true
		}
	}()
	return a.actor.Poll(&a.ctx, a.batch), false
}

func (a *localActor) trapsExit() bool {
	t, ok := a.actor.(ExitTrapper)
	return ok && t.TrapExit()
}

func (a *localActor) isTerminated() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.terminated
}

// attach registers at to be notified on termination. If the actor has
// already terminated it returns false and the exit reason.
func (a *localActor) attach(at attachable) (bool, message.ExitReason) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.terminated {
		return false, a.reason
	}
	a.attached = append(a.attached, at)
	return true, message.ExitNormal
}

func (a *localActor) detach(match func(attachable) bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attached = detachFirst(a.attached, match)
}

// terminate is the teardown pass of a local actor: close the mailbox,
// bounce pending requests, notify attached parties, then free the slot.
func (a *localActor) terminate(reason message.ExitReason) {
	a.mu.Lock()
	if a.terminated {
		a.mu.Unlock()
		return
	}
	a.terminated = true
	a.reason = reason
	attached := a.attached
	a.attached = nil
	a.mu.Unlock()

	for _, msg := range a.mailbox.Close() {
		a.sys.Bounce(msg, a.self.addr)
	}
	for _, at := range attached {
		at.actorExited(a.self.addr, reason)
	}
	a.sys.removeLocal(a.self)

	log.Debug("actor terminated",
		zap.Stringer("actor", a.self),
		zap.Stringer("reason", reason))
}
