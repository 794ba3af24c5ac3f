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
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/pingcap/tiactor/pkg/actor/message"
	"github.com/pingcap/tiactor/pkg/config"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/node"
	"github.com/pingcap/tiactor/pkg/scheduler"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func newTestSystem(t *testing.T) *System {
	cfg := config.DefaultSchedulerConfig()
	cfg.WorkerCount = 4
	cfg.MaxThroughput = 8
	require.Nil(t, cfg.ValidateAndAdjust())
	sched := scheduler.NewCoordinator(t.Name(), cfg, nil)
	sched.Start()
	t.Cleanup(sched.Stop)
	return NewSystem(node.New(), sched)
}

func spawnCollector(sys *System) (Ref, chan message.Message) {
	ch := make(chan message.Message, 4096)
	ref := sys.Spawn(ActorFunc(func(_ *Context, msgs []message.Message) bool {
		for _, msg := range msgs {
			ch <- msg
		}
		return true
	}))
	return ref, ch
}

type trapCollector struct {
	ch chan message.Message
}

func (c *trapCollector) Poll(_ *Context, msgs []message.Message) bool {
	for _, msg := range msgs {
		c.ch <- msg
	}
	return true
}

func (c *trapCollector) TrapExit() bool { return true }

func receive(t *testing.T, ch chan message.Message) message.Message {
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		require.FailNow(t, "no message received")
	}
	return message.Message{}
}

func expectNone(t *testing.T, ch chan message.Message) {
	select {
	case msg := <-ch:
		require.FailNow(t, "unexpected message", "%v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSendPreservesOrder(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t)
	ref, ch := spawnCollector(sys)
	sender := message.Addr{Node: sys.Node(), ID: 1000}
	for i := 0; i < 1000; i++ {
		ref.Enqueue(message.New(sender, fmt.Sprintf("m%d", i)))
	}
	for i := 0; i < 1000; i++ {
		msg := receive(t, ch)
		require.Equal(t, fmt.Sprintf("m%d", i), msg.Content)
		require.Equal(t, sender, msg.Sender)
	}
}

func TestAtMostOneConcurrentPoll(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t)
	var (
		active   atomic.Int32
		violated atomic.Bool
		received atomic.Int64
	)
	ref := sys.Spawn(ActorFunc(func(_ *Context, msgs []message.Message) bool {
		if active.Inc() != 1 {
			violated.Store(true)
		}
		runtime.Gosched()
		received.Add(int64(len(msgs)))
		active.Dec()
		return true
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				ref.Tell(j)
			}
		}()
	}
	wg.Wait()
	require.Eventually(t, func() bool {
		return received.Load() == 4000
	}, 5*time.Second, 10*time.Millisecond)
	require.False(t, violated.Load())
}

func TestBounceAfterTermination(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t)
	requester, ch := spawnCollector(sys)
	target := sys.Spawn(ActorFunc(func(_ *Context, _ []message.Message) bool {
		return false
	}))
	target.Tell("stop")
	require.Eventually(t, func() bool { return !target.Alive() }, 5*time.Second, 10*time.Millisecond)

	reqID := sys.NextRequestID()
	require.Equal(t, EnqueueClosed, target.Enqueue(message.Message{
		Sender: requester.Addr(), ID: reqID, Content: "hi",
	}))
	resp := receive(t, ch)
	require.Equal(t, target.Addr(), resp.Sender)
	require.Equal(t, reqID.ResponseID(), resp.ID)
	errMsg, ok := resp.Content.(message.ErrorMsg)
	require.True(t, ok)
	require.True(t, errMsg.IsError(cerrors.ErrRequestReceiverDown))

	// One-way messages are dropped silently.
	require.Equal(t, EnqueueClosed, target.Enqueue(message.New(requester.Addr(), "oneway")))
	expectNone(t, ch)
}

func TestBouncePendingRequestsOnTermination(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t)
	requester, ch := spawnCollector(sys)
	started := make(chan struct{})
	release := make(chan struct{})
	target := sys.Spawn(ActorFunc(func(_ *Context, _ []message.Message) bool {
		close(started)
		<-release
		return false
	}))
	target.Tell("block")
	<-started

	reqID := sys.NextRequestID()
	target.Enqueue(message.Message{Sender: requester.Addr(), ID: reqID, Content: "pending"})
	target.Enqueue(message.New(requester.Addr(), "oneway"))
	close(release)

	resp := receive(t, ch)
	require.Equal(t, reqID.ResponseID(), resp.ID)
	require.IsType(t, message.ErrorMsg{}, resp.Content)
	expectNone(t, ch)
}

func TestRequestReply(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t)
	echo := sys.Spawn(ActorFunc(func(ctx *Context, msgs []message.Message) bool {
		for _, msg := range msgs {
			ctx.Reply(msg, msg.Content)
		}
		return true
	}))
	requester, ch := spawnCollector(sys)

	reqID := sys.NextRequestID()
	echo.Enqueue(message.Message{Sender: requester.Addr(), ID: reqID, Content: "ping"})
	resp := receive(t, ch)
	require.Equal(t, "ping", resp.Content)
	require.Equal(t, echo.Addr(), resp.Sender)
	require.True(t, resp.ID.IsResponse())
	require.Equal(t, reqID.RequestID(), resp.ID.RequestID())

	// Asynchronous messages are not answered.
	echo.Enqueue(message.New(requester.Addr(), "async"))
	expectNone(t, ch)
}

func TestContextRequest(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t)
	echo := sys.Spawn(ActorFunc(func(ctx *Context, msgs []message.Message) bool {
		for _, msg := range msgs {
			ctx.Reply(msg, fmt.Sprintf("re:%v", msg.Content))
		}
		return true
	}))
	results := make(chan message.Message, 1)
	var reqID message.MessageID
	client := sys.Spawn(ActorFunc(func(ctx *Context, msgs []message.Message) bool {
		for _, msg := range msgs {
			if msg.ID.IsResponse() {
				results <- msg
				return false
			}
			reqID = ctx.Request(echo, msg.Content)
		}
		return true
	}))
	client.Tell("hello")

	var resp message.Message
	select {
	case resp = <-results:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "no response")
	}
	require.Equal(t, "re:hello", resp.Content)
	require.Equal(t, reqID.ResponseID(), resp.ID)
	require.Eventually(t, func() bool { return !client.Alive() }, 5*time.Second, 10*time.Millisecond)
}

func TestMonitor(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t)
	watcher, ch := spawnCollector(sys)
	target := sys.Spawn(ActorFunc(func(_ *Context, _ []message.Message) bool { return true }))
	sys.Monitor(watcher, target)
	sys.Exit(target, message.ExitKill)

	msg := receive(t, ch)
	require.Equal(t, message.DownMsg{Source: target.Addr(), Reason: message.ExitKill}, msg.Content)

	// Monitoring a terminated actor yields a DownMsg right away.
	require.Eventually(t, func() bool { return !target.Alive() }, 5*time.Second, 10*time.Millisecond)
	sys.Monitor(watcher, target)
	msg = receive(t, ch)
	require.Equal(t, message.DownMsg{Source: target.Addr(), Reason: message.ExitUnknown}, msg.Content)

	// Demonitor removes the monitor.
	other := sys.Spawn(ActorFunc(func(_ *Context, _ []message.Message) bool { return true }))
	sys.Monitor(watcher, other)
	sys.Demonitor(watcher, other)
	sys.Exit(other, message.ExitKill)
	expectNone(t, ch)
}

func TestMonitorReportsPanic(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t)
	watcher, ch := spawnCollector(sys)
	target := sys.Spawn(ActorFunc(func(_ *Context, _ []message.Message) bool {
		panic("boom")
	}))
	sys.Monitor(watcher, target)
	target.Tell("trigger")
	msg := receive(t, ch)
	require.Equal(t, message.DownMsg{Source: target.Addr(), Reason: message.ExitUnhandledError}, msg.Content)
}

func TestQuitReason(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t)
	watcher, ch := spawnCollector(sys)
	target := sys.Spawn(ActorFunc(func(ctx *Context, _ []message.Message) bool {
		ctx.Quit(message.ExitUserShutdown)
		return true
	}))
	sys.Monitor(watcher, target)
	target.Tell("quit")
	msg := receive(t, ch)
	require.Equal(t, message.DownMsg{Source: target.Addr(), Reason: message.ExitUserShutdown}, msg.Content)
}

func TestLink(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t)
	trapper := &trapCollector{ch: make(chan message.Message, 16)}
	a := sys.Spawn(trapper)
	b := sys.Spawn(ActorFunc(func(_ *Context, _ []message.Message) bool { return true }))
	sys.Link(a, b)
	sys.Exit(b, message.ExitUserShutdown)

	msg := receive(t, trapper.ch)
	require.True(t, msg.IsUrgent())
	require.Equal(t, message.ExitMsg{Source: b.Addr(), Reason: message.ExitUserShutdown}, msg.Content)
	require.True(t, a.Alive())

	// A non-trapping actor dies with its peer.
	c := sys.Spawn(ActorFunc(func(_ *Context, _ []message.Message) bool { return true }))
	d := sys.Spawn(ActorFunc(func(_ *Context, _ []message.Message) bool { return true }))
	watcher, ch := spawnCollector(sys)
	sys.Monitor(watcher, c)
	sys.Link(c, d)
	sys.Exit(d, message.ExitKill)
	down := receive(t, ch)
	require.Equal(t, message.DownMsg{Source: c.Addr(), Reason: message.ExitKill}, down.Content)

	// Unlinked actors survive.
	e := sys.Spawn(ActorFunc(func(_ *Context, _ []message.Message) bool { return true }))
	f := sys.Spawn(ActorFunc(func(_ *Context, _ []message.Message) bool { return true }))
	sys.Link(e, f)
	sys.Unlink(e, f)
	sys.Exit(f, message.ExitKill)
	require.Eventually(t, func() bool { return !f.Alive() }, 5*time.Second, 10*time.Millisecond)
	require.True(t, e.Alive())
}

func TestNormalExitIsIgnored(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t)
	ref, ch := spawnCollector(sys)
	sys.Exit(ref, message.ExitNormal)
	ref.Tell("still alive")
	msg := receive(t, ch)
	require.Equal(t, "still alive", msg.Content)
	require.True(t, ref.Alive())
}

func TestAttachFunc(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t)
	ref := sys.Spawn(ActorFunc(func(_ *Context, _ []message.Message) bool { return false }))
	reasons := make(chan message.ExitReason, 1)
	require.True(t, sys.AttachFunc(ref, func(reason message.ExitReason) { reasons <- reason }))
	ref.Tell("stop")
	select {
	case reason := <-reasons:
		require.Equal(t, message.ExitNormal, reason)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "attached function not called")
	}
	require.False(t, sys.AttachFunc(ref, func(message.ExitReason) {}))
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t)
	ref := sys.Spawn(ActorFunc(func(_ *Context, _ []message.Message) bool { return false }))
	require.Nil(t, sys.Register("worker", ref))
	err := sys.Register("worker", ref)
	require.True(t, cerrors.Is(err, cerrors.ErrActorNameConflict))

	got, ok := sys.Whereis("worker")
	require.True(t, ok)
	require.Equal(t, ref, got)
	looked, ok := sys.Lookup(ref.ID())
	require.True(t, ok)
	require.Equal(t, ref, looked)
	resolved, ok := sys.Resolve(ref.Addr())
	require.True(t, ok)
	require.Equal(t, ref, resolved)

	// Names are released on termination.
	ref.Tell("stop")
	require.Eventually(t, func() bool {
		_, ok := sys.Whereis("worker")
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
	_, ok = sys.Lookup(ref.ID())
	require.False(t, ok)

	other := sys.Spawn(ActorFunc(func(_ *Context, _ []message.Message) bool { return true }))
	require.Nil(t, sys.Register("other", other))
	sys.Unregister("other")
	_, ok = sys.Whereis("other")
	require.False(t, ok)
}

func TestZeroRef(t *testing.T) {
	t.Parallel()

	var ref Ref
	require.True(t, ref.IsZero())
	require.False(t, ref.Alive())
	require.Equal(t, EnqueueClosed, ref.Tell("x"))
	require.Equal(t, "invalid-actor", ref.String())
}

func TestShutdown(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t)
	for i := 0; i < 10; i++ {
		sys.Spawn(ActorFunc(func(_ *Context, _ []message.Message) bool { return true }))
	}
	require.Equal(t, 10, sys.LiveActors())
	sys.Shutdown()
	require.Eventually(t, func() bool { return sys.LiveActors() == 0 }, 5*time.Second, 10*time.Millisecond)
}
