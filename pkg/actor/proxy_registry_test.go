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
	"testing"
	"time"

	"github.com/pingcap/tiactor/pkg/actor/message"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/node"
	"github.com/stretchr/testify/require"
)

type forwarded struct {
	dest message.Addr
	msg  message.Message
}

type fakeBackend struct {
	mu        sync.Mutex
	forwarded []forwarded
	created   []message.Addr
}

func (b *fakeBackend) ForwardMessage(dest message.Addr, msg message.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forwarded = append(b.forwarded, forwarded{dest: dest, msg: msg})
}

func (b *fakeBackend) ProxyCreated(addr message.Addr) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.created = append(b.created, addr)
}

func TestProxyForwarding(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t)
	backend := &fakeBackend{}
	remote := node.New()

	_, ok := sys.Proxies().GetOrPut(remote, 1)
	require.False(t, ok, "no proxy without backend")

	sys.Proxies().SetBackend(backend)
	p1, ok := sys.Proxies().GetOrPut(remote, 1)
	require.True(t, ok)
	require.True(t, p1.IsRemote())
	again, ok := sys.Proxies().GetOrPut(remote, 1)
	require.True(t, ok)
	require.Equal(t, p1, again)
	require.Equal(t, []message.Addr{{Node: remote, ID: 1}}, backend.created)

	_, ok = sys.Proxies().GetOrPut(sys.Node(), 1)
	require.False(t, ok, "no proxy for local actors")
	_, ok = sys.Proxies().GetOrPut(node.ID{}, 1)
	require.False(t, ok)

	resolved, ok := sys.Resolve(message.Addr{Node: remote, ID: 1})
	require.True(t, ok)
	require.Equal(t, p1, resolved)

	sender := message.Addr{Node: sys.Node(), ID: 99}
	require.Equal(t, EnqueueSuccess, p1.Enqueue(message.New(sender, "hello")))
	require.Len(t, backend.forwarded, 1)
	require.Equal(t, p1.Addr(), backend.forwarded[0].dest)
	require.Equal(t, "hello", backend.forwarded[0].msg.Content)
}

func TestEraseNodeKillsProxiesInCreationOrder(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t)
	sys.Proxies().SetBackend(&fakeBackend{})
	watcher, ch := spawnCollector(sys)
	remote, other := node.New(), node.New()

	ids := []uint64{5, 3, 9, 1, 7}
	proxies := make([]Ref, 0, len(ids))
	for _, id := range ids {
		p, ok := sys.Proxies().GetOrPut(remote, id)
		require.True(t, ok)
		sys.Monitor(watcher, p)
		proxies = append(proxies, p)
	}
	survivor, ok := sys.Proxies().GetOrPut(other, 5)
	require.True(t, ok)
	sys.Monitor(watcher, survivor)
	require.Equal(t, len(ids), sys.Proxies().Count(remote))

	killed := sys.Proxies().EraseNode(remote, message.ExitRemoteLinkUnreachable)
	require.Equal(t, len(ids), killed)
	require.Equal(t, 0, sys.Proxies().Count(remote))

	for _, p := range proxies {
		msg := receive(t, ch)
		require.Equal(t, message.DownMsg{
			Source: p.Addr(),
			Reason: message.ExitRemoteLinkUnreachable,
		}, msg.Content)
		require.False(t, p.Alive())
	}
	expectNone(t, ch)
	require.True(t, survivor.Alive())
	require.Equal(t, 0, sys.Proxies().EraseNode(remote, message.ExitRemoteLinkUnreachable))
}

func TestKilledProxyBouncesRequests(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t)
	backend := &fakeBackend{}
	sys.Proxies().SetBackend(backend)
	requester, ch := spawnCollector(sys)
	remote := node.New()

	p, ok := sys.Proxies().GetOrPut(remote, 7)
	require.True(t, ok)
	require.True(t, sys.Proxies().Erase(remote, 7, message.ExitNormal))
	require.False(t, sys.Proxies().Erase(remote, 7, message.ExitNormal))
	_, ok = sys.Proxies().Get(remote, 7)
	require.False(t, ok)

	reqID := sys.NextRequestID()
	require.Equal(t, EnqueueClosed, p.Enqueue(message.Message{Sender: requester.Addr(), ID: reqID}))
	resp := receive(t, ch)
	require.Equal(t, p.Addr(), resp.Sender)
	errMsg, ok := resp.Content.(message.ErrorMsg)
	require.True(t, ok)
	require.True(t, errMsg.IsError(cerrors.ErrRequestReceiverDown))
	require.Empty(t, backend.forwarded)

	// Monitoring a killed proxy reports it down at once.
	sys.Monitor(requester, p)
	msg := receive(t, ch)
	require.IsType(t, message.DownMsg{}, msg.Content)
	select {
	case <-ch:
		require.FailNow(t, "unexpected message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEraseAll(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t)
	sys.Proxies().SetBackend(&fakeBackend{})
	for i := uint64(1); i <= 3; i++ {
		_, ok := sys.Proxies().GetOrPut(node.New(), i)
		require.True(t, ok)
	}
	require.Equal(t, 3, sys.Proxies().EraseAll(message.ExitUserShutdown))
	require.Equal(t, 0, sys.Proxies().EraseAll(message.ExitUserShutdown))
}
