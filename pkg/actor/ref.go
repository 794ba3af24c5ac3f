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

	"github.com/pingcap/tiactor/pkg/actor/message"
	"github.com/pingcap/tiactor/pkg/node"
)

// Ref refers to a local actor or to the proxy of a remote actor. Refs are
// values, copying them is cheap. A Ref of a terminated actor is stale:
// requests sent to it are bounced and other messages are dropped.
type Ref struct {
	sys  *System
	addr message.Addr
	h    handle
}

// IsZero returns true if r refers to no actor.
func (r Ref) IsZero() bool {
	return r.sys == nil
}

// Addr returns the network-wide address of the actor.
func (r Ref) Addr() message.Addr {
	return r.addr
}

// ID returns the actor id, unique within its node.
func (r Ref) ID() uint64 {
	return r.addr.ID
}

// Node returns the node the actor runs on.
func (r Ref) Node() node.ID {
	return r.addr.Node
}

// IsRemote returns true if r refers to a proxy.
func (r Ref) IsRemote() bool {
	return r.sys != nil && r.addr.Node != r.sys.node
}

// Alive returns true if the actor or proxy has not terminated yet.
func (r Ref) Alive() bool {
	if r.sys == nil {
		return false
	}
	_, ok := r.sys.arena.get(r.h)
	return ok
}

// Enqueue delivers msg to the actor. It is safe to call from any
// goroutine.
func (r Ref) Enqueue(msg message.Message) EnqueueResult {
	if r.sys == nil {
		return EnqueueClosed
	}
	cb, ok := r.sys.arena.get(r.h)
	if !ok {
		r.sys.Bounce(msg, r.addr)
		return EnqueueClosed
	}
	if cb.proxy != nil {
		return cb.proxy.enqueue(msg)
	}
	return cb.local.enqueue(msg)
}

// Tell sends content anonymously.
func (r Ref) Tell(content interface{}) EnqueueResult {
	return r.Enqueue(message.New(message.Addr{}, content))
}

func (r Ref) String() string {
	if r.sys == nil {
		return "invalid-actor"
	}
	return fmt.Sprintf("actor(%s)", r.addr)
}
