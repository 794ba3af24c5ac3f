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
	"sync"

	"github.com/pingcap/tiactor/pkg/actor/message"
)

// handle addresses a control block in the arena. A handle whose generation
// differs from its slot's is stale.
type handle struct {
	index uint32
	gen   uint32
}

func (h handle) String() string {
	return fmt.Sprintf("%d:%d", h.index, h.gen)
}

// controlBlock holds the identity of an actor and either its local state
// or its proxy.
type controlBlock struct {
	addr  message.Addr
	local *localActor
	proxy *proxy
}

type slot struct {
	gen uint32
	cb  *controlBlock
}

// arena stores control blocks. Slots are released by the explicit
// teardown of the actor or proxy, not by reference counting.
type arena struct {
	mu    sync.RWMutex
	slots []slot
	free  []uint32
}

func (a *arena) alloc(cb *controlBlock) handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, slot{})
	}
	s := &a.slots[idx]
	s.gen++
	if s.gen == 0 {
		// Generation 0 is never handed out.
		s.gen = 1
	}
	s.cb = cb
	return handle{index: idx, gen: s.gen}
}

func (a *arena) get(h handle) (*controlBlock, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if int(h.index) >= len(a.slots) {
		return nil, false
	}
	s := a.slots[h.index]
	if s.gen != h.gen || s.cb == nil {
		return nil, false
	}
	return s.cb, true
}

// release frees the slot of h. It returns false if h is already stale.
func (a *arena) release(h handle) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if int(h.index) >= len(a.slots) {
		return false
	}
	s := &a.slots[h.index]
	if s.gen != h.gen || s.cb == nil {
		return false
	}
	s.cb = nil
	// Bump the generation now so stale handles fail even before the slot
	// is reused.
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	a.free = append(a.free, h.index)
	return true
}

func (a *arena) len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.slots) - len(a.free)
}
