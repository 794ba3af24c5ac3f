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
	"sort"
	"sync"

	"github.com/pingcap/log"
	"github.com/pingcap/tiactor/pkg/actor/message"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/node"
	"github.com/pingcap/tiactor/pkg/scheduler"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// System spawns actors and owns their control blocks.
type System struct {
	node  node.ID
	sched *scheduler.Coordinator
	arena arena

	nextActorID   atomic.Uint64
	nextRequestID atomic.Uint64

	mu     sync.RWMutex
	actors map[uint64]Ref
	names  map[string]Ref

	proxies *ProxyRegistry
}

// NewSystem creates a system whose actors run on sched.
func NewSystem(nid node.ID, sched *scheduler.Coordinator) *System {
	s := &System{
		node:   nid,
		sched:  sched,
		actors: make(map[uint64]Ref),
		names:  make(map[string]Ref),
	}
	s.proxies = newProxyRegistry(s)
	return s
}

// Node returns the id of the node this system runs on.
func (s *System) Node() node.ID {
	return s.node
}

// Scheduler returns the coordinator actors run on.
func (s *System) Scheduler() *scheduler.Coordinator {
	return s.sched
}

// Proxies returns the registry of remote actor proxies.
func (s *System) Proxies() *ProxyRegistry {
	return s.proxies
}

// Spawn creates an actor. The actor is scheduled once it receives its
// first message.
func (s *System) Spawn(a Actor) Ref {
	id := s.nextActorID.Inc()
	la := &localActor{
		sys:     s,
		actor:   a,
		mailbox: NewMailbox(),
	}
	cb := &controlBlock{addr: message.Addr{Node: s.node, ID: id}, local: la}
	la.self = Ref{sys: s, addr: cb.addr, h: s.arena.alloc(cb)}

	s.mu.Lock()
	s.actors[id] = la.self
	s.mu.Unlock()

	spawnedCounter.Inc()
	liveActors.Inc()
	return la.self
}

// Lookup returns the local actor with the given id.
func (s *System) Lookup(id uint64) (Ref, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.actors[id]
	return ref, ok
}

// Resolve returns a Ref for addr: the local actor if addr is on this
// node, its proxy otherwise.
func (s *System) Resolve(addr message.Addr) (Ref, bool) {
	if addr.IsZero() {
		return Ref{}, false
	}
	if addr.Node == s.node {
		return s.Lookup(addr.ID)
	}
	return s.proxies.GetOrPut(addr.Node, addr.ID)
}

// NextRequestID allocates an id for a request.
func (s *System) NextRequestID() message.MessageID {
	return message.MakeRequestID(s.nextRequestID.Inc(), message.CategoryNormal)
}

// Register binds name to ref.
func (s *System) Register(name string, ref Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.names[name]; ok {
		return cerrors.ErrActorNameConflict.GenWithStackByArgs(name)
	}
	s.names[name] = ref
	return nil
}

// Whereis returns the actor registered under name.
func (s *System) Whereis(name string) (Ref, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.names[name]
	return ref, ok
}

// Unregister removes name.
func (s *System) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.names, name)
}

// Exit sends an urgent ExitMsg to target. A non-normal reason terminates
// target unless it traps exits.
func (s *System) Exit(target Ref, reason message.ExitReason) {
	target.Enqueue(message.NewUrgent(message.Addr{}, message.ExitMsg{Reason: reason}))
}

// Shutdown sends ExitUserShutdown to every local actor and kills every
// proxy.
func (s *System) Shutdown() {
	s.mu.RLock()
	refs := make([]Ref, 0, len(s.actors))
	for _, ref := range s.actors {
		refs = append(refs, ref)
	}
	s.mu.RUnlock()
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID() < refs[j].ID() })
	for _, ref := range refs {
		s.Exit(ref, message.ExitUserShutdown)
	}
	killed := s.proxies.EraseAll(message.ExitUserShutdown)
	log.Info("actor system shutting down",
		zap.Stringer("node", s.node),
		zap.Int("actors", len(refs)),
		zap.Int("proxies", killed))
}

// LiveActors returns the number of local actors that have not terminated.
func (s *System) LiveActors() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.actors)
}

func (s *System) removeLocal(ref Ref) {
	s.mu.Lock()
	delete(s.actors, ref.ID())
	for name, r := range s.names {
		if r.addr == ref.addr {
			delete(s.names, name)
		}
	}
	s.mu.Unlock()
	s.arena.release(ref.h)
	liveActors.Dec()
}
