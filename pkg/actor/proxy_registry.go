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

	"github.com/pingcap/tiactor/pkg/actor/message"
	"github.com/pingcap/tiactor/pkg/node"
)

type proxyEntry struct {
	p   *proxy
	seq uint64
}

// ProxyRegistry keeps the proxies of remote actors, keyed by node and
// actor id.
type ProxyRegistry struct {
	sys *System

	mu      sync.Mutex
	backend ProxyBackend
	seq     uint64
	nodes   map[node.ID]map[uint64]*proxyEntry
}

func newProxyRegistry(sys *System) *ProxyRegistry {
	return &ProxyRegistry{
		sys:   sys,
		nodes: make(map[node.ID]map[uint64]*proxyEntry),
	}
}

// SetBackend sets the backend of proxies created afterwards. Without a
// backend no proxy can be created.
func (r *ProxyRegistry) SetBackend(backend ProxyBackend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backend = backend
}

// Get returns the proxy of (nid, id) if it exists.
func (r *ProxyRegistry) Get(nid node.ID, id uint64) (Ref, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.nodes[nid][id]; ok {
		return e.p.self, true
	}
	return Ref{}, false
}

// GetOrPut returns the proxy of (nid, id), creating it if needed. New
// proxies are announced to the backend. It fails for local or invalid
// addresses and when no backend is set.
func (r *ProxyRegistry) GetOrPut(nid node.ID, id uint64) (Ref, bool) {
	if nid.IsZero() || nid == r.sys.node || id == 0 {
		return Ref{}, false
	}
	r.mu.Lock()
	if e, ok := r.nodes[nid][id]; ok {
		r.mu.Unlock()
		return e.p.self, true
	}
	if r.backend == nil {
		r.mu.Unlock()
		return Ref{}, false
	}
	backend := r.backend
	p := &proxy{sys: r.sys, backend: backend}
	cb := &controlBlock{addr: message.Addr{Node: nid, ID: id}, proxy: p}
	p.self = Ref{sys: r.sys, addr: cb.addr, h: r.sys.arena.alloc(cb)}
	entries, ok := r.nodes[nid]
	if !ok {
		entries = make(map[uint64]*proxyEntry)
		r.nodes[nid] = entries
	}
	r.seq++
	entries[id] = &proxyEntry{p: p, seq: r.seq}
	r.mu.Unlock()

	liveProxies.Inc()
	backend.ProxyCreated(cb.addr)
	return p.self, true
}

// Erase kills the proxy of (nid, id). It returns false if there is none.
func (r *ProxyRegistry) Erase(nid node.ID, id uint64, reason message.ExitReason) bool {
	r.mu.Lock()
	e, ok := r.nodes[nid][id]
	if ok {
		delete(r.nodes[nid], id)
		if len(r.nodes[nid]) == 0 {
			delete(r.nodes, nid)
		}
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	liveProxies.Dec()
	e.p.kill(reason)
	return true
}

// EraseNode kills all proxies of nid in creation order and returns how
// many were killed.
func (r *ProxyRegistry) EraseNode(nid node.ID, reason message.ExitReason) int {
	r.mu.Lock()
	entries := r.nodes[nid]
	delete(r.nodes, nid)
	r.mu.Unlock()

	ordered := make([]*proxyEntry, 0, len(entries))
	for _, e := range entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })
	for _, e := range ordered {
		liveProxies.Dec()
		e.p.kill(reason)
	}
	return len(ordered)
}

// EraseAll kills every proxy, used on shutdown.
func (r *ProxyRegistry) EraseAll(reason message.ExitReason) int {
	r.mu.Lock()
	nodes := make([]node.ID, 0, len(r.nodes))
	for nid := range r.nodes {
		nodes = append(nodes, nid)
	}
	r.mu.Unlock()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Compare(nodes[j]) < 0 })
	total := 0
	for _, nid := range nodes {
		total += r.EraseNode(nid, reason)
	}
	return total
}

// Count returns the number of proxies of nid.
func (r *ProxyRegistry) Count(nid node.ID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.nodes[nid])
}
